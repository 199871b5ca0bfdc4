// Package dscache implements the per-worker dataset-lock cache: a memo
// that lets the lock manager skip a redundant recursive dataset-level
// intention-lock acquisition when the same job has already taken it on
// this worker.
//
// Go has no first-class thread-local storage, so unlike the source this
// design is modeled on, the cache here is not a package-level singleton
// keyed off the calling goroutine. It is an explicit value a caller
// constructs once per goroutine that pulls jobs from a pool and threads
// through every job it drives on that goroutine.
package dscache

import "github.com/asterix-labs/lockmgr/pkg/matrix"

// Cache memoizes, for the single job currently in flight on its owning
// goroutine, which dataset-level intention locks have already been taken.
// It is advisory: a cache miss (including a fresh, empty Cache) is always
// safe, just slower - the lock manager falls back to acquiring the
// dataset-level lock through the normal path.
type Cache struct {
	jobID   int32
	hasJob  bool
	modes   map[int32]matrix.Mode
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{modes: make(map[int32]matrix.Mode)}
}

// Contains reports whether the cache already recorded that jobID holds an
// intention lock of exactly mode on datasetID. A job-id mismatch against
// whatever job the cache last observed clears the cache and reports a
// miss, since the cache only ever tracks a single, currently-running job.
func (c *Cache) Contains(jobID, datasetID int32, mode matrix.Mode) bool {
	if !c.hasJob || c.jobID != jobID {
		c.reset(jobID)
		return false
	}
	got, ok := c.modes[datasetID]
	return ok && got == mode
}

// Put records that jobID now holds an intention lock of mode on
// datasetID. If the cache was tracking a different job, it is cleared
// first.
func (c *Cache) Put(jobID, datasetID int32, mode matrix.Mode) {
	if !c.hasJob || c.jobID != jobID {
		c.reset(jobID)
	}
	c.modes[datasetID] = mode
}

func (c *Cache) reset(jobID int32) {
	c.jobID = jobID
	c.hasJob = true
	clear(c.modes)
}
