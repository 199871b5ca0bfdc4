package txn

import "github.com/asterix-labs/lockmgr/pkg/dscache"

// Worker stands in for the thread-local storage the lock manager's
// source language provides and Go does not. A caller that pulls jobs from
// a pool constructs one Worker per goroutine (or OS thread) that will
// drive jobs through the lock manager, and reuses it across every job
// that goroutine subsequently handles - that reuse is what makes the
// dataset lock cache pay off. A fresh Worker per job is always correct,
// just always a cache miss.
type Worker struct {
	Cache *dscache.Cache
}

// NewWorker creates a worker with an empty dataset lock cache.
func NewWorker() *Worker {
	return &Worker{Cache: dscache.New()}
}
