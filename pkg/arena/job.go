package arena

import (
	"time"

	"github.com/sasha-s/go-deadlock"
)

// JobRecord is one active job's view onto its own requests: the heads of
// its per-role holder, waiter, and upgrader chains.
type JobRecord struct {
	JobID int32

	LastHolder    Slot // head of this job's holder chain, across all resources
	LastWaiter    Slot // head of this job's waiter chain
	LastUpgrader  Slot // head of this job's upgrader chain
}

// JobArena is the Arena specialization for JobRecord. Unlike the resource
// and request arenas, whose per-slot field mutations are serialized by a
// resource group's latch, a job's chains can be touched from the context
// of any resource group (a job typically holds locks scattered across many
// groups), so JobArena additionally exposes a single process-wide Monitor
// that callers must hold around any read or write of a job's chains -
// including reads of another job's waiter chain performed by the deadlock
// detector.
type JobArena struct {
	*Arena[JobRecord]
	Monitor deadlock.Mutex
}

// NewJobArena creates an empty job arena.
func NewJobArena(shrinkAfter time.Duration) *JobArena {
	return &JobArena{Arena: New[JobRecord](defaultChunkSize, shrinkAfter)}
}

func (a *JobArena) JobID(s Slot) int32     { return a.At(s).JobID }
func (a *JobArena) LastHolder(s Slot) Slot { return a.At(s).LastHolder }
func (a *JobArena) LastWaiter(s Slot) Slot { return a.At(s).LastWaiter }
func (a *JobArena) LastUpgrader(s Slot) Slot { return a.At(s).LastUpgrader }

func (a *JobArena) SetLastHolder(s Slot, h Slot)   { a.At(s).LastHolder = h }
func (a *JobArena) SetLastWaiter(s Slot, w Slot)   { a.At(s).LastWaiter = w }
func (a *JobArena) SetLastUpgrader(s Slot, u Slot) { a.At(s).LastUpgrader = u }

// Init populates a freshly allocated job record.
func (a *JobArena) Init(s Slot, jobID int32) {
	r := a.At(s)
	r.JobID = jobID
	r.LastHolder = NoSlot
	r.LastWaiter = NoSlot
	r.LastUpgrader = NoSlot
}

// Unused reports whether a job has no requests of any role left, meaning
// its record is eligible for reclamation at ReleaseLocks.
func (a *JobArena) Unused(s Slot) bool {
	r := a.At(s)
	return r.LastHolder == NoSlot && r.LastWaiter == NoSlot && r.LastUpgrader == NoSlot
}
