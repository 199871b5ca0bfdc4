// Package txn provides the transaction-side context the lock manager
// depends on. It is a deliberately narrow slice of what a full
// transaction subsystem would track - lifecycle state and a timeout flag
// - since everything else (dirty pages, LSNs, statistics) belongs to
// collaborators outside the lock manager's concern.
package txn

import (
	"fmt"
	"sync"

	"github.com/asterix-labs/lockmgr/pkg/dscache"
)

// State is the lifecycle state of a job as observed by the lock manager.
type State int

const (
	Active State = iota
	Aborted
	Committed
)

func (s State) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Aborted:
		return "ABORTED"
	case Committed:
		return "COMMITTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Context is everything the lock manager needs from a transaction. A full
// transaction subsystem's context type is expected to satisfy this
// interface alongside its own, much larger, feature set.
type Context interface {
	JobID() int32
	State() State
	IsTimeout() bool
	SetTimeout(bool)
}

// TxnContext is the concrete Context the lock manager's own tests use,
// and a reasonable starting point for a real transaction subsystem to
// embed.
type TxnContext struct {
	jobID  int32
	worker *Worker

	mu       sync.RWMutex
	state    State
	timedOut bool
}

// NewContext creates a job context in the Active state with no worker
// attached - every dataset-lock cache lookup for it is a guaranteed miss,
// which is always correct, just never fast.
func NewContext(jobID int32) *TxnContext {
	return &TxnContext{jobID: jobID, state: Active}
}

// NewContextWithWorker creates a job context in the Active state that
// shares the given worker's dataset lock cache. Callers that pull jobs
// from a pool should construct one Worker per goroutine and pass it to
// every job context that goroutine subsequently drives.
func NewContextWithWorker(jobID int32, worker *Worker) *TxnContext {
	return &TxnContext{jobID: jobID, state: Active, worker: worker}
}

// Cache returns the dataset lock cache of this context's worker, or nil
// if none was attached. The lock manager treats a nil cache as an
// unconditional miss.
func (t *TxnContext) Cache() *dscache.Cache {
	if t.worker == nil {
		return nil
	}
	return t.worker.Cache
}

func (t *TxnContext) JobID() int32 { return t.jobID }

func (t *TxnContext) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// SetState transitions the job's lifecycle state.
func (t *TxnContext) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

func (t *TxnContext) IsTimeout() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.timedOut
}

func (t *TxnContext) SetTimeout(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timedOut = v
}

func (t *TxnContext) String() string {
	return fmt.Sprintf("Job %d [state=%s timeout=%v]", t.jobID, t.State(), t.IsTimeout())
}
