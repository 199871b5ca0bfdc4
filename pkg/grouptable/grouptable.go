// Package grouptable implements the fixed-size, bucketed resource group
// table the lock manager latches against. A group's identity, and
// therefore its latch, is stable for the lifetime of the manager: groups
// are never resized, and hash collisions are resolved inside each group's
// resource chain rather than by growing the table.
package grouptable

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/asterix-labs/lockmgr/pkg/arena"
	"github.com/sasha-s/go-deadlock"
)

// DefaultSize is the number of groups a table is given when the caller
// does not specify one.
const DefaultSize = 1024

// Group owns the latch guarding every resource chained into it, plus the
// condition variable requesters block on while waiting or converting. The
// read side of a read-write lock is never exercised anywhere in this
// design - every operation that touches a group's queues mutates
// something - so Group uses a plain mutex rather than sync.RWMutex.
type Group struct {
	latch         deadlock.Mutex
	cond          *sync.Cond
	firstResource atomic.Int64 // holds an arena.Slot; read without the latch for diagnostics only
}

func newGroup() *Group {
	g := &Group{}
	g.firstResource.Store(int64(arena.NoSlot))
	g.cond = sync.NewCond(&g.latch)
	return g
}

// Acquire takes the group's latch.
func (g *Group) Acquire() { g.latch.Lock() }

// Release releases the group's latch.
func (g *Group) Release() { g.latch.Unlock() }

// FirstResource returns the head of the group's resource chain. The
// latch must be held for this value to be used to walk the chain safely;
// it is exported unguarded only so diagnostics can sample it.
func (g *Group) FirstResource() arena.Slot {
	return arena.Slot(g.firstResource.Load())
}

// SetFirstResource updates the head of the group's resource chain. Callers
// must hold the latch.
func (g *Group) SetFirstResource(s arena.Slot) {
	g.firstResource.Store(int64(s))
}

// Await releases the latch and blocks until WakeAll is called or ctx is
// canceled, then re-acquires the latch before returning. Spurious wakeups
// are possible and expected: callers must re-evaluate whatever condition
// they were waiting on.
//
// The latch must be held on entry, and is held again on every return path
// (including the ctx.Err() path), matching sync.Cond.Wait's contract.
func (g *Group) Await(ctx context.Context) error {
	if ctx == nil {
		g.cond.Wait()
		return nil
	}

	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		g.latch.Lock()
		close(done)
		g.cond.Broadcast()
		g.latch.Unlock()
	})
	defer stop()

	g.cond.Wait()

	select {
	case <-done:
		return ctx.Err()
	default:
		return nil
	}
}

// WakeAll broadcasts to every goroutine parked in Await on this group. The
// latch must be held by the caller (Unlock's max-mode recompute step wakes
// the group while still holding it, so waiters re-evaluate the matrix
// under a fresh latch acquisition rather than racing the signaler).
func (g *Group) WakeAll() {
	g.cond.Broadcast()
}

// Table is the fixed-size array of resource groups the lock manager
// hashes every request into. Its size is fixed at construction and never
// changes afterward - a group's latch address must stay valid for the
// lifetime of the manager.
type Table struct {
	groups []*Group
}

// New constructs a table with size groups pre-allocated. A size of zero
// or less falls back to DefaultSize.
func New(size int) *Table {
	if size <= 0 {
		size = DefaultSize
	}
	t := &Table{groups: make([]*Group, size)}
	for i := range t.groups {
		t.groups[i] = newGroup()
	}
	return t
}

// Get returns the group a (datasetID, entityHash) pair hashes into.
// entityHash should be -1 for a dataset-level resource, matching the
// convention used throughout the lock manager.
func (t *Table) Get(datasetID int32, entityHash int64) *Group {
	h := int64(datasetID) ^ entityHash
	if h < 0 {
		h = -h
	}
	return t.groups[h%int64(len(t.groups))]
}

// All returns every group in table order, for diagnostics.
func (t *Table) All() []*Group {
	return t.groups[:]
}
