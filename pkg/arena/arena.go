// Package arena provides a generic, slot-indexed record pool used by the
// lock manager in place of a general-purpose allocator. Records are
// addressed by opaque 64-bit slot ids rather than pointers, so that the
// resource, request, and job graphs described in the lock manager's data
// model can be built entirely out of integers - safe to compare, log, and
// store inside other records without aliasing concerns.
package arena

import (
	"time"

	"github.com/sasha-s/go-deadlock"
)

// Slot is an opaque identifier for a record allocated out of an Arena.
// Slots are never negative except for the NoSlot sentinel.
type Slot int64

// NoSlot is the sentinel value meaning "no record".
const NoSlot Slot = -1

const defaultChunkSize = 256

type chunk[T any] struct {
	slots []T
	live  int
}

// Arena allocates fixed-shape records of type T, returning stable Slot
// ids. Allocate and Deallocate are safe for concurrent use. Field access
// on an allocated slot's record is NOT internally synchronized: callers
// must serialize access to a given slot's fields themselves, typically
// through a resource group's latch or the job arena's own monitor.
type Arena[T any] struct {
	mu        deadlock.Mutex
	chunkSize int
	chunks    []*chunk[T]
	free      []Slot

	shrinkAfter time.Duration
	shrinkTimer *time.Timer
	dirty       bool
}

// New creates an arena with the given chunk size (records per chunk) and
// shrink timer. A shrinkAfter of zero disables delayed reclamation - freed
// chunks are simply never returned to the system, which is always correct
// and is the right choice for short-lived arenas such as tests.
func New[T any](chunkSize int, shrinkAfter time.Duration) *Arena[T] {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Arena[T]{chunkSize: chunkSize, shrinkAfter: shrinkAfter}
}

func (a *Arena[T]) encode(chunkIdx, offset int) Slot {
	return Slot(chunkIdx)*Slot(a.chunkSize) + Slot(offset)
}

func (a *Arena[T]) decode(s Slot) (chunkIdx, offset int) {
	return int(s) / a.chunkSize, int(s) % a.chunkSize
}

// Allocate reserves a record and returns its slot. The record's fields
// hold the zero value of T until the caller populates them.
func (a *Arena[T]) Allocate() Slot {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		s := a.free[n-1]
		a.free = a.free[:n-1]
		c, _ := a.decode(s)
		a.chunks[c].live++
		return s
	}

	if len(a.chunks) == 0 || len(a.chunks[len(a.chunks)-1].slots) == a.chunkSize {
		a.chunks = append(a.chunks, &chunk[T]{slots: make([]T, 0, a.chunkSize)})
	}
	last := a.chunks[len(a.chunks)-1]
	var zero T
	last.slots = append(last.slots, zero)
	last.live++

	return a.encode(len(a.chunks)-1, len(last.slots)-1)
}

// Deallocate returns a slot to the free list, zeroing its record so that
// stale pointers embedded in it (e.g. Next chains) cannot be observed by a
// future reuse before the caller re-initializes the record.
func (a *Arena[T]) Deallocate(s Slot) {
	a.mu.Lock()
	c, off := a.decode(s)
	var zero T
	a.chunks[c].slots[off] = zero
	a.chunks[c].live--
	a.free = append(a.free, s)
	a.dirty = true
	a.mu.Unlock()

	a.scheduleShrink()
}

// At returns a pointer to the record for a slot. The pointer is stable
// for the lifetime of the slot (chunks are never moved, only trimmed from
// the tail), but the caller is responsible for synchronizing reads and
// writes through it.
func (a *Arena[T]) At(s Slot) *T {
	a.mu.Lock()
	c := a.chunks[int(s)/a.chunkSize]
	a.mu.Unlock()
	return &c.slots[int(s)%a.chunkSize]
}

// scheduleShrink arms (or re-arms) the shrink timer. It fires once after
// shrinkAfter of inactivity following the most recent deallocation and
// attempts to trim wholly-free trailing chunks.
func (a *Arena[T]) scheduleShrink() {
	if a.shrinkAfter <= 0 {
		return
	}

	a.mu.Lock()
	if a.shrinkTimer != nil {
		a.shrinkTimer.Stop()
	}
	a.shrinkTimer = time.AfterFunc(a.shrinkAfter, a.shrink)
	a.mu.Unlock()
}

// shrink drops trailing chunks that are entirely free, pruning the
// corresponding entries out of the free list. It never touches a chunk
// that still has live records, and it never touches a chunk that is not
// at the tail, since slot ids encode a chunk's position and must stay
// stable for the lifetime of any record still allocated in an earlier
// chunk.
func (a *Arena[T]) shrink() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.dirty {
		return
	}
	a.dirty = false

	for len(a.chunks) > 0 {
		last := a.chunks[len(a.chunks)-1]
		if last.live != 0 {
			break
		}
		lastIdx := len(a.chunks) - 1
		a.chunks = a.chunks[:lastIdx]

		pruned := a.free[:0]
		for _, s := range a.free {
			c, _ := a.decode(s)
			if c != lastIdx {
				pruned = append(pruned, s)
			}
		}
		a.free = pruned
	}
}

// Len reports the number of live (allocated, not yet deallocated) records.
// Intended for diagnostics (PrettyPrint) and tests, not the hot path.
func (a *Arena[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	live := 0
	for _, c := range a.chunks {
		live += c.live
	}
	return live
}
