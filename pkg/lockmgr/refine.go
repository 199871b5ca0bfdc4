package lockmgr

import (
	"github.com/asterix-labs/lockmgr/pkg/arena"
	"github.com/asterix-labs/lockmgr/pkg/dberr"
	"github.com/asterix-labs/lockmgr/pkg/matrix"
)

// sameJobRefinement is the outcome of refineForSameJob: what a WAIT
// verdict from the raw matrix really means once the requesting job's own
// holder record on the resource is taken into account.
type sameJobRefinement struct {
	// action is GET (the job already holds exactly the requested mode),
	// CONV (the job holds some other mode and this is a genuine upgrade
	// attempt), or WAIT (no same-job holder exists at all - a real
	// foreign conflict).
	action matrix.Action

	// oldHolder is the requesting job's existing holder request on the
	// resource. Only meaningful when action is CONV.
	oldHolder arena.Slot

	// completeNow is true when, excluding the requester's own holder
	// record, every remaining (necessarily foreign) holder is compatible
	// with the requested mode - meaning the conversion can be completed
	// immediately rather than queued as an upgrader. Only meaningful when
	// action is CONV.
	completeNow bool

	// newMax is the resource's max mode once the conversion completes.
	// Only meaningful when completeNow is true.
	newMax matrix.Mode
}

// refineForSameJob is consulted whenever the raw matrix verdict for a
// request is WAIT. The source this is grounded on treats any same-job
// holder found in a different mode as an unconditional CONV and always
// requeues it as an upgrader, even once every foreign holder has drained
// - a gap that leaves a lone converting holder waiting forever, since the
// resource's max mode never stops reflecting its own weaker hold. This
// version instead folds every OTHER holder's mode into othersMax,
// excluding the requester's own record, so a conversion that has become
// viable (every remaining holder is foreign-compatible) is recognized and
// completed in the same pass rather than requeued.
func (m *Manager) refineForSameJob(resourceID, jobSlot arena.Slot, requested matrix.Mode) sameJobRefinement {
	othersMax := matrix.NL
	oldHolder := arena.NoSlot
	oldMode := matrix.NL

	for req := m.resArena.LastHolder(resourceID); req != arena.NoSlot; req = m.reqArena.NextRequest(req) {
		mode := m.reqArena.LockMode(req)
		if m.reqArena.JobSlot(req) == jobSlot {
			oldHolder = req
			oldMode = mode
			continue
		}
		// A foreign holder set that is already mutually incompatible is
		// an invariant violation elsewhere (recomputeMaxMode catches it);
		// here we simply fold what we can and let that surface later.
		if folded, err := matrix.Fold(othersMax, mode); err == nil {
			othersMax = folded
		}
	}

	if oldHolder == arena.NoSlot {
		return sameJobRefinement{action: matrix.WAIT}
	}
	if oldMode == requested {
		return sameJobRefinement{action: matrix.GET}
	}

	newMax, err := matrix.Fold(othersMax, requested)
	if err != nil {
		return sameJobRefinement{action: matrix.CONV, oldHolder: oldHolder, completeNow: false}
	}
	return sameJobRefinement{action: matrix.CONV, oldHolder: oldHolder, completeNow: true, newMax: newMax}
}

// completeConversion swaps a job's existing weaker holder record for a
// stronger one: the old holder is unlinked and deallocated, the new
// request takes its place as a holder, and the resource's max mode is set
// to the refinement's precomputed newMax. Called once refineForSameJob
// has reported completeNow.
func (m *Manager) completeConversion(resourceID, jobSlot, oldHolder, newReq arena.Slot, newMax matrix.Mode) {
	m.removeHolder(resourceID, jobSlot, oldHolder)
	m.resArena.SetMaxMode(resourceID, newMax)
	m.addHolder(resourceID, jobSlot, newReq)
}

// recomputeMaxMode folds every remaining holder's mode into a running max
// via the action matrix, after a holder has just been removed. A WAIT
// outcome partway through folding can only mean the holder set itself was
// already invalid, which recomputeMaxMode reports as an invariant
// violation rather than papering over.
func (m *Manager) recomputeMaxMode(resourceID arena.Slot) (matrix.Mode, error) {
	running := matrix.NL
	for req := m.resArena.LastHolder(resourceID); req != arena.NoSlot; req = m.reqArena.NextRequest(req) {
		next, err := matrix.Fold(running, m.reqArena.LockMode(req))
		if err != nil {
			return matrix.NL, dberr.InvariantViolation("recomputeMaxMode", err.Error())
		}
		running = next
	}
	return running, nil
}
