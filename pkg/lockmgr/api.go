package lockmgr

import (
	"context"
	"fmt"

	"github.com/asterix-labs/lockmgr/pkg/arena"
	"github.com/asterix-labs/lockmgr/pkg/dberr"
	"github.com/asterix-labs/lockmgr/pkg/grouptable"
	"github.com/asterix-labs/lockmgr/pkg/logging"
	"github.com/asterix-labs/lockmgr/pkg/matrix"
	"github.com/asterix-labs/lockmgr/pkg/txn"
)

// Lock acquires mode on (datasetID, entityHash) for job, blocking until
// granted, the job is aborted or times out, a deadlock forces it to
// abort, or ctx is canceled. entityHash of arena.NoPKHash (-1) denotes a
// dataset-level request; any other value requests an entity within the
// dataset, and first ensures the implied dataset-level intention lock is
// held.
func (m *Manager) Lock(ctx context.Context, datasetID int32, entityHash int64, mode matrix.Mode, job txn.Context) error {
	if err := validateJob(job, "Lock"); err != nil {
		return err
	}

	if entityHash != arena.NoPKHash {
		if err := m.ensureDatasetIntentionLock(ctx, datasetID, mode, job); err != nil {
			return err
		}
	}

	jobSlot := m.findOrAllocJobSlot(job.JobID())
	g := m.table.Get(datasetID, entityHash)
	g.Acquire()
	defer g.Release()

	resourceID := m.findOrAllocResourceSlot(g, datasetID, entityHash)
	req := m.reqArena.Allocate()
	m.reqArena.Init(req, resourceID, jobSlot, mode)
	log := logging.WithLock(job.JobID(), resourceKey(datasetID, entityHash))

	for {
		action := matrix.Resolve(m.resArena.MaxMode(resourceID), mode)
		var ref sameJobRefinement
		if action == matrix.WAIT {
			ref = m.refineForSameJob(resourceID, jobSlot, mode)
			action = ref.action
		}

		switch action {
		case matrix.GET:
			m.addHolder(resourceID, jobSlot, req)
			log.Debug("lock granted", "mode", mode)
			return nil

		case matrix.UPD:
			m.resArena.SetMaxMode(resourceID, mode)
			m.addHolder(resourceID, jobSlot, req)
			log.Debug("lock granted, max mode raised", "mode", mode)
			return nil

		case matrix.CONV:
			if ref.completeNow {
				m.completeConversion(resourceID, jobSlot, ref.oldHolder, req, ref.newMax)
				log.Debug("lock converted, no remaining conflicting holders", "mode", mode)
				return nil
			}

			m.addUpgrader(resourceID, jobSlot, req)
			log.Debug("lock converting, waiting for compatible holders to drain", "mode", mode)
			if err := g.Await(ctx); err != nil {
				m.removeUpgrader(resourceID, jobSlot, req)
				m.releaseResourceIfIdleLocked(resourceID, g)
				m.reqArena.Deallocate(req)
				return dberr.Interrupted(job.JobID(), "Lock", err)
			}
			m.removeUpgrader(resourceID, jobSlot, req)
			if err := recheckAfterWake(job, "Lock"); err != nil {
				m.releaseResourceIfIdleLocked(resourceID, g)
				m.reqArena.Deallocate(req)
				return err
			}

		default: // matrix.WAIT
			if m.introducesDeadlock(resourceID, jobSlot) {
				log.Warn("deadlock detected, aborting requester", "mode", mode)
				m.releaseResourceIfIdleLocked(resourceID, g)
				m.reqArena.Deallocate(req)
				return requestAbort(job, "Lock", fmt.Sprintf("acquiring %s on dataset=%d pk=%d would deadlock", mode, datasetID, entityHash))
			}
			m.addWaiter(resourceID, jobSlot, req)
			log.Debug("lock waiting", "mode", mode)
			if err := g.Await(ctx); err != nil {
				m.removeWaiter(resourceID, jobSlot, req)
				m.releaseResourceIfIdleLocked(resourceID, g)
				m.reqArena.Deallocate(req)
				return dberr.Interrupted(job.JobID(), "Lock", err)
			}
			m.removeWaiter(resourceID, jobSlot, req)
			if err := recheckAfterWake(job, "Lock"); err != nil {
				m.releaseResourceIfIdleLocked(resourceID, g)
				m.reqArena.Deallocate(req)
				return err
			}
		}
	}
}

// TryLock attempts to acquire mode on (datasetID, entityHash) for job
// without ever blocking. It performs exactly one evaluation of the action
// matrix (refined for same-job holders): only GET and UPD succeed. It
// never runs the deadlock check and never joins the waiter or upgrader
// queues - a failed TryLock leaves no trace on the resource beyond a
// resource record that is cleaned up immediately if nothing else
// references it.
func (m *Manager) TryLock(ctx context.Context, datasetID int32, entityHash int64, mode matrix.Mode, job txn.Context) (bool, error) {
	if err := validateJob(job, "TryLock"); err != nil {
		return false, err
	}

	if entityHash != arena.NoPKHash {
		// The implied dataset-level intention lock is also only tried, so
		// that an entity-level TryLock never blocks on it.
		intention := matrix.IS
		if mode == matrix.X {
			intention = matrix.IX
		}
		cache := cacheOf(job)
		if cache == nil || !cache.Contains(job.JobID(), datasetID, intention) {
			ok, err := m.TryLock(ctx, datasetID, arena.NoPKHash, intention, job)
			if err != nil || !ok {
				return false, err
			}
			if cache != nil {
				cache.Put(job.JobID(), datasetID, intention)
			}
		}
	}

	jobSlot := m.findOrAllocJobSlot(job.JobID())
	g := m.table.Get(datasetID, entityHash)
	g.Acquire()
	defer g.Release()

	resourceID := m.findOrAllocResourceSlot(g, datasetID, entityHash)
	log := logging.WithLock(job.JobID(), resourceKey(datasetID, entityHash))

	action := matrix.Resolve(m.resArena.MaxMode(resourceID), mode)
	if action == matrix.WAIT {
		action = m.refineForSameJob(resourceID, jobSlot, mode).action
	}

	switch action {
	case matrix.GET:
		req := m.reqArena.Allocate()
		m.reqArena.Init(req, resourceID, jobSlot, mode)
		m.addHolder(resourceID, jobSlot, req)
		log.Debug("try-lock granted", "mode", mode)
		return true, nil

	case matrix.UPD:
		req := m.reqArena.Allocate()
		m.reqArena.Init(req, resourceID, jobSlot, mode)
		m.resArena.SetMaxMode(resourceID, mode)
		m.addHolder(resourceID, jobSlot, req)
		log.Debug("try-lock granted, max mode raised", "mode", mode)
		return true, nil

	default: // WAIT or CONV: TryLock never blocks and never converts
		m.releaseResourceIfIdleLocked(resourceID, g)
		log.Debug("try-lock refused", "mode", mode, "action", action)
		return false, nil
	}
}

// InstantLock acquires mode on (datasetID, entityHash) and immediately
// releases it, useful for probing a mode without holding it. It blocks
// exactly as Lock does while acquiring.
func (m *Manager) InstantLock(ctx context.Context, datasetID int32, entityHash int64, mode matrix.Mode, job txn.Context) error {
	if err := m.Lock(ctx, datasetID, entityHash, mode, job); err != nil {
		return err
	}
	return m.Unlock(datasetID, entityHash, job)
}

// InstantTryLock is the non-blocking counterpart of InstantLock: it never
// waits, and reports whether the probe succeeded.
func (m *Manager) InstantTryLock(ctx context.Context, datasetID int32, entityHash int64, mode matrix.Mode, job txn.Context) (bool, error) {
	ok, err := m.TryLock(ctx, datasetID, entityHash, mode, job)
	if err != nil || !ok {
		return ok, err
	}
	if err := m.Unlock(datasetID, entityHash, job); err != nil {
		return false, err
	}
	return true, nil
}

// Unlock releases the most recently acquired matching holder job holds on
// (datasetID, entityHash). It is an invariant violation to unlock a
// resource the job never locked, or a resource that no longer exists.
func (m *Manager) Unlock(datasetID int32, entityHash int64, job txn.Context) error {
	jobSlot, ok := m.lookupJobSlot(job.JobID())
	if !ok {
		return dberr.InvariantViolation("Unlock", fmt.Sprintf("job %d holds no locks", job.JobID()))
	}

	g := m.table.Get(datasetID, entityHash)
	g.Acquire()
	defer g.Release()

	return m.unlockResourceLocked(g, datasetID, entityHash, jobSlot, job.JobID())
}

// unlockResourceLocked implements Unlock's body once the caller's group
// latch is already held and the job slot already resolved. ReleaseLocks
// reuses it for every resource a terminating job releases.
func (m *Manager) unlockResourceLocked(g *grouptable.Group, datasetID int32, entityHash int64, jobSlot arena.Slot, jobID int32) error {
	resourceID := arena.NoSlot
	for s := g.FirstResource(); s != arena.NoSlot; s = m.resArena.Next(s) {
		if m.resArena.DatasetID(s) == datasetID && m.resArena.PKHash(s) == entityHash {
			resourceID = s
			break
		}
	}
	if resourceID == arena.NoSlot {
		return dberr.InvariantViolation("Unlock", fmt.Sprintf("no resource (dataset=%d, pk=%d)", datasetID, entityHash))
	}

	req := arena.NoSlot
	for r := m.resArena.LastHolder(resourceID); r != arena.NoSlot; r = m.reqArena.NextRequest(r) {
		if m.reqArena.JobSlot(r) == jobSlot {
			req = r
			break
		}
	}
	if req == arena.NoSlot {
		return dberr.InvariantViolation("Unlock", fmt.Sprintf("job %d holds no lock on (dataset=%d, pk=%d)", jobID, datasetID, entityHash))
	}

	m.removeHolder(resourceID, jobSlot, req)

	if m.resArena.Unused(resourceID) {
		m.unlinkResourceFromGroup(g, resourceID)
		m.resArena.Deallocate(resourceID)
		return nil
	}

	oldMax := m.resArena.MaxMode(resourceID)
	newMax, err := m.recomputeMaxMode(resourceID)
	if err != nil {
		return err
	}
	changed := newMax != oldMax
	if changed {
		m.resArena.SetMaxMode(resourceID, newMax)
	}
	// An unchanged max cannot unblock a plain waiter, which only cares
	// about the global max - but it can unblock a queued upgrader, whose
	// viability is judged excluding its own holder record (refine.go) and
	// so can change on any holder removal, not just one that moves the
	// max. Waking unconditionally when upgraders are queued costs a
	// spurious re-evaluation on the (rare) chains that have one.
	if changed || m.resArena.FirstUpgrader(resourceID) != arena.NoSlot {
		g.WakeAll()
	}
	return nil
}

// releaseResourceIfIdleLocked reclaims resourceID immediately if none of
// its three queues ended up populated - the case where findOrAlloc*
// created a resource record for a request that leaves without holding it
// (a refused TryLock, a Lock aborted for deadlock before it enqueued, or a
// Lock that left its waiter or upgrader queue on interruption or on an
// abort observed after waking).
func (m *Manager) releaseResourceIfIdleLocked(resourceID arena.Slot, g *grouptable.Group) {
	if m.resArena.Unused(resourceID) {
		m.unlinkResourceFromGroup(g, resourceID)
		m.resArena.Deallocate(resourceID)
	}
}

// ReleaseLocks releases every lock job holds, across every resource, in
// reverse acquisition order per resource, then deallocates the job's
// slot and removes it from the job-id map. It is a no-op for a job that
// never touched the lock manager.
func (m *Manager) ReleaseLocks(job txn.Context) {
	jobSlot, ok := m.lookupJobSlot(job.JobID())
	if !ok {
		return
	}

	for {
		m.jobArena.Monitor.Lock()
		req := m.jobArena.LastHolder(jobSlot)
		m.jobArena.Monitor.Unlock()
		if req == arena.NoSlot {
			break
		}

		resourceID := m.reqArena.ResourceID(req)
		datasetID := m.resArena.DatasetID(resourceID)
		pkHash := m.resArena.PKHash(resourceID)

		g := m.table.Get(datasetID, pkHash)
		g.Acquire()
		if err := m.unlockResourceLocked(g, datasetID, pkHash, jobSlot, job.JobID()); err != nil {
			logging.WithJob(job.JobID()).Warn("release encountered invariant violation", "error", err)
		}
		g.Release()
	}

	m.jobArena.Monitor.Lock()
	empty := m.jobArena.Unused(jobSlot)
	delete(m.jobIDMap, job.JobID())
	m.jobArena.Monitor.Unlock()

	if empty {
		m.jobArena.Deallocate(jobSlot)
	}
	logging.WithJob(job.JobID()).Debug("released all locks")
}
