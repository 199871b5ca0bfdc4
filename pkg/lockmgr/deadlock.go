package lockmgr

import "github.com/asterix-labs/lockmgr/pkg/arena"

// introducesDeadlock decides whether requesterJobSlot is about to wait on
// a cycle that eventually waits back on itself, were it to join
// resourceID's waiters. The wait-for relation walked here is: job J waits
// on job K if J is about to block on a resource K currently holds. Recursion
// follows every holder of resourceID into that holder's own outstanding
// waits (both plain waiters and upgraders - an upgrader is blocked exactly
// like a waiter, just against a resource it already partially holds).
//
// The visited set is not part of the source this is modeled on, which
// argues informally that the wait-for graph is acyclic in the absence of a
// real deadlock and so needs no memoization. That argument only holds for
// a snapshot taken under one latch; here the walk crosses into other jobs'
// chains one at a time; without memoization a diamond in the wait-for
// graph (two jobs both waiting on a third) would be walked exponentially,
// so resourceIDs already visited in this call are skipped.
func (m *Manager) introducesDeadlock(resourceID, requesterJobSlot arena.Slot) bool {
	visited := make(map[arena.Slot]bool)
	return m.introducesDeadlockRec(resourceID, requesterJobSlot, visited)
}

func (m *Manager) introducesDeadlockRec(resourceID, requesterJobSlot arena.Slot, visited map[arena.Slot]bool) bool {
	if visited[resourceID] {
		return false
	}
	visited[resourceID] = true

	for h := m.resArena.LastHolder(resourceID); h != arena.NoSlot; h = m.reqArena.NextRequest(h) {
		holderJob := m.reqArena.JobSlot(h)
		if holderJob == requesterJobSlot {
			return true
		}

		for _, waitedOn := range m.jobWaitTargets(holderJob) {
			if m.introducesDeadlockRec(waitedOn, requesterJobSlot, visited) {
				return true
			}
		}
	}
	return false
}

// jobWaitTargets returns every resource jobSlot is currently blocked on,
// across its waiter and upgrader chains, under the job arena's monitor.
func (m *Manager) jobWaitTargets(jobSlot arena.Slot) []arena.Slot {
	m.jobArena.Monitor.Lock()
	defer m.jobArena.Monitor.Unlock()

	var targets []arena.Slot
	for w := m.jobArena.LastWaiter(jobSlot); w != arena.NoSlot; w = m.reqArena.NextJobRequest(w) {
		targets = append(targets, m.reqArena.ResourceID(w))
	}
	for w := m.jobArena.LastUpgrader(jobSlot); w != arena.NoSlot; w = m.reqArena.NextJobRequest(w) {
		targets = append(targets, m.reqArena.ResourceID(w))
	}
	return targets
}
