package lockmgr

import (
	"github.com/asterix-labs/lockmgr/pkg/arena"
)

// The three resource-side queues (holders, waiters, upgraders) and the
// matching per-job chains are maintained in lockstep: every request that
// moves from one resource-side queue to another (waiter -> holder,
// upgrader -> holder) is unlinked from one per-job chain and relinked
// into another. The add*/remove* helpers below assume the caller already
// holds the group latch protecting the resource-side list being touched,
// and take m.jobArena.Monitor themselves around each per-job chain update;
// the *Locked helpers instead require the caller to hold the Monitor. A
// move between queues is a remove* call followed by an add* call, each
// taking the Monitor separately, under the one group latch.

// addHolder links req onto resource's holder list (LIFO) and onto job's
// holder chain.
func (m *Manager) addHolder(resourceID, jobSlot, req arena.Slot) {
	m.reqArena.SetNextRequest(req, m.resArena.LastHolder(resourceID))
	m.resArena.SetLastHolder(resourceID, req)

	m.jobArena.Monitor.Lock()
	defer m.jobArena.Monitor.Unlock()
	m.pushJobChainLocked(jobSlot, req, roleHolder)
}

// addWaiter appends req to resource's waiter list (FIFO) and job's waiter
// chain.
func (m *Manager) addWaiter(resourceID, jobSlot, req arena.Slot) {
	appendResourceChain(m.resArena.FirstWaiter, m.resArena.SetFirstWaiter, m.reqArena, resourceID, req)

	m.jobArena.Monitor.Lock()
	defer m.jobArena.Monitor.Unlock()
	m.pushJobChainLocked(jobSlot, req, roleWaiter)
}

// addUpgrader appends req to resource's upgrader list (FIFO) and job's
// upgrader chain.
func (m *Manager) addUpgrader(resourceID, jobSlot, req arena.Slot) {
	appendResourceChain(m.resArena.FirstUpgrader, m.resArena.SetFirstUpgrader, m.reqArena, resourceID, req)

	m.jobArena.Monitor.Lock()
	defer m.jobArena.Monitor.Unlock()
	m.pushJobChainLocked(jobSlot, req, roleUpgrader)
}

// appendResourceChain walks a resource-side singly-linked queue rooted at
// get()/set() and appends req at the tail, preserving FIFO order.
func appendResourceChain(get func(arena.Slot) arena.Slot, set func(arena.Slot, arena.Slot), reqArena *arena.RequestArena, resourceID, req arena.Slot) {
	head := get(resourceID)
	if head == arena.NoSlot {
		set(resourceID, req)
		return
	}
	cur := head
	for reqArena.NextRequest(cur) != arena.NoSlot {
		cur = reqArena.NextRequest(cur)
	}
	reqArena.SetNextRequest(cur, req)
}

// removeFromResourceChain unlinks req from a resource-side singly-linked
// queue rooted at get()/set(), returning true if found.
func removeFromResourceChain(get func(arena.Slot) arena.Slot, set func(arena.Slot, arena.Slot), reqArena *arena.RequestArena, resourceID, req arena.Slot) bool {
	head := get(resourceID)
	if head == arena.NoSlot {
		return false
	}
	if head == req {
		set(resourceID, reqArena.NextRequest(req))
		reqArena.SetNextRequest(req, arena.NoSlot)
		return true
	}
	prev := head
	cur := reqArena.NextRequest(head)
	for cur != arena.NoSlot {
		if cur == req {
			reqArena.SetNextRequest(prev, reqArena.NextRequest(cur))
			reqArena.SetNextRequest(cur, arena.NoSlot)
			return true
		}
		prev = cur
		cur = reqArena.NextRequest(cur)
	}
	return false
}

// role identifies which of a job's three per-role chains a request
// belongs to at a point in time.
type role int

const (
	roleHolder role = iota
	roleWaiter
	roleUpgrader
)

func (m *Manager) jobChainHead(jobSlot arena.Slot, r role) arena.Slot {
	switch r {
	case roleHolder:
		return m.jobArena.LastHolder(jobSlot)
	case roleWaiter:
		return m.jobArena.LastWaiter(jobSlot)
	default:
		return m.jobArena.LastUpgrader(jobSlot)
	}
}

func (m *Manager) setJobChainHead(jobSlot arena.Slot, r role, head arena.Slot) {
	switch r {
	case roleHolder:
		m.jobArena.SetLastHolder(jobSlot, head)
	case roleWaiter:
		m.jobArena.SetLastWaiter(jobSlot, head)
	default:
		m.jobArena.SetLastUpgrader(jobSlot, head)
	}
}

// pushJobChainLocked links req at the head of jobSlot's per-role chain.
// Caller must hold m.jobArena.Monitor.
func (m *Manager) pushJobChainLocked(jobSlot, req arena.Slot, r role) {
	head := m.jobChainHead(jobSlot, r)
	m.reqArena.SetPrevJobRequest(req, arena.NoSlot)
	m.reqArena.SetNextJobRequest(req, head)
	if head != arena.NoSlot {
		m.reqArena.SetPrevJobRequest(head, req)
	}
	m.setJobChainHead(jobSlot, r, req)
}

// removeFromJobChainLocked unlinks req from jobSlot's per-role chain.
// Caller must hold m.jobArena.Monitor.
func (m *Manager) removeFromJobChainLocked(jobSlot, req arena.Slot, r role) {
	prev := m.reqArena.PrevJobRequest(req)
	next := m.reqArena.NextJobRequest(req)

	if prev != arena.NoSlot {
		m.reqArena.SetNextJobRequest(prev, next)
	} else {
		m.setJobChainHead(jobSlot, r, next)
	}
	if next != arena.NoSlot {
		m.reqArena.SetPrevJobRequest(next, prev)
	}

	m.reqArena.SetPrevJobRequest(req, arena.NoSlot)
	m.reqArena.SetNextJobRequest(req, arena.NoSlot)
}

// removeHolder unlinks req from resource's holder list and jobSlot's
// holder chain, and deallocates the request record. The group latch must
// be held.
func (m *Manager) removeHolder(resourceID, jobSlot, req arena.Slot) {
	removeFromResourceChain(m.resArena.LastHolder, m.resArena.SetLastHolder, m.reqArena, resourceID, req)

	m.jobArena.Monitor.Lock()
	m.removeFromJobChainLocked(jobSlot, req, roleHolder)
	m.jobArena.Monitor.Unlock()

	m.reqArena.Deallocate(req)
}

// removeWaiter unlinks req from resource's waiter list and jobSlot's
// waiter chain, without deallocating it - the caller reclassifies it
// next (usually into a holder).
func (m *Manager) removeWaiter(resourceID, jobSlot, req arena.Slot) {
	removeFromResourceChain(m.resArena.FirstWaiter, m.resArena.SetFirstWaiter, m.reqArena, resourceID, req)

	m.jobArena.Monitor.Lock()
	m.removeFromJobChainLocked(jobSlot, req, roleWaiter)
	m.jobArena.Monitor.Unlock()
}

// removeUpgrader unlinks req from resource's upgrader list and jobSlot's
// upgrader chain, without deallocating it.
func (m *Manager) removeUpgrader(resourceID, jobSlot, req arena.Slot) {
	removeFromResourceChain(m.resArena.FirstUpgrader, m.resArena.SetFirstUpgrader, m.reqArena, resourceID, req)

	m.jobArena.Monitor.Lock()
	m.removeFromJobChainLocked(jobSlot, req, roleUpgrader)
	m.jobArena.Monitor.Unlock()
}
