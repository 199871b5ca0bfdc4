package lockmgr

import (
	"github.com/asterix-labs/lockmgr/pkg/arena"
	"github.com/asterix-labs/lockmgr/pkg/grouptable"
)

// findOrAllocJobSlot resolves jobID to its arena slot, allocating one on
// first use. Concurrent first-touches race to allocate; the loser
// deallocates its candidate slot and returns the winner's, mirroring the
// compare-and-swap resolution the source uses on its job-id map.
func (m *Manager) findOrAllocJobSlot(jobID int32) arena.Slot {
	m.jobArena.Monitor.Lock()
	if s, ok := m.jobIDMap[jobID]; ok {
		m.jobArena.Monitor.Unlock()
		return s
	}
	m.jobArena.Monitor.Unlock()

	candidate := m.jobArena.Allocate()
	m.jobArena.Init(candidate, jobID)

	m.jobArena.Monitor.Lock()
	defer m.jobArena.Monitor.Unlock()
	if s, ok := m.jobIDMap[jobID]; ok {
		m.jobArena.Deallocate(candidate)
		return s
	}
	m.jobIDMap[jobID] = candidate
	return candidate
}

// lookupJobSlot resolves jobID to its arena slot without allocating.
func (m *Manager) lookupJobSlot(jobID int32) (arena.Slot, bool) {
	m.jobArena.Monitor.Lock()
	defer m.jobArena.Monitor.Unlock()
	s, ok := m.jobIDMap[jobID]
	return s, ok
}

// findOrAllocResourceSlot scans a group's resource chain for a matching
// (datasetID, pkHash) identity, allocating and linking a new resource
// record on miss. The caller must hold the group's latch.
func (m *Manager) findOrAllocResourceSlot(g *grouptable.Group, datasetID int32, pkHash int64) arena.Slot {
	for s := g.FirstResource(); s != arena.NoSlot; s = m.resArena.Next(s) {
		if m.resArena.DatasetID(s) == datasetID && m.resArena.PKHash(s) == pkHash {
			return s
		}
	}

	s := m.resArena.Allocate()
	m.resArena.Init(s, datasetID, pkHash)
	m.resArena.SetNext(s, g.FirstResource())
	g.SetFirstResource(s)
	return s
}

// unlinkResourceFromGroup removes a resource slot from its group's chain.
// The caller must hold the group's latch.
func (m *Manager) unlinkResourceFromGroup(g *grouptable.Group, resourceID arena.Slot) {
	head := g.FirstResource()
	if head == resourceID {
		g.SetFirstResource(m.resArena.Next(resourceID))
		return
	}
	prev := head
	cur := m.resArena.Next(head)
	for cur != arena.NoSlot {
		if cur == resourceID {
			m.resArena.SetNext(prev, m.resArena.Next(cur))
			return
		}
		prev = cur
		cur = m.resArena.Next(cur)
	}
}
