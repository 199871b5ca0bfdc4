package arena

import (
	"time"

	"github.com/asterix-labs/lockmgr/pkg/matrix"
)

// ResourceRecord is one lockable identity: either a dataset (PKHash ==
// NoPKHash) or an entity within a dataset.
type ResourceRecord struct {
	DatasetID int32
	PKHash    int64
	MaxMode   matrix.Mode

	Next Slot // intra-group singly-linked chain pointer

	LastHolder    Slot // head of the holder request list (LIFO)
	FirstWaiter   Slot // head of the waiter request list (FIFO, appended at tail)
	FirstUpgrader Slot // head of the upgrader request list (FIFO, appended at tail)
}

// NoPKHash marks a resource record as identifying a dataset itself,
// rather than an entity within it.
const NoPKHash int64 = -1

// ResourceArena is the Arena specialization for ResourceRecord.
type ResourceArena struct {
	*Arena[ResourceRecord]
}

// NewResourceArena creates an empty resource arena.
func NewResourceArena(shrinkAfter time.Duration) *ResourceArena {
	return &ResourceArena{Arena: New[ResourceRecord](defaultChunkSize, shrinkAfter)}
}

func (a *ResourceArena) DatasetID(s Slot) int32     { return a.At(s).DatasetID }
func (a *ResourceArena) PKHash(s Slot) int64        { return a.At(s).PKHash }
func (a *ResourceArena) MaxMode(s Slot) matrix.Mode { return a.At(s).MaxMode }
func (a *ResourceArena) Next(s Slot) Slot           { return a.At(s).Next }
func (a *ResourceArena) LastHolder(s Slot) Slot     { return a.At(s).LastHolder }
func (a *ResourceArena) FirstWaiter(s Slot) Slot    { return a.At(s).FirstWaiter }
func (a *ResourceArena) FirstUpgrader(s Slot) Slot  { return a.At(s).FirstUpgrader }

func (a *ResourceArena) SetMaxMode(s Slot, m matrix.Mode) { a.At(s).MaxMode = m }
func (a *ResourceArena) SetNext(s Slot, n Slot)           { a.At(s).Next = n }
func (a *ResourceArena) SetLastHolder(s Slot, h Slot)     { a.At(s).LastHolder = h }
func (a *ResourceArena) SetFirstWaiter(s Slot, w Slot)    { a.At(s).FirstWaiter = w }
func (a *ResourceArena) SetFirstUpgrader(s Slot, u Slot)  { a.At(s).FirstUpgrader = u }

// Init populates a freshly allocated resource record.
func (a *ResourceArena) Init(s Slot, datasetID int32, pkHash int64) {
	r := a.At(s)
	r.DatasetID = datasetID
	r.PKHash = pkHash
	r.MaxMode = matrix.NL
	r.Next = NoSlot
	r.LastHolder = NoSlot
	r.FirstWaiter = NoSlot
	r.FirstUpgrader = NoSlot
}

// Unused reports whether all three of a resource's queues are empty,
// meaning the record is eligible for reclamation.
func (a *ResourceArena) Unused(s Slot) bool {
	r := a.At(s)
	return r.LastHolder == NoSlot && r.FirstWaiter == NoSlot && r.FirstUpgrader == NoSlot
}
