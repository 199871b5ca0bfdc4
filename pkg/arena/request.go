package arena

import (
	"time"

	"github.com/asterix-labs/lockmgr/pkg/matrix"
)

// RequestRecord is one outstanding lock acquisition attempt: held,
// waiting, or converting. A request is linked into exactly one
// resource-side queue (holders XOR waiters XOR upgraders) via
// NextRequest, and into exactly one per-job chain of the matching role
// via PrevJobRequest/NextJobRequest.
type RequestRecord struct {
	ResourceID Slot
	JobSlot    Slot
	LockMode   matrix.Mode

	NextRequest Slot // next in the resource-side queue

	PrevJobRequest Slot // doubly-linked chain among this job's requests of the same role
	NextJobRequest Slot
}

// RequestArena is the Arena specialization for RequestRecord.
type RequestArena struct {
	*Arena[RequestRecord]
}

// NewRequestArena creates an empty request arena.
func NewRequestArena(shrinkAfter time.Duration) *RequestArena {
	return &RequestArena{Arena: New[RequestRecord](defaultChunkSize, shrinkAfter)}
}

func (a *RequestArena) ResourceID(s Slot) Slot        { return a.At(s).ResourceID }
func (a *RequestArena) JobSlot(s Slot) Slot           { return a.At(s).JobSlot }
func (a *RequestArena) LockMode(s Slot) matrix.Mode   { return a.At(s).LockMode }
func (a *RequestArena) NextRequest(s Slot) Slot       { return a.At(s).NextRequest }
func (a *RequestArena) PrevJobRequest(s Slot) Slot    { return a.At(s).PrevJobRequest }
func (a *RequestArena) NextJobRequest(s Slot) Slot    { return a.At(s).NextJobRequest }

func (a *RequestArena) SetLockMode(s Slot, m matrix.Mode)  { a.At(s).LockMode = m }
func (a *RequestArena) SetNextRequest(s Slot, n Slot)      { a.At(s).NextRequest = n }
func (a *RequestArena) SetPrevJobRequest(s Slot, p Slot)   { a.At(s).PrevJobRequest = p }
func (a *RequestArena) SetNextJobRequest(s Slot, n Slot)   { a.At(s).NextJobRequest = n }

// Init populates a freshly allocated request record.
func (a *RequestArena) Init(s, resourceID, jobSlot Slot, mode matrix.Mode) {
	r := a.At(s)
	r.ResourceID = resourceID
	r.JobSlot = jobSlot
	r.LockMode = mode
	r.NextRequest = NoSlot
	r.PrevJobRequest = NoSlot
	r.NextJobRequest = NoSlot
}
