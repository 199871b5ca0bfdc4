package arena

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestAllocateReturnsDistinctSlots(t *testing.T) {
	a := New[int](4, 0)

	s1 := a.Allocate()
	s2 := a.Allocate()

	assert.NotEqual(t, s1, s2)
	assert.Equal(t, 2, a.Len())
}

func TestDeallocateThenAllocateReusesSlot(t *testing.T) {
	a := New[int](4, 0)

	s1 := a.Allocate()
	*a.At(s1) = 42
	a.Deallocate(s1)
	require.Equal(t, 0, a.Len())

	s2 := a.Allocate()
	assert.Equal(t, s1, s2, "freed slot should be reused before growing")
	assert.Equal(t, 0, *a.At(s2), "reused record should be zeroed on reallocation")
}

func TestShrinkReclaimsTrailingEmptyChunk(t *testing.T) {
	a := New[int](2, 5*time.Millisecond)

	slots := make([]Slot, 4)
	for i := range slots {
		slots[i] = a.Allocate()
	}
	require.Len(t, a.chunks, 2)

	for _, s := range slots[2:] {
		a.Deallocate(s)
	}

	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return len(a.chunks) == 1
	}, 200*time.Millisecond, 5*time.Millisecond)
}

func TestConcurrentAllocateDeallocateStaysConsistent(t *testing.T) {
	a := New[int](8, 0)

	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			s := a.Allocate()
			a.Deallocate(s)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 0, a.Len())
}
