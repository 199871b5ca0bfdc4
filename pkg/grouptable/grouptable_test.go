package grouptable

import (
	"context"
	"testing"
	"time"

	"github.com/asterix-labs/lockmgr/pkg/arena"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsSize(t *testing.T) {
	tbl := New(0)
	assert.Len(t, tbl.All(), DefaultSize)
}

func TestGetIsStableForSameKey(t *testing.T) {
	tbl := New(16)
	g1 := tbl.Get(3, 42)
	g2 := tbl.Get(3, 42)
	assert.Same(t, g1, g2)
}

func TestFirstResourceStartsEmpty(t *testing.T) {
	tbl := New(16)
	g := tbl.Get(3, -1)
	assert.Equal(t, arena.NoSlot, g.FirstResource())
}

func TestAwaitWakesOnWakeAll(t *testing.T) {
	tbl := New(4)
	g := tbl.Get(1, -1)

	ready := make(chan struct{})
	woken := make(chan struct{})
	go func() {
		g.Acquire()
		close(ready)
		_ = g.Await(nil)
		g.Release()
		close(woken)
	}()

	<-ready
	g.Acquire() // blocks until the goroutine has actually parked in Await
	g.WakeAll()
	g.Release()

	select {
	case <-woken:
	case <-time.After(time.Second):
		t.Fatal("Await never woke up")
	}
}

func TestAwaitReturnsErrorOnContextCancel(t *testing.T) {
	tbl := New(4)
	g := tbl.Get(1, -1)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	result := make(chan error, 1)

	go func() {
		g.Acquire()
		close(ready)
		result <- g.Await(ctx)
		g.Release()
	}()

	<-ready
	g.Acquire()
	g.Release()
	cancel()

	require.Eventually(t, func() bool {
		select {
		case err := <-result:
			assert.Error(t, err)
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
