package lockmgr

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/asterix-labs/lockmgr/pkg/matrix"
	"github.com/asterix-labs/lockmgr/pkg/txn"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := New(Config{GroupTableSize: 16})
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop(false, nil) })
	return m
}

func TestSimpleSharedCoexistence(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	j1 := txn.NewContext(1)
	j2 := txn.NewContext(2)

	require.NoError(t, m.Lock(ctx, 7, -1, matrix.S, j1))
	require.NoError(t, m.Lock(ctx, 7, -1, matrix.S, j2))

	g := m.table.Get(7, -1)
	g.Acquire()
	resourceID := m.findOrAllocResourceSlot(g, 7, -1)
	require.Equal(t, matrix.S, m.resArena.MaxMode(resourceID))
	g.Release()

	require.NoError(t, m.Unlock(7, -1, j1))
	require.NoError(t, m.Unlock(7, -1, j2))

	g.Acquire()
	require.Equal(t, int64(-1), int64(g.FirstResource()))
	g.Release()
}

func TestExclusiveBlocksShared(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	j1 := txn.NewContext(1)
	j2 := txn.NewContext(2)

	require.NoError(t, m.Lock(ctx, 7, -1, matrix.X, j1))

	ok, err := m.TryLock(ctx, 7, -1, matrix.S, j2)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Unlock(7, -1, j1))

	ok, err = m.TryLock(ctx, 7, -1, matrix.S, j2)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHierarchicalGrant(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	j1 := txn.NewContextWithWorker(1, txn.NewWorker())

	require.NoError(t, m.Lock(ctx, 3, 42, matrix.X, j1))
	require.True(t, j1.Cache().Contains(1, 3, matrix.IX))

	dg := m.table.Get(3, -1)
	dg.Acquire()
	dsResource := m.findOrAllocResourceSlot(dg, 3, -1)
	require.Equal(t, matrix.IX, m.resArena.MaxMode(dsResource))
	dg.Release()

	// A second entity lock on the same dataset should hit the cache and
	// only take the entity-level lock.
	require.NoError(t, m.Lock(ctx, 3, 99, matrix.X, j1))

	eg := m.table.Get(3, 99)
	eg.Acquire()
	eResource := m.findOrAllocResourceSlot(eg, 3, 99)
	require.Equal(t, matrix.X, m.resArena.MaxMode(eResource))
	eg.Release()
}

func TestUpgradeWaitsThenConverts(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	j1 := txn.NewContext(1)
	j2 := txn.NewContext(2)

	require.NoError(t, m.Lock(ctx, 7, -1, matrix.S, j1))
	require.NoError(t, m.Lock(ctx, 7, -1, matrix.S, j2))

	upgraded := make(chan error, 1)
	go func() {
		upgraded <- m.Lock(ctx, 7, -1, matrix.X, j1)
	}()

	require.Eventually(t, func() bool {
		g := m.table.Get(7, -1)
		g.Acquire()
		defer g.Release()
		resourceID := m.findOrAllocResourceSlot(g, 7, -1)
		return m.resArena.FirstUpgrader(resourceID) != -1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Unlock(7, -1, j2))

	select {
	case err := <-upgraded:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("upgrade never completed")
	}

	g := m.table.Get(7, -1)
	g.Acquire()
	resourceID := m.findOrAllocResourceSlot(g, 7, -1)
	require.Equal(t, matrix.X, m.resArena.MaxMode(resourceID))
	g.Release()
}

func TestDeadlockAbortsRequester(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	j1 := txn.NewContext(1)
	j2 := txn.NewContext(2)

	require.NoError(t, m.Lock(ctx, 100, -1, matrix.X, j1)) // J1 holds A
	require.NoError(t, m.Lock(ctx, 200, -1, matrix.X, j2)) // J2 holds B

	var eg errgroup.Group
	eg.Go(func() error {
		return m.Lock(ctx, 200, -1, matrix.X, j1) // J1 waits on B (held by J2)
	})

	require.Eventually(t, func() bool {
		g := m.table.Get(200, -1)
		g.Acquire()
		defer g.Release()
		resourceID := m.findOrAllocResourceSlot(g, 200, -1)
		return m.resArena.FirstWaiter(resourceID) != -1
	}, time.Second, 5*time.Millisecond)

	err := m.Lock(ctx, 100, -1, matrix.X, j2) // J2 waits on A (held by J1) -> cycle
	require.Error(t, err)
	require.True(t, j2.IsTimeout())

	require.NoError(t, m.Unlock(200, -1, j2)) // let J1's queued wait on B proceed
	require.NoError(t, eg.Wait())

	require.NoError(t, m.Unlock(200, -1, j1))
	require.NoError(t, m.Unlock(100, -1, j1))
}

func TestBulkRelease(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	j1 := txn.NewContext(1)
	other := txn.NewContext(999)

	require.NoError(t, m.Lock(ctx, 999, -1, matrix.S, other))

	modes := []matrix.Mode{matrix.S, matrix.X, matrix.IS, matrix.IX}
	for i := 0; i < 50; i++ {
		mode := modes[i%len(modes)]
		require.NoError(t, m.Lock(ctx, int32(i%10), int64(i), mode, j1))
	}

	m.ReleaseLocks(j1)

	_, ok := m.lookupJobSlot(1)
	require.False(t, ok)

	for i := 0; i < 10; i++ {
		g := m.table.Get(int32(i), -1)
		g.Acquire()
		for s := g.FirstResource(); s != -1; s = m.resArena.Next(s) {
			for h := m.resArena.LastHolder(s); h != -1; h = m.reqArena.NextRequest(h) {
				require.NotEqual(t, int32(1), m.jobArena.JobID(m.reqArena.JobSlot(h)))
			}
		}
		g.Release()
	}

	// The unrelated job's lock must survive j1's bulk release untouched.
	require.NoError(t, m.Unlock(999, -1, other))
}

func TestUnlockUnknownResourceIsInvariantViolation(t *testing.T) {
	m := newTestManager(t)
	j1 := txn.NewContext(1)
	err := m.Unlock(1, -1, j1)
	require.Error(t, err)
}

func TestInstantLockLeavesNoNetState(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	j1 := txn.NewContext(1)

	require.NoError(t, m.InstantLock(ctx, 5, -1, matrix.X, j1))

	g := m.table.Get(5, -1)
	g.Acquire()
	require.Equal(t, int64(-1), int64(g.FirstResource()))
	g.Release()
}

func TestTryLockNeverBlocksOnConversion(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	j1 := txn.NewContext(1)
	j2 := txn.NewContext(2)

	require.NoError(t, m.Lock(ctx, 7, -1, matrix.S, j1))
	require.NoError(t, m.Lock(ctx, 7, -1, matrix.S, j2))

	ok, err := m.TryLock(ctx, 7, -1, matrix.X, j1)
	require.NoError(t, err)
	require.False(t, ok, "TryLock must refuse rather than joining the upgrader queue")

	require.NoError(t, m.Unlock(7, -1, j1))
	require.NoError(t, m.Unlock(7, -1, j2))
}

func TestUnlockDowngradeStillWakesCompatibleWaiter(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	j1 := txn.NewContext(1)
	j2 := txn.NewContext(2)
	j3 := txn.NewContext(3)

	require.NoError(t, m.Lock(ctx, 7, -1, matrix.S, j1))
	require.NoError(t, m.Lock(ctx, 7, -1, matrix.S, j2))

	waited := make(chan error, 1)
	go func() {
		waited <- m.Lock(ctx, 7, -1, matrix.X, j3) // blocked by both S holders
	}()

	g := m.table.Get(7, -1)
	require.Eventually(t, func() bool {
		g.Acquire()
		defer g.Release()
		resourceID := m.findOrAllocResourceSlot(g, 7, -1)
		return m.resArena.FirstWaiter(resourceID) != -1
	}, time.Second, 5*time.Millisecond)

	// Unlocking one of two S holders leaves max mode at S - the waiter
	// must not be spuriously granted, since the other S holder still
	// conflicts with X.
	require.NoError(t, m.Unlock(7, -1, j1))

	select {
	case err := <-waited:
		t.Fatalf("X was granted while a foreign S holder remained: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// Unlocking the last S holder drops max mode to NL, which must wake
	// and grant the waiting X.
	require.NoError(t, m.Unlock(7, -1, j2))

	select {
	case err := <-waited:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("j3's X lock never granted after the last S holder unlocked")
	}
	require.NoError(t, m.Unlock(7, -1, j3))
}

func TestConcurrentBulkAcquireAndRelease(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var eg errgroup.Group
	for i := 0; i < 20; i++ {
		i := i
		eg.Go(func() error {
			job := txn.NewContext(int32(1000 + i))
			for d := int32(0); d < 5; d++ {
				if err := m.Lock(ctx, d, int64(i), matrix.X, job); err != nil {
					return fmt.Errorf("job %d: %w", job.JobID(), err)
				}
			}
			m.ReleaseLocks(job)
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	for d := int32(0); d < 5; d++ {
		g := m.table.Get(d, -1)
		g.Acquire()
		require.Equal(t, int64(-1), int64(g.FirstResource()))
		g.Release()
	}
}
