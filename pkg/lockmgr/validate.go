package lockmgr

import (
	"context"

	"github.com/asterix-labs/lockmgr/pkg/arena"
	"github.com/asterix-labs/lockmgr/pkg/dberr"
	"github.com/asterix-labs/lockmgr/pkg/dscache"
	"github.com/asterix-labs/lockmgr/pkg/matrix"
	"github.com/asterix-labs/lockmgr/pkg/txn"
)

// validateJob rejects a request up front against a txn already known to
// be dead: already aborted, or already flagged as timed out by an earlier
// call. Neither condition is retried internally.
func validateJob(job txn.Context, operation string) error {
	if job.State() == txn.Aborted {
		return dberr.TxnAborted(job.JobID(), operation)
	}
	if job.IsTimeout() {
		return dberr.TxnTimedOut(job.JobID(), operation, "timeout observed before wait")
	}
	return nil
}

// recheckAfterWake re-runs the same checks validateJob does, on behalf of
// a request that has just been woken from Await and is about to
// re-evaluate the matrix. A txn can time out or be aborted by another
// goroutine while this one was parked.
func recheckAfterWake(job txn.Context, operation string) error {
	return validateJob(job, operation)
}

// requestAbort marks job's txn as timed out and returns the structured
// error the caller propagates. It is the manager's response to a
// detected deadlock: the requester is always the victim. A timeout already
// flagged on the txn is reported by validateJob with the same error kind.
func requestAbort(job txn.Context, operation, detail string) error {
	job.SetTimeout(true)
	return dberr.TxnTimedOut(job.JobID(), operation, detail)
}

// cacheHolder is implemented by txn.Context values that carry a
// worker-scoped dataset lock cache (txn.TxnContext, via its Cache
// method). The manager never requires it - a job context that doesn't
// implement it just always misses the cache, which is always correct.
type cacheHolder interface {
	Cache() *dscache.Cache
}

func cacheOf(job txn.Context) *dscache.Cache {
	ch, ok := job.(cacheHolder)
	if !ok {
		return nil
	}
	return ch.Cache()
}

// ensureDatasetIntentionLock acquires the dataset-level intention lock an
// entity-level request implies (IX for an X entity request, IS
// otherwise), skipping the recursive acquisition entirely when the
// job's worker-scoped cache already proves it holds one.
func (m *Manager) ensureDatasetIntentionLock(ctx context.Context, datasetID int32, entityMode matrix.Mode, job txn.Context) error {
	intention := matrix.IS
	if entityMode == matrix.X {
		intention = matrix.IX
	}

	cache := cacheOf(job)
	if cache != nil && cache.Contains(job.JobID(), datasetID, intention) {
		return nil
	}

	if err := m.Lock(ctx, datasetID, arena.NoPKHash, intention, job); err != nil {
		return err
	}

	if cache != nil {
		cache.Put(job.JobID(), datasetID, intention)
	}
	return nil
}
