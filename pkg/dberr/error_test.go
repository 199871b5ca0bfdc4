package dberr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxnAbortedCapturesStackAndFormats(t *testing.T) {
	err := TxnAborted(7, "Lock")
	require.NotEmpty(t, err.Stack)
	assert.Equal(t, KindTxnAborted, err.Kind)
	assert.Contains(t, err.Error(), "[TXN_ABORTED] job 7 is already aborted")
	assert.Contains(t, err.Error(), "component: lockmgr, operation: Lock")
	assert.True(t, err.Kind.Retryable())
}

func TestTxnTimedOutIncludesDetail(t *testing.T) {
	err := TxnTimedOut(7, "Lock", "deadlock with job 8")
	assert.Contains(t, err.Error(), "deadlock with job 8")
	assert.True(t, err.Kind.Retryable())
}

func TestInvariantViolationIsNotRetryable(t *testing.T) {
	err := InvariantViolation("Unlock", "resource (3, 42) not found")
	assert.Equal(t, KindInvariantViolation, err.Kind)
	assert.Contains(t, err.Error(), "resource (3, 42) not found")
	assert.False(t, err.Kind.Retryable())
}

func TestInterruptedChainsCause(t *testing.T) {
	cause := errors.New("context canceled")
	err := Interrupted(7, "Lock", cause)

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindInterrupted, err.Kind)
	assert.True(t, err.Kind.Retryable())
	assert.Contains(t, err.Error(), "caused by: context canceled")
}

func TestAlreadyStartedIsNotRetryable(t *testing.T) {
	err := AlreadyStarted()
	assert.Equal(t, KindAlreadyStarted, err.Kind)
	assert.Equal(t, "Start", err.Operation)
	assert.False(t, err.Kind.Retryable())
}
