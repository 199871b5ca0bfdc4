package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithLockAddsStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	Logger = slog.New(slog.NewJSONHandler(&buf, nil))
	isInited = true
	t.Cleanup(func() { isInited = false })

	WithLock(7, "3:42").Info("granted")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.EqualValues(t, 7, entry["job_id"])
	assert.Equal(t, "3:42", entry["resource"])
}

func TestWithDeadlockAddsCycle(t *testing.T) {
	var buf bytes.Buffer
	Logger = slog.New(slog.NewJSONHandler(&buf, nil))
	isInited = true
	t.Cleanup(func() { isInited = false })

	WithDeadlock(7, "7 -> 12 -> 7").Warn("aborting requester")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "7 -> 12 -> 7", entry["cycle"])
}
