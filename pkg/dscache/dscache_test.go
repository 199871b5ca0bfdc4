package dscache

import (
	"testing"

	"github.com/asterix-labs/lockmgr/pkg/matrix"
	"github.com/stretchr/testify/assert"
)

func TestFreshCacheMisses(t *testing.T) {
	c := New()
	assert.False(t, c.Contains(1, 7, matrix.IX))
}

func TestPutThenContainsHits(t *testing.T) {
	c := New()
	c.Put(1, 7, matrix.IX)
	assert.True(t, c.Contains(1, 7, matrix.IX))
	assert.False(t, c.Contains(1, 7, matrix.IS), "different mode on same dataset is a miss")
}

func TestJobChangeClearsCache(t *testing.T) {
	c := New()
	c.Put(1, 7, matrix.IX)

	assert.False(t, c.Contains(2, 7, matrix.IX), "different job must miss")
	c.Put(2, 9, matrix.IS)

	assert.False(t, c.Contains(1, 7, matrix.IX), "cache cleared on job switch, old entry gone")
}
