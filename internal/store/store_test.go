package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRecord_ReceivedCountAndHasChunk(t *testing.T) {
	rec := &SessionRecord{ReceivedChunks: map[int64]bool{0: true, 2: true}}

	assert.Equal(t, 2, rec.ReceivedCount())
	assert.True(t, rec.HasChunk(0))
	assert.True(t, rec.HasChunk(2))
	assert.False(t, rec.HasChunk(1))
}

func TestSessionRecord_CloneIsIndependent(t *testing.T) {
	rec := &SessionRecord{ReceivedChunks: map[int64]bool{0: true}}
	clone := rec.Clone()

	clone.ReceivedChunks[1] = true

	assert.False(t, rec.HasChunk(1))
	assert.True(t, clone.HasChunk(1))
}
