package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepHistory_RingBuffer(t *testing.T) {
	h := newStepHistory(3)

	_, ok := h.Last()
	assert.False(t, ok)
	assert.Nil(t, h.Recent(0))

	for _, name := range []string{"a", "b", "c", "d"} {
		h.Add(StepRecord{TaskletName: name})
	}

	recent := h.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "d", recent[0].TaskletName)
	assert.Equal(t, "c", recent[1].TaskletName)
	assert.Equal(t, "b", recent[2].TaskletName)

	assert.Len(t, h.Recent(2), 2)
	assert.Len(t, h.Recent(10), 3)

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, "d", last.TaskletName)
}

func TestStepHistory_DefaultCapacity(t *testing.T) {
	h := newStepHistory(0)
	assert.Len(t, h.items, defaultStepHistoryCapacity)
}
