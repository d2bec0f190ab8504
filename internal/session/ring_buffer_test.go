package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLineRingBuffer_EvictsOldestOverCapacity(t *testing.T) {
	buf := newLineRingBuffer(3)
	for i := 0; i < 5; i++ {
		buf.append(OutputEvent{LineNumber: i, Timestamp: time.Now()})
	}

	snap := buf.snapshot()
	assert.Len(t, snap, 3)
	assert.Equal(t, 2, snap[0].LineNumber)
	assert.Equal(t, 4, snap[len(snap)-1].LineNumber)
}

func TestLineRingBuffer_DefaultsCapacityWhenNonPositive(t *testing.T) {
	buf := newLineRingBuffer(0)
	assert.Equal(t, 1000, buf.maxSize)
}

func TestLineRingBuffer_LenTracksAppends(t *testing.T) {
	buf := newLineRingBuffer(10)
	assert.Equal(t, 0, buf.len())
	buf.append(OutputEvent{})
	buf.append(OutputEvent{})
	assert.Equal(t, 2, buf.len())
}
