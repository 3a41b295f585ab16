package position

import (
	"testing"

	"github.com/peterldowns/testy/assert"
)

func TestNewPosition(t *testing.T) {
	// Ensure invalid inputs are rejected.
	_, err := NewPosition("", 40, 50, 0.05)
	assert.Error(t, err)

	_, err = NewPosition("opt-1", 0, 50, 0.05)
	assert.Error(t, err)

	_, err = NewPosition("opt-1", 40, 0, 0.05)
	assert.Error(t, err)

	// Ensure an entry fill at 40 anchors the stop at 38.
	pos, err := NewPosition("opt-1", 40, 50, 0.05)
	assert.NoError(t, err)
	assert.Equal(t, pos.PeakPrice, float64(40))
	assert.Equal(t, pos.StopPrice, float64(38))
}

func TestPositionTrail(t *testing.T) {
	pos, err := NewPosition("opt-1", 40, 50, 0.05)
	assert.NoError(t, err)

	// Ensure quotes at or below the peak change nothing.
	assert.Equal(t, pos.UpdateTrail(40, 0.05), false)
	assert.Equal(t, pos.UpdateTrail(39, 0.05), false)

	// Ensure a new peak ratchets the stop upward.
	assert.Equal(t, pos.UpdateTrail(50, 0.05), true)
	assert.Equal(t, pos.StopPrice, 47.5)

	// Ensure the stop never retreats even when the trail would be lower.
	pos.UpdateTrail(50.5, 0.05)
	assert.Equal(t, pos.StopPrice >= 47.5, true)

	// Ensure the stop trigger and pnl computations.
	assert.Equal(t, pos.StoppedOut(47), true)
	assert.Equal(t, pos.StoppedOut(48.5), false)
	assert.Equal(t, pos.PNL(47), float64(350))
}
