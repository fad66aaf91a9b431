package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloorToPrecision(t *testing.T) {
	assert.Equal(t, 30.0, FloorToPrecision(0.3*100, 0))
	assert.Equal(t, 12.0, FloorToPrecision(12.99, 0))
	assert.Equal(t, 1.25, FloorToPrecision(1.259, 2))
}

func TestRoundToPrecision(t *testing.T) {
	assert.Equal(t, 1.26, RoundToPrecision(1.259, 2))
	assert.True(t, FloatEquals(0.1+0.2, 0.3))
}

func TestPctChange(t *testing.T) {
	assert.InDelta(t, -0.16, PctChange(100, 84), 1e-12)
	assert.InDelta(t, 0.4, PctChange(100, 140), 1e-12)
	assert.Equal(t, 0.0, PctChange(0, 10))
}
