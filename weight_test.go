package expgram

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLogProbMin(t *testing.T) {
	assert.True(t, IsLogProbMin(LogProbMin))
	assert.False(t, IsLogProbMin(Weight(-99)))
	assert.False(t, IsLogProbMin(Weight(0)))
}

func TestFloor(t *testing.T) {
	assert.Equal(t, Weight(-99), Floor(LogProbMin, -99))
	assert.Equal(t, Weight(-1.5), Floor(Weight(-1.5), -99))
	assert.Equal(t, DefaultFloor, Floor(LogProbMin, DefaultFloor))
}
