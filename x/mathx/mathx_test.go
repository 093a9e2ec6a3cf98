package mathx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundDiv(t *testing.T) {
	assert.Equal(t, uint32(3), RoundDiv[uint32](5, 2))
	assert.Equal(t, uint32(2), RoundDiv[uint32](9, 4))
	assert.Equal(t, uint16(0), RoundDiv[uint16](7, 0))
	assert.Equal(t, uint8(1), RoundDiv[uint8](2, 3))
}

func TestMin(t *testing.T) {
	assert.Equal(t, 2, Min(2, 3))
	assert.Equal(t, "a", Min("b", "a"))
}
