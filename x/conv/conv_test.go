package conv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendUint(t *testing.T) {
	tests := []struct {
		n    uint64
		want string
	}{
		{0, "0"},
		{7, "7"},
		{152, "152"},
		{18446744073709551615, "18446744073709551615"},
	}
	for _, tt := range tests {
		assert.Equal(t, "x="+tt.want, string(AppendUint([]byte("x="), tt.n)))
	}
}
