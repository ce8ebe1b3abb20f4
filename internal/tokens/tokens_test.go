package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"ж", 1},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, Estimate{}.Count(tt.text))
		})
	}
}

func TestEstimateSubadditive(t *testing.T) {
	a, b := "the quick brown", "fox jumps"
	assert.LessOrEqual(t, Estimate{}.Count(a+" "+b), Estimate{}.Count(a)+Estimate{}.Count(b)+1)
}
