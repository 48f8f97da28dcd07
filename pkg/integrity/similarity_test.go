package integrity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBigramSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "lives in Lisbon", "lives in Lisbon", 1, 1},
		{"case and whitespace", "Lives in  LISBON", "lives in lisbon", 1, 1},
		{"trailing punctuation", "lives in lisbon", "lives in lisbon.", 0.95, 1},
		{"different value", "my favorite color is blue", "my favorite color is green", 0.5, 0.9},
		{"unrelated", "works at ACME", "allergic to peanuts", 0, 0.3},
		{"empty side", "", "lives in lisbon", 0, 0},
		{"single rune", "a", "ab", 0, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := bigramSimilarity(tc.a, tc.b)
			assert.GreaterOrEqual(t, got, tc.min)
			assert.LessOrEqual(t, got, tc.max)
		})
	}
}

func TestBigramSimilaritySymmetric(t *testing.T) {
	a, b := "prefers window seats", "prefers aisle seats"
	assert.InDelta(t, bigramSimilarity(a, b), bigramSimilarity(b, a), 1e-9)
}
