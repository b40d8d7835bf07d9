package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateShape(t *testing.T) {
	for i := 0; i < 10000; i++ {
		id := Generate()
		require.Len(t, id, Length)
		for _, c := range id {
			require.True(t, c >= 'A' && c <= 'Z', "identifier %q has non uppercase letter %q", id, c)
		}
		require.True(t, Valid(id), "generated identifier %q is not valid", id)
	}
}

// Each position should see every letter roughly 1/26th of the time.
func TestGenerateDistribution(t *testing.T) {
	const n = 260000
	var counts [Length][alphabetSize]int
	for i := 0; i < n; i++ {
		id := Generate()
		for pos := 0; pos < Length; pos++ {
			counts[pos][id[pos]-'A']++
		}
	}
	want := float64(n) / alphabetSize
	for pos := 0; pos < Length; pos++ {
		// chi-squared with 25 degrees of freedom; 70 is past the 0.99999 quantile
		chi := 0.0
		for letter := 0; letter < alphabetSize; letter++ {
			d := float64(counts[pos][letter]) - want
			chi += d * d / want
		}
		assert.Less(t, chi, 70.0, "position %d is not uniformly distributed: %v", pos, counts[pos])
	}
}

func TestFromHash(t *testing.T) {
	assert.Equal(t, "AAAAA", fromHash(0))
	assert.Equal(t, "BAAAA", fromHash(1))
	assert.Equal(t, "ABAAA", fromHash(26))
	assert.Equal(t, "ZZZZZ", fromHash(26*26*26*26*26-1))
	// only the low 5 base-26 digits matter
	assert.Equal(t, fromHash(7), fromHash(7+26*26*26*26*26))
}

func TestValid(t *testing.T) {
	testCases := []struct {
		id   string
		want bool
	}{
		{"ABCDE", true},
		{"ZZZZZ", true},
		{"abcde", true},
		{"ab", false},
		{"ABCDEF", false},
		{"", false},
		{"a.bcd", false},
		{"..abc", false},
		{"ab/cd", false},
		{`ab\cd`, false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, Valid(tc.id), "Valid(%q)", tc.id)
	}
}
