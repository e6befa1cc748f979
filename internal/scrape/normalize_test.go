package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCount(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected int
	}{
		{name: "plain number", input: "42", expected: 42},
		{name: "thousands separator", input: "1,234", expected: 1234},
		{name: "large with separators", input: "12,345,678", expected: 12345678},
		{name: "trailing percent", input: "56%", expected: 56},
		{name: "surrounding whitespace", input: "  789  ", expected: 789},
		{name: "separator and percent", input: " 1,000% ", expected: 1000},
		{name: "empty string", input: "", expected: 0},
		{name: "whitespace only", input: "   ", expected: 0},
		{name: "not a number", input: "abc", expected: 0},
		{name: "mixed garbage", input: "12abc", expected: 0},
		{name: "negative degrades to zero", input: "-5", expected: 0},
		{name: "zero", input: "0", expected: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, NormalizeCount(tc.input))
		})
	}
}
