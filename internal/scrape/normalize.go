package scrape

import (
	"strconv"
	"strings"
)

// NormalizeCount converts a loosely formatted subscriber-count string into an
// integer. The page renders counts with thousands separators and sometimes a
// trailing percent sign. Malformed input degrades to zero rather than failing
// the extraction.
func NormalizeCount(raw string) int {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "%")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
