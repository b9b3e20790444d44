package fetcher

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// suffix multipliers for human-readable counts
var countSuffixes = map[byte]float64{
	'K': 1e3,
	'M': 1e6,
	'B': 1e9,
}

// ParseCount converts a human-readable count as rendered on a profile
// page ("1,234", "1.2K", "3.4M", "2B") into an integer. The empty string
// parses to zero: a stat the page omits entirely means none.
func ParseCount(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}

	s = strings.ReplaceAll(s, ",", "")

	multiplier := 1.0
	last := s[len(s)-1]
	if m, ok := countSuffixes[toUpperByte(last)]; ok {
		multiplier = m
		s = s[:len(s)-1]
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable count %q: %w", raw, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative count %q", raw)
	}

	return int64(math.Round(value * multiplier)), nil
}

func toUpperByte(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}
