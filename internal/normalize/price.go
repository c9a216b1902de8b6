package normalize

import (
	"strconv"
	"strings"
)

// ParsePrice converts a Colombian-locale price cell ("1.234,56") to a float.
// Empty cells, the "n.d." no-data marker, and non-positive values are absent
// observations, reported via none; text that fails to parse as a number at
// all reports neither none nor ok. Only the latter is a data defect.
func ParsePrice(v string) (value float64, none bool, ok bool) {
	s := strings.TrimSpace(v)
	if s == "" {
		return 0, true, false
	}
	if f := Fold(s); f == "n.d." || f == "n.d" || f == "nd" {
		return 0, true, false
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	p, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, false
	}
	if p <= 0 {
		return 0, true, false
	}
	return p, false, true
}
