package normalize

import (
	"regexp"
	"strings"
)

var (
	placeRegionSubmarketRe = regexp.MustCompile(`^(.+?)\s*\([^)]+\)\s*,\s*(.+)$`)
	placeRegionRe          = regexp.MustCompile(`^(.+?)\s*\([^)]+\)$`)
)

// SplitPlaceSubmarket breaks a bulletin header like
// "Bogotá (Cundinamarca), Corabastos" into its city and submarket parts.
// Patterns are tried in a fixed priority order; the capital district marker
// "D.C." keeps its own comma, so those headers split on the last comma
// instead of the first.
func SplitPlaceSubmarket(s string) (place, submarket string) {
	s = CleanText(s)
	if m := placeRegionSubmarketRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	}
	if m := placeRegionRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1]), ""
	}
	if strings.Contains(s, "D.C.") {
		parts := strings.Split(s, ",")
		if len(parts) >= 3 {
			place = strings.TrimSpace(strings.Join(parts[:len(parts)-1], ","))
			return place, strings.TrimSpace(parts[len(parts)-1])
		}
	}
	if i := strings.Index(s, ","); i >= 0 {
		return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
	}
	return s, ""
}
