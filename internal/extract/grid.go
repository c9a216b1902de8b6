package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agroamigo/sipsa-pipeline/internal/model"
	"github.com/agroamigo/sipsa-pipeline/internal/normalize"
)

// Both engines look for the bulletin date and the place header within the
// first rows of the sheet.
const (
	dateScanRows  = 10
	placeScanRows = 10
)

// Market cities that appear in annex column headers. Matching is on folded
// text, so accents in the file do not matter.
var knownPlaces = []string{
	"armenia", "barranquilla", "bogota", "bucaramanga", "cali", "cartagena",
	"cucuta", "ibague", "manizales", "medellin", "monteria", "neiva",
	"pasto", "pereira", "popayan", "santa marta", "sincelejo", "tunja",
	"valledupar", "villavicencio",
}

var englishDateRe = regexp.MustCompile(`(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{1,2}),?\s+(\d{4})`)

var englishMonths = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

// findDate scans the first rows of the grid, all columns, for a Spanish
// date line or the English fallback. First match wins.
func findDate(grid [][]string) (*time.Time, int) {
	limit := min(dateScanRows, len(grid))
	for i := 0; i < limit; i++ {
		for _, cell := range grid[i] {
			if d, ok := normalize.ParseSpanishDate(cell); ok {
				return &d, i
			}
			if m := englishDateRe.FindStringSubmatch(normalize.Fold(cell)); m != nil {
				d := time.Date(atoi(m[3]), englishMonths[m[1]], atoi(m[2]), 0, 0, 0, 0, time.UTC)
				return &d, i
			}
		}
	}
	return nil, -1
}

func hasPlaceName(row []string) bool {
	for _, cell := range row {
		folded := normalize.Fold(cell)
		for _, place := range knownPlaces {
			if strings.Contains(folded, place) {
				return true
			}
		}
	}
	return false
}

func hasPriceKeyword(row []string) bool {
	for _, cell := range row {
		if strings.Contains(normalize.Fold(cell), "precio") {
			return true
		}
	}
	return false
}

// findPlaceHeader locates the header row that names the market columns,
// scanning from the date row. A row found only by the "precio" keyword
// yields to the row just above it when that one carries the place names.
func findPlaceHeader(grid [][]string, from int) int {
	if from < 0 {
		from = 0
	}
	limit := min(from+placeScanRows+1, len(grid))
	for i := from; i < limit; i++ {
		row := grid[i]
		if hasPlaceName(row) {
			return i
		}
		if hasPriceKeyword(row) {
			if i > 0 && hasPlaceName(grid[i-1]) {
				return i - 1
			}
			return i
		}
	}
	return -1
}

type placeColumn struct {
	place     string
	submarket string
}

// mapPlaceColumns builds the column-index to market mapping from a header
// row. Column 0 is the product column; percentage and variation columns
// are not price columns.
func mapPlaceColumns(row []string) map[int]placeColumn {
	cols := map[int]placeColumn{}
	for i := 1; i < len(row); i++ {
		text := normalize.CleanText(row[i])
		if text == "" {
			continue
		}
		folded := normalize.Fold(text)
		if strings.Contains(folded, "%") || strings.Contains(folded, "variac") ||
			folded == "var" || strings.HasPrefix(folded, "var.") {
			continue
		}
		place, submarket := normalize.SplitPlaceSubmarket(text)
		cols[i] = placeColumn{place: place, submarket: submarket}
	}
	return cols
}

// noDataMarkers are first-cell values that carry no product.
var noDataMarkers = map[string]bool{"n.d.": true, "nd": true, "n.d": true}

// skipDataRow reports whether a data row carries nothing to extract:
// empty first cell, footnote, or a no-data marker.
func skipDataRow(row []string) bool {
	if len(row) == 0 {
		return true
	}
	first := normalize.CleanText(row[0])
	if first == "" {
		return true
	}
	folded := normalize.Fold(first)
	if noDataMarkers[folded] {
		return true
	}
	return strings.HasPrefix(first, "*") || strings.HasPrefix(folded, "fuente") || strings.HasPrefix(folded, "nota")
}

// isHeaderRow reports whether every cell beyond the first is empty, which
// marks the row as a category or subcategory header.
func isHeaderRow(row []string) bool {
	for _, cell := range row[1:] {
		if normalize.CleanText(cell) != "" {
			return false
		}
	}
	return true
}

// categoryStack tracks the product grouping headers seen above the current
// data row. Headers accumulate until a product row resolves them.
type categoryStack struct {
	items       []string
	category    string
	subcategory string
}

func (s *categoryStack) push(text string) {
	s.items = append(s.items, text)
}

// resolve assigns category and subcategory from the pending headers. Two or
// more pending headers set both, with anything deeper logged and dropped;
// one sets only the subcategory; none keeps the previous values.
func (s *categoryStack) resolve(warn func(kind, detail string)) {
	switch n := len(s.items); {
	case n >= 2:
		s.subcategory = s.items[n-1]
		s.category = s.items[n-2]
		if n > 2 {
			warn(model.ErrKindUnusedStackItems,
				fmt.Sprintf("dropped headers: %s", strings.Join(s.items[:n-2], "; ")))
		}
		s.items = s.items[:0]
	case n == 1:
		s.subcategory = s.items[0]
		s.items = s.items[:0]
	}
}

// flush reports headers that were pushed after the last product row.
func (s *categoryStack) flush(warn func(kind, detail string)) {
	if len(s.items) > 0 {
		warn(model.ErrKindUnusedStackItems,
			fmt.Sprintf("trailing headers: %s", strings.Join(s.items, "; ")))
		s.items = s.items[:0]
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
