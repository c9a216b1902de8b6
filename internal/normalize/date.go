package normalize

import (
	"regexp"
	"time"
)

var spanishMonths = map[string]time.Month{
	"enero":      time.January,
	"febrero":    time.February,
	"marzo":      time.March,
	"abril":      time.April,
	"mayo":       time.May,
	"junio":      time.June,
	"julio":      time.July,
	"agosto":     time.August,
	"septiembre": time.September,
	"octubre":    time.October,
	"noviembre":  time.November,
	"diciembre":  time.December,
}

// Month abbreviations as they appear in filenames. September shows up both
// three- and four-lettered in the wild.
var spanishMonthAbbr = map[string]time.Month{
	"ene":  time.January,
	"feb":  time.February,
	"mar":  time.March,
	"abr":  time.April,
	"may":  time.May,
	"jun":  time.June,
	"jul":  time.July,
	"ago":  time.August,
	"sep":  time.September,
	"sept": time.September,
	"oct":  time.October,
	"nov":  time.November,
	"dic":  time.December,
}

var spanishDateRe = regexp.MustCompile(`(\d{1,2})\s+de\s+([a-zñ]+)(?:\s+de\s+(\d{4}))?`)

// MonthByName resolves a full Spanish month name, accent- and
// case-insensitively.
func MonthByName(name string) (time.Month, bool) {
	m, ok := spanishMonths[Fold(name)]
	return m, ok
}

// MonthByAbbr resolves a three- or four-letter Spanish month abbreviation.
func MonthByAbbr(abbr string) (time.Month, bool) {
	m, ok := spanishMonthAbbr[Fold(abbr)]
	return m, ok
}

// MonthName returns the lowercase Spanish name of m.
func MonthName(m time.Month) string {
	for name, month := range spanishMonths {
		if month == m {
			return name
		}
	}
	return ""
}

// ParseSpanishDate finds a "<day> de <month> de <year>" expression anywhere in
// text, tolerating a leading weekday name. A date whose month is not one of
// the twelve Spanish names, or whose year is absent, does not match.
func ParseSpanishDate(text string) (time.Time, bool) {
	return parseSpanishDate(text, 0)
}

// ParseSpanishDateDefault is ParseSpanishDate but accepts a yearless
// "<day> de <month>" expression, filling in defaultYear.
func ParseSpanishDateDefault(text string, defaultYear int) (time.Time, bool) {
	return parseSpanishDate(text, defaultYear)
}

func parseSpanishDate(text string, defaultYear int) (time.Time, bool) {
	for _, m := range spanishDateRe.FindAllStringSubmatch(Fold(text), -1) {
		month, ok := spanishMonths[m[2]]
		if !ok {
			continue
		}
		year := defaultYear
		if m[3] != "" {
			year = atoi(m[3])
		}
		if year == 0 {
			continue
		}
		day := atoi(m[1])
		if day < 1 || day > 31 {
			continue
		}
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
