package scrape

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agroamigo/sipsa-pipeline/internal/model"
	"github.com/agroamigo/sipsa-pipeline/internal/normalize"
)

// Filename date encodings, tried in a fixed order. The site used at least
// five schemes over the years.
var (
	// 15mar2021, 3sept2014
	concatDateRe = regexp.MustCompile(`(\d{1,2})(ene|feb|mar|abr|may|jun|jul|ago|sept|sep|oct|nov|dic)(\d{4})`)
	// mayoristas_marzo_15_2021
	monthNameDateRe = regexp.MustCompile(`mayoristas_([a-z]+)_(\d{1,2})_(\d{4})`)
	// anex_mar_15_2021 (any prefix, abbreviated month)
	abbrDateRe = regexp.MustCompile(`_(ene|feb|mar|abr|may|jun|jul|ago|sept|sep|oct|nov|dic)_(\d{1,2})_(\d{4})`)
	// 15-03-2021
	hyphenDateRe = regexp.MustCompile(`(\d{1,2})-(\d{1,2})-(\d{4})`)
	// 15-03-21
	hyphenShortDateRe = regexp.MustCompile(`(\d{1,2})-(\d{1,2})-(\d{2})(?:\D|$)`)
)

// DateFromFilename decodes a bulletin date from a file name or URL.
// Returns nil when no pattern matches.
func DateFromFilename(name string) *time.Time {
	s := normalize.Fold(FilenameFromURL(name))

	if m := concatDateRe.FindStringSubmatch(s); m != nil {
		if month, ok := normalize.MonthByAbbr(m[2]); ok {
			return buildDate(atoi(m[3]), month, atoi(m[1]))
		}
	}
	if m := monthNameDateRe.FindStringSubmatch(s); m != nil {
		if month, ok := normalize.MonthByName(m[1]); ok {
			return buildDate(atoi(m[3]), month, atoi(m[2]))
		}
	}
	if m := abbrDateRe.FindStringSubmatch(s); m != nil {
		if month, ok := normalize.MonthByAbbr(m[1]); ok {
			return buildDate(atoi(m[3]), month, atoi(m[2]))
		}
	}
	if m := hyphenDateRe.FindStringSubmatch(s); m != nil {
		return buildDate(atoi(m[3]), time.Month(atoi(m[2])), atoi(m[1]))
	}
	if m := hyphenShortDateRe.FindStringSubmatch(s); m != nil {
		return buildDate(2000+atoi(m[3]), time.Month(atoi(m[2])), atoi(m[1]))
	}
	return nil
}

func buildDate(year int, month time.Month, day int) *time.Time {
	if month < time.January || month > time.December || day < 1 || day > 31 {
		return nil
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &d
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// FilenameFromURL returns the last path segment, query stripped.
func FilenameFromURL(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(rawURL)
}

// CategoryForLink infers a file's category from keywords in its URL and
// display text.
func CategoryForLink(rawURL, text string) model.Category {
	s := normalize.Fold(rawURL + " " + text)
	switch {
	case strings.Contains(s, "informes por ciudades"), strings.Contains(s, "informes_por_ciudades"),
		strings.Contains(s, "ciudades"), strings.Contains(s, "regional"):
		return model.CategoryRegionalReport
	case strings.Contains(s, "anexo"), strings.Contains(s, "anex-"), strings.Contains(s, "anex_"),
		strings.Contains(s, "mayoristas"):
		return model.CategoryAnnex
	case strings.Contains(s, "boletin"):
		return model.CategoryBulletin
	default:
		return model.CategoryUnknown
	}
}

// FormatForURL infers the physical file format from the URL's extension.
// Unrecognized extensions report false.
func FormatForURL(rawURL string) (model.FileFormat, bool) {
	switch strings.ToLower(path.Ext(FilenameFromURL(rawURL))) {
	case ".pdf":
		return model.FormatPDF, true
	case ".xls", ".xlsx":
		return model.FormatSpreadsheet, true
	case ".zip":
		return model.FormatArchive, true
	default:
		return "", false
	}
}
