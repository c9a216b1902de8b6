// Package extract turns stored bulletin files into price records. Two
// engines share one table-walking algorithm: a PDF engine for per-city
// market reports and a spreadsheet engine for the daily annex.
package extract

import (
	"time"

	"github.com/agroamigo/sipsa-pipeline/internal/model"
)

// Hint carries context the caller already knows about a file, used when the
// file itself does not state it. Archive members get place and date from
// their filenames; annexes get the date from their source entry.
type Hint struct {
	Place     string
	Submarket string
	Date      *time.Time
}

// Warning is a non-fatal defect observed during extraction. Warnings never
// abort a file; they accumulate on the result for the caller to persist.
type Warning struct {
	Kind   string
	Detail string
}

// Result is the outcome of extracting one file.
type Result struct {
	Records  []model.PriceRecord
	Warnings []Warning
	Date     *time.Time
}

func (r *Result) warn(kind, detail string) {
	r.Warnings = append(r.Warnings, Warning{Kind: kind, Detail: detail})
}

// Extractor extracts price tables from PDF and spreadsheet files.
type Extractor struct {
	pdftotext string
}

// New creates an Extractor. If pdftotextPath is empty, "pdftotext" is
// resolved from PATH.
func New(pdftotextPath string) *Extractor {
	if pdftotextPath == "" {
		pdftotextPath = "pdftotext"
	}
	return &Extractor{pdftotext: pdftotextPath}
}
