package extract

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/agroamigo/sipsa-pipeline/internal/model"
	"github.com/agroamigo/sipsa-pipeline/internal/normalize"
)

var pdfCellSplitRe = regexp.MustCompile(`\s{2,}`)

// pdfToText runs pdftotext -layout on the given PDF and returns stdout.
func (e *Extractor) pdfToText(ctx context.Context, pdfPath string) (string, error) {
	cmd := exec.CommandContext(ctx, e.pdftotext, "-layout", pdfPath, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "extract: pdftotext failed for %s: %s", pdfPath, stderr.String())
	}
	return stdout.String(), nil
}

// ExtractPDF pulls price rows out of a per-city market report. The layout
// is positional: product, presentation, units, then min/max for the first
// negotiation round and, on reports that announce one, a second round.
func (e *Extractor) ExtractPDF(ctx context.Context, pdfPath string, hint Hint) (*Result, error) {
	res := &Result{}

	text, err := e.pdfToText(ctx, pdfPath)
	if err != nil {
		res.warn(model.ErrKindCorruptedDocument, err.Error())
		return res, nil
	}

	grid := pdfGrid(text)
	res.Date = resolveDate(grid, hint, res)
	place, submarket := resolvePlace(grid, hint, res)
	secondRound := hasSecondRoundMarker(grid)

	headerIdx := -1
	for i, row := range grid {
		if len(row) > 0 && strings.Contains(normalize.Fold(row[0]), "producto") {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		res.warn(model.ErrKindInvalidHeaders, fmt.Sprintf("no product header in %s", pdfPath))
		return res, nil
	}

	stack := &categoryStack{}
	for _, row := range grid[headerIdx+1:] {
		if skipDataRow(row) {
			continue
		}
		if isHeaderRow(row) {
			stack.push(normalize.CleanText(row[0]))
			continue
		}
		stack.resolve(res.warn)
		if stack.category == "" {
			res.warn(model.ErrKindMissingCategory,
				fmt.Sprintf("product %q has no category header", normalize.CleanText(row[0])))
			continue
		}
		if len(row) < 5 {
			continue
		}

		product := normalize.CleanText(row[0])
		base := model.PriceRecord{
			Product:      product,
			Presentation: normalize.CleanText(row[1]),
			Units:        normalize.CleanText(row[2]),
			Category:     stack.category,
			Subcategory:  stack.subcategory,
			Place:        place,
			Submarket:    submarket,
			BulletinDate: res.Date,
		}

		if rec, ok, unparsable := roundRecord(base, row[3], row[4], 1); ok {
			res.Records = append(res.Records, rec)
		} else if unparsable {
			res.warn(model.ErrKindNonNumericPrice,
				fmt.Sprintf("product %q round 1: %q / %q", product, row[3], row[4]))
		}
		if secondRound && len(row) >= 7 {
			if rec, ok, _ := roundRecord(base, row[5], row[6], 2); ok {
				res.Records = append(res.Records, rec)
			}
		}
	}
	stack.flush(res.warn)

	zap.L().Debug("extracted pdf",
		zap.String("path", pdfPath),
		zap.Int("records", len(res.Records)),
		zap.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

func pdfGrid(text string) [][]string {
	var grid [][]string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := pdfCellSplitRe.Split(strings.TrimLeft(line, " "), -1)
		grid = append(grid, cells)
	}
	return grid
}

func resolveDate(grid [][]string, hint Hint, res *Result) *time.Time {
	if d, _ := findDate(grid); d != nil {
		return d
	}
	if hint.Date != nil {
		return hint.Date
	}
	res.warn(model.ErrKindMissingDate, "no date line found")
	return nil
}

// resolvePlace prefers the caller's context (archive member filenames name
// the city) and falls back to scanning the report title lines.
func resolvePlace(grid [][]string, hint Hint, res *Result) (string, string) {
	if hint.Place != "" {
		return hint.Place, hint.Submarket
	}
	limit := min(placeScanRows, len(grid))
	for i := 0; i < limit; i++ {
		for _, cell := range grid[i] {
			if hasPlaceName([]string{cell}) {
				return normalize.SplitPlaceSubmarket(normalize.CleanText(cell))
			}
		}
	}
	res.warn(model.ErrKindMissingLocation, "no market city in report header")
	return "", ""
}

// hasSecondRoundMarker reports whether the report announces a later
// negotiation round in its opening lines.
func hasSecondRoundMarker(grid [][]string) bool {
	limit := min(dateScanRows, len(grid))
	for i := 0; i < limit; i++ {
		for _, cell := range grid[i] {
			folded := normalize.Fold(cell)
			if strings.Contains(folded, "ronda 2") || strings.Contains(folded, "ronda 3") {
				return true
			}
		}
	}
	return false
}

// roundRecord builds one record from a min/max cell pair. A pair with no
// usable side yields no record; zero and no-data cells are absent
// observations, not defects, so unparsable reports only genuine garbage.
// A half-parsed pair mirrors the known side.
func roundRecord(base model.PriceRecord, minCell, maxCell string, round int) (rec model.PriceRecord, ok, unparsable bool) {
	minV, minNone, minOK := normalize.ParsePrice(minCell)
	maxV, maxNone, maxOK := normalize.ParsePrice(maxCell)
	unparsable = (!minOK && !minNone) || (!maxOK && !maxNone)
	if !minOK && !maxOK {
		return model.PriceRecord{}, false, unparsable
	}
	if !minOK {
		minV = maxV
	}
	if !maxOK {
		maxV = minV
	}
	base.MinPrice = minV
	base.MaxPrice = maxV
	base.Round = round
	return base, true, unparsable
}
