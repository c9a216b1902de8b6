package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/extrame/xls"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/agroamigo/sipsa-pipeline/internal/model"
	"github.com/agroamigo/sipsa-pipeline/internal/normalize"
)

// The annex has no presentation or units columns; every price is quoted
// per kilogram.
const (
	annexPresentation = "Kilogramo"
	annexUnits        = "1 Kilogramo"
)

var (
	zipSignature = []byte{'P', 'K', 0x03, 0x04}
	oleSignature = []byte{0xD0, 0xCF, 0x11, 0xE0}
)

// ExtractSpreadsheet pulls price rows out of a daily annex. The annex is a
// wide grid: one row per product, one price column per market. Generation
// is sniffed from the file signature, with a fallback to the other reader
// before the file is declared unreadable.
func (e *Extractor) ExtractSpreadsheet(ctx context.Context, path string, hint Hint) (*Result, error) {
	res := &Result{}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	grid, err := readSpreadsheet(path)
	if err != nil {
		res.warn(model.ErrKindDocumentParse, err.Error())
		return res, nil
	}

	date, dateIdx := findDate(grid)
	if date == nil {
		if hint.Date != nil {
			date = hint.Date
		} else {
			res.warn(model.ErrKindMissingDate, "no date line found")
		}
	}
	res.Date = date

	headerIdx := findPlaceHeader(grid, dateIdx)
	if headerIdx < 0 {
		res.warn(model.ErrKindInvalidHeaders, fmt.Sprintf("no market header row in %s", path))
		return res, nil
	}
	cols := mapPlaceColumns(grid[headerIdx])
	if len(cols) == 0 {
		res.warn(model.ErrKindInvalidHeaders, fmt.Sprintf("no price columns in %s", path))
		return res, nil
	}
	colIndexes := make([]int, 0, len(cols))
	for i := range cols {
		colIndexes = append(colIndexes, i)
	}
	sort.Ints(colIndexes)

	dataStart := headerIdx + 2
	if dataStart > len(grid) {
		dataStart = len(grid)
	}

	stack := &categoryStack{}
	for _, row := range grid[dataStart:] {
		if skipDataRow(row) {
			continue
		}
		if isHeaderRow(row) {
			stack.push(normalize.CleanText(row[0]))
			continue
		}
		stack.resolve(res.warn)
		product := normalize.CleanText(row[0])
		if stack.category == "" {
			res.warn(model.ErrKindMissingCategory,
				fmt.Sprintf("product %q has no category header", product))
			continue
		}

		for _, i := range colIndexes {
			col := cols[i]
			if i >= len(row) {
				continue
			}
			cell := normalize.CleanText(row[i])
			if cell == "" || noDataMarkers[normalize.Fold(cell)] {
				continue
			}
			price, none, ok := normalize.ParsePrice(cell)
			if none {
				continue
			}
			if !ok {
				res.warn(model.ErrKindNonNumericPrice,
					fmt.Sprintf("product %q at %s: %q", product, col.place, cell))
				continue
			}
			res.Records = append(res.Records, model.PriceRecord{
				Product:      product,
				Presentation: annexPresentation,
				Units:        annexUnits,
				Category:     stack.category,
				Subcategory:  stack.subcategory,
				Place:        col.place,
				Submarket:    col.submarket,
				MinPrice:     price,
				MaxPrice:     price,
				Round:        1,
				BulletinDate: res.Date,
			})
		}
	}
	stack.flush(res.warn)

	zap.L().Debug("extracted spreadsheet",
		zap.String("path", path),
		zap.Int("records", len(res.Records)),
		zap.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

// readSpreadsheet loads the file into a string grid, choosing the reader by
// file signature. A file whose signature lies about its generation gets one
// try with the other reader before failing.
func readSpreadsheet(path string) ([][]string, error) {
	sig := make([]byte, 4)
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "extract: open spreadsheet")
	}
	_, err = f.Read(sig)
	f.Close()
	if err != nil {
		return nil, eris.Wrap(err, "extract: read spreadsheet signature")
	}

	if bytes.Equal(sig, oleSignature) {
		grid, err := readXLS(path)
		if err == nil {
			return grid, nil
		}
		return readXLSX(path)
	}
	if bytes.Equal(sig, zipSignature) {
		grid, err := readXLSX(path)
		if err == nil {
			return grid, nil
		}
		return readXLS(path)
	}
	return nil, eris.Errorf("extract: unrecognized spreadsheet signature % x", sig)
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "extract: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("extract: xlsx has no sheets")
	}

	var grid [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		grid = append(grid, cells)
	}
	return grid, nil
}

func readXLS(path string) ([][]string, error) {
	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, eris.Wrap(err, "extract: open xls")
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, eris.New("extract: xls has no sheets")
	}

	var grid [][]string
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			grid = append(grid, nil)
			continue
		}
		cells := make([]string, row.LastCol()+1)
		for j := 0; j <= row.LastCol(); j++ {
			cells[j] = row.Col(j)
		}
		grid = append(grid, cells)
	}
	return grid, nil
}
