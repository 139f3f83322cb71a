package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"termbatch/constants"
)

// Row is one unit of input: an identifier and the free-form text to extract
// terms from. Rows are immutable once read.
type Row struct {
	ID   string
	Text string
}

// ReadRows loads rows from a CSV or XLSX file, chosen by extension.
// Layout is fixed: first column is the row id, second column is the text.
// Single-column files get a synthetic positional id, matching the original
// tool's virtual-id behavior for one-column spreadsheets.
func ReadRows(path string, logger *slog.Logger) ([]Row, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ext := constants.NormalizeExt(filepath.Ext(path))
	if _, ok := constants.InputExtensions[ext]; !ok {
		return nil, fmt.Errorf("unsupported input extension %q (want csv or xlsx)", ext)
	}

	var (
		rows []Row
		err  error
	)
	switch ext {
	case "csv":
		rows, err = readCSV(path)
	case "xlsx":
		rows, err = readXLSX(path)
	}
	if err != nil {
		logger.Error("source.read.failed", "path", path, "err", err)
		return nil, err
	}
	logger.Info("source.read.ok", "path", path, "rows", len(rows))
	return rows, nil
}

func readCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate ragged rows

	var rows []Row
	idx := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		rows = append(rows, rowFromRecord(rec, idx))
		idx++
	}
	return rows, nil
}

func readXLSX(path string) ([]Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("xlsx has no sheets")
	}
	recs, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	rows := make([]Row, 0, len(recs))
	for i, rec := range recs {
		rows = append(rows, rowFromRecord(rec, i))
	}
	return rows, nil
}

// rowFromRecord maps a raw record onto a Row. Two or more cells: first is the
// id, second is the text. One cell: synthetic id from the record position.
func rowFromRecord(rec []string, idx int) Row {
	switch {
	case len(rec) >= 2:
		return Row{ID: strings.TrimSpace(rec[0]), Text: rec[1]}
	case len(rec) == 1:
		return Row{ID: "row_" + strconv.Itoa(idx), Text: rec[0]}
	default:
		return Row{ID: "row_" + strconv.Itoa(idx)}
	}
}
