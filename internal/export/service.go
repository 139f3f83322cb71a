// Package export writes extracted term records to disk, preferring an XLSX
// workbook and falling back to CSV when the workbook cannot be written.
package export

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"termbatch/constants"
	"termbatch/internal/normalize"
)

const sheetName = "Terms"

var headers = []string{"row_id", "term", "type", "context"}

// Service renders term records into spreadsheet files.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// Export writes records to outPath as XLSX. If the workbook cannot be
// produced it retries as CSV next to the requested path, so a run never
// loses its records to a formatting failure. It returns the format
// actually written and the final path.
func (s *Service) Export(records []normalize.TermRecord, outPath string) (constants.ExportFormat, string, error) {
	start := time.Now()

	xlsxPath := withExt(outPath, ".xlsx")
	if err := s.writeXLSX(records, xlsxPath); err != nil {
		s.logger.Warn("export.xlsx.failed", "path", xlsxPath, "error", err)
		csvPath := withExt(outPath, ".csv")
		if cerr := s.writeCSV(records, csvPath); cerr != nil {
			return "", "", fmt.Errorf("csv fallback after xlsx failure (%v): %w", err, cerr)
		}
		s.logger.Info("export.csv.ok", "path", csvPath, "rows", len(records),
			"elapsed_ms", time.Since(start).Milliseconds())
		return constants.ExportFormatCSV, csvPath, nil
	}

	s.logger.Info("export.xlsx.ok", "path", xlsxPath, "rows", len(records),
		"elapsed_ms", time.Since(start).Milliseconds())
	return constants.ExportFormatXLSX, xlsxPath, nil
}

func (s *Service) writeXLSX(records []normalize.TermRecord, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if index, _ := f.GetSheetIndex(sheetName); index == -1 {
		if _, err := f.NewSheet(sheetName); err != nil {
			return err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheetName)
	f.SetActiveSheet(activeIndex)
	if defIdx, _ := f.GetSheetIndex("Sheet1"); defIdx != -1 && sheetName != "Sheet1" {
		_ = f.DeleteSheet("Sheet1")
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	for i, rec := range records {
		row := i + 2
		write := func(col int, v string) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
		write(1, rec.RowID)
		write(2, rec.Term)
		write(3, rec.Type)
		write(4, rec.Context)
	}

	_ = f.SetColWidth(sheetName, "A", "A", 14)
	_ = f.SetColWidth(sheetName, "B", "B", 28)
	_ = f.SetColWidth(sheetName, "C", "C", 16)
	_ = f.SetColWidth(sheetName, "D", "D", 60)

	return f.SaveAs(path)
}

// writeCSV emits UTF-8 with a BOM so spreadsheet tools detect the
// encoding for CJK content.
func (s *Service) writeCSV(records []normalize.TermRecord, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := out.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}

	w := csv.NewWriter(out)
	if err := w.Write(headers); err != nil {
		return err
	}
	for _, rec := range records {
		if err := w.Write([]string{rec.RowID, rec.Term, rec.Type, rec.Context}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return out.Close()
}

func withExt(path, ext string) string {
	cur := strings.ToLower(filepath.Ext(path))
	if cur == ext {
		return path
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
