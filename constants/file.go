package constants

import "strings"

// ExportFormat identifies which tabular format an export actually produced.
type ExportFormat string

const (
	ExportFormatXLSX ExportFormat = "XLSX"
	ExportFormatCSV  ExportFormat = "CSV"
)

// InputExtensions holds the accepted source file extensions for row ingestion.
var InputExtensions = map[string]struct{}{
	"csv":  {},
	"xlsx": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
