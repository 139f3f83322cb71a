package source

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadRows_CSVTwoColumns(t *testing.T) {
	path := writeTempCSV(t, "doc_001,他举起了火焰剑。\ndoc_002,她施放了治疗术。\n")

	rows, err := ReadRows(path, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, []Row{
		{ID: "doc_001", Text: "他举起了火焰剑。"},
		{ID: "doc_002", Text: "她施放了治疗术。"},
	}, rows)
}

func TestReadRows_CSVSingleColumnGetsSyntheticIDs(t *testing.T) {
	path := writeTempCSV(t, "第一句\n第二句\n")

	rows, err := ReadRows(path, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, []Row{
		{ID: "row_0", Text: "第一句"},
		{ID: "row_1", Text: "第二句"},
	}, rows)
}

func TestReadRows_CSVRaggedRows(t *testing.T) {
	path := writeTempCSV(t, "doc_001,文本一,额外列\n单列文本\n")

	rows, err := ReadRows(path, slog.Default())
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, Row{ID: "doc_001", Text: "文本一"}, rows[0])
	assert.Equal(t, Row{ID: "row_1", Text: "单列文本"}, rows[1])
}

func TestReadRows_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetCellValue(sheet, "A1", "doc_001"))
	require.NoError(t, f.SetCellValue(sheet, "B1", "他举起了火焰剑。"))
	require.NoError(t, f.SetCellValue(sheet, "A2", "doc_002"))
	require.NoError(t, f.SetCellValue(sheet, "B2", "她施放了治疗术。"))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	rows, err := ReadRows(path, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, []Row{
		{ID: "doc_001", Text: "他举起了火焰剑。"},
		{ID: "doc_002", Text: "她施放了治疗术。"},
	}, rows)
}

func TestReadRows_UnsupportedExtension(t *testing.T) {
	_, err := ReadRows("notes.txt", slog.Default())
	assert.ErrorContains(t, err, "unsupported input extension")
}

func TestReadRows_MissingFile(t *testing.T) {
	_, err := ReadRows(filepath.Join(t.TempDir(), "missing.csv"), slog.Default())
	assert.Error(t, err)
}
