package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, time.January, 15, 14, 30, 22, 0, time.UTC)

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("<x/>"), 0o644))
	return path
}

func TestGenerateOutputFileName(t *testing.T) {
	name := GenerateOutputFileName("{stem}_CFDI_{year}_{month}_{timestamp}.xlsx",
		map[string]string{"stem": "Control", "year": "2024", "month": "01"}, fixedNow)
	assert.Equal(t, "Control_CFDI_2024_01_20240115_143022.xlsx", name)

	withID := GenerateOutputFileName("{date}_{time}_{uuid}.tmp", nil, fixedNow)
	assert.True(t, strings.HasPrefix(withID, "20240115_143022_"))
	assert.Len(t, withID, len("20240115_143022_")+36+len(".tmp"))
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.xlsx")
	assert.Equal(t, path, UniquePath(path))

	touch(t, path)
	assert.Equal(t, filepath.Join(dir, "out_1.xlsx"), UniquePath(path))

	touch(t, filepath.Join(dir, "out_1.xlsx"))
	assert.Equal(t, filepath.Join(dir, "out_2.xlsx"), UniquePath(path))
}

func TestDiscoverXMLFiles(t *testing.T) {
	dir := t.TempDir()
	a := touch(t, filepath.Join(dir, "b.xml"))
	touch(t, filepath.Join(dir, "a.XML"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "sub", "c.xml"))
	other := touch(t, filepath.Join(t.TempDir(), "factura.dat"))

	files, err := DiscoverXMLFiles([]string{dir, a, other})
	require.NoError(t, err)

	want := []string{filepath.Join(dir, "a.XML"), a, other}
	assert.ElementsMatch(t, want, files)
	assert.IsIncreasing(t, files)

	_, err = DiscoverXMLFiles([]string{filepath.Join(dir, "missing.xml")})
	assert.Error(t, err)
}

func TestArchiveInputFile(t *testing.T) {
	src := touch(t, filepath.Join(t.TempDir(), "factura.xml"))
	archive := filepath.Join(t.TempDir(), "archive")

	fm := NewFileManager(t.TempDir(), archive)
	fm.UseTimestampSubdirs = true
	fm.Now = func() time.Time { return fixedNow }

	got, err := fm.ArchiveInputFile(src)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(archive, "2024", "01", "15", "factura.xml"), got)
	assert.False(t, FileExists(src))
	assert.True(t, FileExists(got))
}

func TestWriteErrorLog(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteErrorLog(nil, dir, fixedNow)
	require.NoError(t, err)
	assert.Empty(t, path)

	path, err = WriteErrorLog([]ErrorLogEntry{{
		Timestamp:    fixedNow,
		FileName:     "c.xml",
		ErrorType:    "record_validation",
		ErrorMessage: "Total es requerido",
		FieldName:    "total",
	}}, dir, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "error_log_20240115_143022.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "Total Errors: 1")
	assert.Contains(t, text, "[c.xml]\n  14:30:22  record_validation  Total es requerido\n")
	assert.Contains(t, text, `field=total value=""`)
}

func TestWriteErrorLogGroupsByDocument(t *testing.T) {
	entries := []ErrorLogEntry{
		{Timestamp: fixedNow, FileName: "b.xml", ErrorType: "record_validation", ErrorMessage: "Fecha es requerida"},
		{Timestamp: fixedNow, FileName: "a.xml", ErrorType: "document_parse", ErrorMessage: "malformed XML"},
		{Timestamp: fixedNow, FileName: "b.xml", ErrorType: "record_validation", ErrorMessage: "Total es requerido"},
		{Timestamp: fixedNow, ErrorType: "period_not_found", ErrorMessage: "No se encontró la pestaña"},
	}

	path, err := WriteErrorLog(entries, t.TempDir(), fixedNow)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, "Documents:    3")
	b, a, run := strings.Index(text, "[b.xml]"), strings.Index(text, "[a.xml]"), strings.Index(text, "[lote]")
	assert.True(t, b < a && a < run, text)
	assert.Less(t, strings.Index(text, "Fecha es requerida"), a)
	assert.Less(t, strings.Index(text, "Total es requerido"), a)
}

func TestWriteSummaryLog(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteSummaryLog(ProcessingSummary{
		RunID:           "run-1",
		StartTime:       fixedNow.Add(-2 * time.Second),
		EndTime:         fixedNow,
		Year:            2024,
		Month:           1,
		TotalFiles:      3,
		SuccessfulFiles: 3,
		TotalAmount:     "3780.00",
		Currency:        "MXN",
		Errors:          []string{"x.xml: malformed XML"},
	}, dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Equal(t, filepath.Join(dir, "processing_summary_20240115_143022.txt"), path)
	assert.Contains(t, text, "  Period:          2024-01\n")
	assert.Contains(t, text, "  Duration:        2s\n")
	assert.Contains(t, text, "  Total amount:    3780.00 MXN\n")
	assert.Contains(t, text, "Errors (1)")
	assert.Contains(t, text, "x.xml: malformed XML")
}

func TestCleanOldArchives(t *testing.T) {
	dir := t.TempDir()
	old := touch(t, filepath.Join(dir, "2023", "old.xml"))
	fresh := touch(t, filepath.Join(dir, "fresh.xml"))
	require.NoError(t, os.Chtimes(old, fixedNow.AddDate(0, 0, -40), fixedNow.AddDate(0, 0, -40)))
	require.NoError(t, os.Chtimes(fresh, fixedNow, fixedNow))

	removed, err := CleanOldArchives(dir, 30*24*time.Hour, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, FileExists(old))
	assert.NoDirExists(t, filepath.Join(dir, "2023"))
	assert.True(t, FileExists(fresh))
	assert.DirExists(t, dir)
}
