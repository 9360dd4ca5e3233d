package xlsxwriter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/CFDI-control/internal/config"
	"github.com/ginjaninja78/CFDI-control/internal/types"
	"github.com/ginjaninja78/CFDI-control/internal/validation"
)

var fixedNow = time.Date(2024, time.January, 15, 14, 30, 22, 0, time.UTC)

// newTemplate builds a control template with an "Ene2024" sheet holding a
// header in row 3 and four stale data rows, one of them wider than the
// mapped columns.
func newTemplate(t *testing.T, sheets ...string) string {
	t.Helper()
	if len(sheets) == 0 {
		sheets = []string{"Ene2024", "Feb2024"}
	}

	f := excelize.NewFile()
	defer f.Close()
	for _, name := range sheets {
		_, err := f.NewSheet(name)
		require.NoError(t, err)
		require.NoError(t, f.SetCellStr(name, "A1", "Control de CFDI"))
		require.NoError(t, f.SetSheetRow(name, "B3", &[]interface{}{"Fecha", "Forma de pago", "Subtotal"}))
		for row := 4; row <= 7; row++ {
			cell, _ := excelize.CoordinatesToCellName(2, row)
			require.NoError(t, f.SetSheetRow(name, cell, &[]interface{}{"viejo", "99", 1.5}))
		}
		require.NoError(t, f.SetCellStr(name, "Q4", "nota vieja"))
	}
	require.NoError(t, f.DeleteSheet("Sheet1"))

	path := filepath.Join(t.TempDir(), "plantilla.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func newWriter(t *testing.T) *Writer {
	t.Helper()
	w, err := New(config.DefaultTemplateLayout(), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return w
}

func record(name, fecha, total string) validation.ValidatedRecord {
	return validation.NewValidatedRecord(types.NewRawRecord(map[types.ColumnID]string{
		types.ColFecha:          fecha,
		types.ColFormaPago:      "01",
		types.ColSubtotal:       "1000.00",
		types.ColDescuento:      "0.00",
		types.ColMoneda:         "MXN",
		types.ColTotal:          total,
		types.ColEmisorRFC:      "AAA010101AAA",
		types.ColReceptorRFC:    "XEXX010101000",
		types.ColTotalImpuestos: "",
	}, "", name))
}

func sampleRecords() []validation.ValidatedRecord {
	return []validation.ValidatedRecord{
		record("a.xml", "2024-01-15", "1160.00"),
		record("b.xml", "2024-01-16", "1260.00"),
		record("c.xml", "2024-01-17", "1360.00"),
	}
}

func openOutput(t *testing.T, path string) *excelize.File {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestWriteFillsPeriodSheet(t *testing.T) {
	tpl := newTemplate(t)
	out := t.TempDir()

	report := newWriter(t).Write(context.Background(), tpl, sampleRecords(), 2024, 1, out)
	require.True(t, report.Success, report.ErrorMessage)
	assert.Equal(t, 3, report.RecordsProcessed)
	assert.Equal(t, "Ene2024", report.Sheet)
	assert.Empty(t, report.ErrorMessage)
	assert.Equal(t, filepath.Join(out, "plantilla_CFDI_2024_01_20240115_143022.xlsx"), report.OutputPath)
	assert.Equal(t, []string{"plantilla_CFDI_2024_01_20240115_143022.xlsx"}, listDir(t, out))

	f := openOutput(t, report.OutputPath)
	get := func(cell string) string {
		v, err := f.GetCellValue("Ene2024", cell)
		require.NoError(t, err)
		return v
	}

	// Header and title survive.
	assert.Equal(t, "Control de CFDI", get("A1"))
	assert.Equal(t, "Fecha", get("B3"))

	// Rows 4..6 hold the records in order.
	assert.Equal(t, "2024-01-15", get("B4"))
	assert.Equal(t, "2024-01-17", get("B6"))
	assert.Equal(t, "01", get("C4"))
	assert.Equal(t, "AAA010101AAA", get("J4"))
	assert.Equal(t, "1,160.00", get("G4"))

	// Stale data is gone.
	assert.Equal(t, "", get("B7"))
	assert.Equal(t, "", get("D7"))
	assert.Equal(t, "", get("Q4"))

	// The other month is untouched.
	other, err := f.GetCellValue("Feb2024", "B4")
	require.NoError(t, err)
	assert.Equal(t, "viejo", other)
}

func TestWriteFormatsOnlyNonZeroAmounts(t *testing.T) {
	tpl := newTemplate(t)
	report := newWriter(t).Write(context.Background(), tpl, sampleRecords(), 2024, 1, t.TempDir())
	require.True(t, report.Success, report.ErrorMessage)

	f := openOutput(t, report.OutputPath)
	raw := func(cell string) string {
		v, err := f.GetCellValue("Ene2024", cell, excelize.Options{RawCellValue: true})
		require.NoError(t, err)
		return v
	}
	numFmt := func(cell string) int {
		id, err := f.GetCellStyle("Ene2024", cell)
		require.NoError(t, err)
		style, err := f.GetStyle(id)
		require.NoError(t, err)
		return style.NumFmt
	}

	// Total (G) is numeric and formatted.
	assert.Equal(t, "1160", raw("G4"))
	assert.Equal(t, amountNumFmt, numFmt("G4"))
	cellType, err := f.GetCellType("Ene2024", "G4")
	require.NoError(t, err)
	assert.NotEqual(t, excelize.CellTypeSharedString, cellType)

	// Descuento (E) is zero: plain text, no format.
	assert.Equal(t, "0.00", raw("E4"))
	assert.Equal(t, 0, numFmt("E4"))

	// Moneda (F) is never formatted.
	assert.Equal(t, "MXN", raw("F4"))
}

func TestWriteKeepsAmountsFloatCannotHoldAsText(t *testing.T) {
	long := "12345678901234.567891"
	records := []validation.ValidatedRecord{
		record("a.xml", "2024-01-15", long),
		record("b.xml", "2024-01-16", "1160.123456"),
	}

	report := newWriter(t).Write(context.Background(), newTemplate(t), records, 2024, 1, t.TempDir())
	require.True(t, report.Success, report.ErrorMessage)

	f := openOutput(t, report.OutputPath)
	get := func(cell string) string {
		v, err := f.GetCellValue("Ene2024", cell, excelize.Options{RawCellValue: true})
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, long, get("G4"))
	assert.Equal(t, "1160.123456", get("G5"))

	id, err := f.GetCellStyle("Ene2024", "G4")
	require.NoError(t, err)
	style, err := f.GetStyle(id)
	require.NoError(t, err)
	assert.Equal(t, 0, style.NumFmt)
}

func TestExactAmount(t *testing.T) {
	tests := []struct {
		value string
		want  float64
		ok    bool
	}{
		{"1160.00", 1160, true},
		{"0.10", 0.1, true},
		{"1160.123456", 1160.123456, true},
		{"0.00", 0, false},
		{"abc", 0, false},
		{"12345678901234.567891", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, ok := exactAmount(tt.value)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteIsIdempotent(t *testing.T) {
	tpl := newTemplate(t)
	before, err := os.ReadFile(tpl)
	require.NoError(t, err)

	out := t.TempDir()
	w := newWriter(t)
	first := w.Write(context.Background(), tpl, sampleRecords(), 2024, 1, out)
	second := w.Write(context.Background(), tpl, sampleRecords(), 2024, 1, out)
	require.True(t, first.Success, first.ErrorMessage)
	require.True(t, second.Success, second.ErrorMessage)

	// Same second: the second run must not overwrite the first.
	assert.NotEqual(t, first.OutputPath, second.OutputPath)
	assert.Equal(t, filepath.Join(out, "plantilla_CFDI_2024_01_20240115_143022_1.xlsx"), second.OutputPath)

	a, b := openOutput(t, first.OutputPath), openOutput(t, second.OutputPath)
	for row := 1; row <= 10; row++ {
		for col := 1; col <= 17; col++ {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			va, err := a.GetCellValue("Ene2024", cell)
			require.NoError(t, err)
			vb, err := b.GetCellValue("Ene2024", cell)
			require.NoError(t, err)
			assert.Equal(t, va, vb, cell)
		}
	}

	after, err := os.ReadFile(tpl)
	require.NoError(t, err)
	assert.Equal(t, before, after, "template must not be modified")
}

func TestWriteDefaultsToTemplateDirectory(t *testing.T) {
	tpl := newTemplate(t)
	report := newWriter(t).Write(context.Background(), tpl, sampleRecords()[:1], 2024, 1, "")
	require.True(t, report.Success, report.ErrorMessage)
	assert.Equal(t, filepath.Dir(tpl), filepath.Dir(report.OutputPath))
}

func TestWriteFailures(t *testing.T) {
	badTemplate := filepath.Join(t.TempDir(), "bad.xlsx")
	require.NoError(t, os.WriteFile(badTemplate, []byte("not a workbook"), 0o644))

	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name     string
		ctx      context.Context
		template string
		month    int
		outDir   string
		kind     types.ErrorKind
		message  string
	}{
		{"unreadable template", context.Background(), badTemplate, 1, "", types.KindTemplateLoad, "No se pudo cargar la plantilla Excel"},
		{"missing period", context.Background(), newTemplate(t, "Resumen"), 1, "", types.KindPeriodNotFound, "No se encontró la pestaña del mes 1 para el año 2024"},
		{"invalid month", context.Background(), newTemplate(t), 13, "", types.KindPeriodNotFound, "No se encontró la pestaña del mes 13 para el año 2024"},
		{"canceled", canceled, newTemplate(t), 1, "", types.KindCanceled, "Procesamiento cancelado"},
		{"unwritable output", context.Background(), newTemplate(t), 1, filepath.Join(blocker, "out"), types.KindPersistence, "No se pudo guardar el archivo de salida"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outDir := tt.outDir
			if outDir == "" {
				outDir = t.TempDir()
			}

			report := newWriter(t).Write(tt.ctx, tt.template, sampleRecords(), 2024, tt.month, outDir)
			assert.False(t, report.Success)
			assert.Equal(t, tt.kind, report.Kind)
			assert.Equal(t, tt.message, report.ErrorMessage)
			assert.Empty(t, report.OutputPath)
			assert.Equal(t, 0, report.RecordsProcessed)
			assert.Error(t, report.ErrorOf())

			if tt.outDir == "" {
				assert.Empty(t, listDir(t, outDir), "no file may be written")
			}
		})
	}
}

func TestNewRejectsInvalidLayout(t *testing.T) {
	layout := config.DefaultTemplateLayout()
	layout.DataStartRow = layout.HeaderRow

	_, err := New(layout)
	assert.Error(t, err)
}
