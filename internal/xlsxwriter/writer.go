// =============================================================================
// CFDI Control - Template Writer
// =============================================================================
//
// This module fills one monthly sheet of an accounting template with
// validated CFDI records and saves the result as a new workbook.
//
// WRITE PROCESS:
//   1. Load the template workbook
//   2. Resolve the sheet for the requested period
//   3. Clear every cell from the first data row down, across the used range
//   4. Write one record per row, starting at the first data row
//   5. Name the output "<stem>_CFDI_<YYYY>_<MM>_<YYYYMMDD_HHMMSS>.xlsx"
//   6. Save to a temporary file in the output directory, then rename it
//
// The template file itself is never written. All edits happen on the
// in-memory workbook, and the output only appears under its final name once
// it has been completely saved.
//
// CELL FORMAT:
//   Amount columns (subtotal, descuento, total, total_impuestos) holding a
//   non-zero number are stored as float64 numbers with the "#,##0.00"
//   format, unless float64 would round them. Everything else is stored as
//   text, exactly as extracted.
//
// =============================================================================

package xlsxwriter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/CFDI-control/internal/config"
	"github.com/ginjaninja78/CFDI-control/internal/logging"
	"github.com/ginjaninja78/CFDI-control/internal/types"
	"github.com/ginjaninja78/CFDI-control/internal/validation"
	"github.com/ginjaninja78/CFDI-control/internal/xlsxtemplate"
	"github.com/ginjaninja78/CFDI-control/pkg/utils"
)

// DefaultNameFormat is the output file name format.
const DefaultNameFormat = "{stem}_CFDI_{year}_{month}_{timestamp}.xlsx"

// amountNumFmt is the built-in "#,##0.00" number format.
const amountNumFmt = 4

// User-facing failure messages.
const (
	msgTemplateLoad   = "No se pudo cargar la plantilla Excel"
	msgPeriodNotFound = "No se encontró la pestaña del mes %d para el año %d"
	msgFill           = "Error al llenar la pestaña del mes"
	msgPersistence    = "No se pudo guardar el archivo de salida"
	msgCanceled       = "Procesamiento cancelado"
)

// =============================================================================
// WRITE REPORT
// =============================================================================

// WriteReport is the result of one Write call.
type WriteReport struct {
	Success bool

	// OutputPath is the saved workbook. Empty on failure.
	OutputPath string

	// RecordsProcessed is the number of rows written.
	RecordsProcessed int

	// ErrorMessage is the user-facing message, set only on failure.
	ErrorMessage string

	// Kind classifies the failure. Empty on success.
	Kind types.ErrorKind

	// Sheet and Strategy describe how the period was resolved.
	Sheet    string
	Strategy xlsxtemplate.Strategy

	// Err is the underlying error, for logs.
	Err error
}

func failure(kind types.ErrorKind, msg string, err error) WriteReport {
	return WriteReport{Kind: kind, ErrorMessage: msg, Err: err}
}

// =============================================================================
// WRITER
// =============================================================================

// Writer writes validated records into template copies.
type Writer struct {
	layout     config.TemplateLayout
	nameFormat string
	now        func() time.Time
	log        logrus.FieldLogger
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(w *Writer) { w.log = logging.OrDiscard(log) }
}

// WithClock sets the clock used for output file names.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithNameFormat overrides DefaultNameFormat. See utils.GenerateOutputFileName
// for the placeholders; {stem}, {year} and {month} are also available.
func WithNameFormat(format string) Option {
	return func(w *Writer) { w.nameFormat = format }
}

// New creates a Writer for layout.
func New(layout config.TemplateLayout, opts ...Option) (*Writer, error) {
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("invalid template layout: %w", err)
	}

	w := &Writer{
		layout:     layout.Clone(),
		nameFormat: DefaultNameFormat,
		now:        time.Now,
		log:        logging.Discard(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Write fills the sheet for (month, year) of the template with records and
// saves the result in outputDir, or next to the template when outputDir is
// empty.
//
// Failures never panic and never touch the template; they are described by
// the returned report. The context is checked once more before saving, so a
// canceled run never produces an output file.
func (w *Writer) Write(ctx context.Context, templatePath string, records []validation.ValidatedRecord, year, month int, outputDir string) WriteReport {
	log := w.log.WithField("template", templatePath)

	// =========================================================================
	// STEP 1: Load the template
	// =========================================================================

	f, err := xlsxtemplate.Load(templatePath)
	if err != nil {
		log.WithError(err).Error("failed to load template")
		return failure(types.KindTemplateLoad, msgTemplateLoad, err)
	}
	defer f.Close()

	// =========================================================================
	// STEP 2: Resolve the period sheet
	// =========================================================================

	sheet, strategy, ok := xlsxtemplate.ResolveSheet(f, month, year)
	if !ok {
		err := types.NewOpError("xlsxwriter.resolve", types.KindPeriodNotFound, templatePath,
			fmt.Errorf("no sheet for %s (month %d, year %d)", xlsxtemplate.MonthTabName(month, year), month, year))
		log.WithError(err).Error("period sheet not found")
		return failure(types.KindPeriodNotFound, fmt.Sprintf(msgPeriodNotFound, month, year), err)
	}
	log = log.WithField("sheet", sheet).WithField("strategy", strategy.String())

	// =========================================================================
	// STEP 3 & 4: Clear old data and write the records
	// =========================================================================

	if err := w.fill(f, sheet, records); err != nil {
		err = types.NewOpError("xlsxwriter.fill", types.KindUnexpected, templatePath, err)
		log.WithError(err).Error("failed to fill period sheet")
		return failure(types.KindUnexpected, msgFill, err)
	}

	if err := ctx.Err(); err != nil {
		log.Warn("write canceled before saving")
		return failure(types.KindCanceled, msgCanceled, types.NewOpError("xlsxwriter.write", types.KindCanceled, templatePath, err))
	}

	// =========================================================================
	// STEP 5 & 6: Name and persist the output
	// =========================================================================

	if outputDir == "" {
		outputDir = filepath.Dir(templatePath)
	}
	outputPath, err := w.persist(f, templatePath, outputDir, year, month)
	if err != nil {
		log.WithError(err).Error("failed to save output workbook")
		return failure(types.KindPersistence, msgPersistence, err)
	}

	log.WithField("output", outputPath).WithField("records", len(records)).Info("template filled")

	return WriteReport{
		Success:          true,
		OutputPath:       outputPath,
		RecordsProcessed: len(records),
		Sheet:            sheet,
		Strategy:         strategy,
	}
}

// =============================================================================
// SHEET EDITING
// =============================================================================

// fill clears the data region of sheet and writes records into it.
func (w *Writer) fill(f *excelize.File, sheet string, records []validation.ValidatedRecord) error {
	if err := w.clear(f, sheet); err != nil {
		return err
	}

	style, err := f.NewStyle(&excelize.Style{NumFmt: amountNumFmt})
	if err != nil {
		return fmt.Errorf("failed to create amount style: %w", err)
	}

	for i, rec := range records {
		row := w.layout.DataStartRow + i
		for _, col := range types.AllColumns {
			letter := w.layout.ColumnLetter(col)
			if letter == "" {
				continue
			}
			cell, err := excelize.JoinCellName(strings.ToUpper(strings.TrimSpace(letter)), row)
			if err != nil {
				return err
			}
			if err := writeCell(f, sheet, cell, col, rec.Value(col), style); err != nil {
				return fmt.Errorf("%s: %w", cell, err)
			}
		}
	}

	return nil
}

// clear resets every cell at or below the first data row, up to the widest
// row currently in the sheet.
func (w *Writer) clear(f *excelize.File, sheet string) error {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}

	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}

	for rowIdx := w.layout.DataStartRow; rowIdx <= len(rows); rowIdx++ {
		for colIdx := 1; colIdx <= width; colIdx++ {
			cell, err := excelize.CoordinatesToCellName(colIdx, rowIdx)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, nil); err != nil {
				return fmt.Errorf("failed to clear %s: %w", cell, err)
			}
		}
	}

	return nil
}

// writeCell stores one value. Amounts that are non-zero numbers become
// numeric cells (float64) with the amount format; empty values leave the
// cell blank. An amount a float64 cannot hold exactly, such as one with more
// than about 15 significant digits, is kept as text so no digit is lost.
func writeCell(f *excelize.File, sheet, cell string, col types.ColumnID, value string, amountStyle int) error {
	if value == "" {
		return nil
	}

	if types.AmountColumns[col] {
		if amount, ok := exactAmount(value); ok {
			if err := f.SetCellFloat(sheet, cell, amount, -1, 64); err != nil {
				return err
			}
			return f.SetCellStyle(sheet, cell, cell, amountStyle)
		}
	}

	return f.SetCellStr(sheet, cell, value)
}

// exactAmount parses value as a non-zero amount that round-trips through
// float64 without changing.
func exactAmount(value string) (float64, bool) {
	amount, err := decimal.NewFromString(value)
	if err != nil || amount.IsZero() {
		return 0, false
	}
	f := amount.InexactFloat64()
	if !decimal.NewFromFloat(f).Equal(amount) {
		return 0, false
	}
	return f, true
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// persist saves f under its generated name in outputDir. The workbook is
// first saved to a uniquely named temporary file in the same directory and
// then renamed, so a failed save never leaves a partial output behind.
func (w *Writer) persist(f *excelize.File, templatePath, outputDir string, year, month int) (string, error) {
	fail := func(path string, err error) (string, error) {
		return "", types.NewOpError("xlsxwriter.save", types.KindPersistence, path, err)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fail(outputDir, err)
	}

	stem := strings.TrimSuffix(filepath.Base(templatePath), filepath.Ext(templatePath))
	name := utils.GenerateOutputFileName(w.nameFormat, map[string]string{
		"stem":  stem,
		"year":  fmt.Sprintf("%d", year),
		"month": fmt.Sprintf("%02d", month),
	}, w.now())
	target := utils.UniquePath(filepath.Join(outputDir, name))

	tmp := filepath.Join(outputDir, fmt.Sprintf(".%s.tmp.xlsx", uuid.New().String()))
	if err := f.SaveAs(tmp); err != nil {
		os.Remove(tmp)
		return fail(tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fail(target, err)
	}

	return target, nil
}

// ErrorOf returns the report's failure as an error, or nil on success.
func (r WriteReport) ErrorOf() error {
	if r.Success {
		return nil
	}
	if r.Err != nil {
		return r.Err
	}
	return errors.New(r.ErrorMessage)
}
