// =============================================================================
// CFDI Control - Process Command
// =============================================================================
//
// This file defines the 'process' command, which runs one batch of CFDI XML
// documents into one monthly sheet of a control template.
//
// COMMAND USAGE:
//   cfdi process --template T [--year Y] --month M [flags] <xml files or dirs>
//
// EXIT STATUS:
//   0 when the output workbook was written, even if some documents or
//   records were rejected (they are listed in the output); 1 otherwise.
//
// =============================================================================

package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/CFDI-control/internal/config"
	"github.com/ginjaninja78/CFDI-control/internal/converter"
	"github.com/ginjaninja78/CFDI-control/internal/types"
	"github.com/ginjaninja78/CFDI-control/internal/validation"
	"github.com/ginjaninja78/CFDI-control/pkg/utils"
)

// processOptions holds the flags of the process command.
type processOptions struct {
	template         string
	year             int
	month            int
	archive          bool
	archiveRetention time.Duration
	summaryLog       bool
}

var processOpts processOptions

// =============================================================================
// PROCESS COMMAND DEFINITION
// =============================================================================

var processCmd = &cobra.Command{
	Use:   "process [xml files or directories...]",
	Short: "Fill the monthly sheet of a template with CFDI invoices",
	Long: `The process command reads the given CFDI XML documents (directories are
scanned for *.xml), validates every invoice and writes the valid ones into
the sheet of the template that matches --month and --year.

Sheets are matched by name, first match wins:
  1. "Ene2024" (abbreviation + year)
  2. "01"      (month number)
  3. "Enero"   (full month name)
  4. any sheet whose name contains "Ene2024", ignoring case and accents

On success:
  - The filled workbook is saved as <template>_CFDI_<YYYY>_<MM>_<timestamp>.xlsx
  - Rejected documents and invoices are listed with their reasons
  - With --archive, the processed XML files are moved to archive_dir

On error:
  - Nothing is written
  - The reason is printed and the command exits with status 1`,

	Args: cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		return runProcess(cmd, args, processOpts)
	},
}

func init() {
	rootCmd.AddCommand(processCmd)

	flags := processCmd.Flags()
	flags.StringVarP(&processOpts.template, "template", "t", "", "Excel control template (.xlsx)")
	flags.IntVarP(&processOpts.year, "year", "y", time.Now().Year(), "Year of the period")
	flags.IntVarP(&processOpts.month, "month", "m", 0, "Month of the period (1-12)")
	flags.String("output-dir", "", "Directory for the output workbook (default: template directory)")
	flags.Int("max-concurrency", 0, "Number of XML documents parsed in parallel")
	flags.Bool("error-log", false, "Write the error list to error_log_<timestamp>.txt in the output directory")
	flags.BoolVar(&processOpts.archive, "archive", false, "Move processed XML files to archive_dir after a successful run")
	flags.DurationVar(&processOpts.archiveRetention, "archive-retention", 0, "With --archive, delete archived files older than this (e.g. 720h)")
	flags.BoolVar(&processOpts.summaryLog, "summary-log", false, "Write processing_summary_<timestamp>.txt in the output directory")

	processCmd.MarkFlagRequired("template")
	processCmd.MarkFlagRequired("month")

	mustBind(keyOutputDir, flags.Lookup("output-dir"))
	mustBind(keyMaxConcurrency, flags.Lookup("max-concurrency"))
	mustBind(keyWriteErrorLog, flags.Lookup("error-log"))
}

// =============================================================================
// PROCESS IMPLEMENTATION
// =============================================================================

func runProcess(cmd *cobra.Command, args []string, opts processOptions) error {
	out := cmd.OutOrStdout()

	// =========================================================================
	// STEP 1: LOAD CONFIGURATION
	// =========================================================================

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	// =========================================================================
	// STEP 2: DISCOVER INPUT FILES
	// =========================================================================

	documents, err := utils.DiscoverXMLFiles(args)
	if err != nil {
		return err
	}
	if len(documents) == 0 {
		return fmt.Errorf("no XML files found in %v", args)
	}
	fmt.Fprintf(out, "Found %d XML file(s)\n", len(documents))

	// =========================================================================
	// STEP 3: RUN THE BATCH
	// =========================================================================
	// Ctrl+C cancels the run; nothing is written after cancellation.

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conv, err := converter.New(cfg, converter.WithLogger(log))
	if err != nil {
		return err
	}

	progress, done := conv.Start(ctx, converter.Request{
		TemplatePath: opts.template,
		Documents:    documents,
		Year:         opts.year,
		Month:        opts.month,
		OutputDir:    cfg.OutputDir,
	})
	for p := range progress {
		fmt.Fprintf(out, "[%3d%%] %s\n", p.Percent, p.Status)
	}
	result := <-done

	// =========================================================================
	// STEP 4: REPORT
	// =========================================================================

	printResult(out, result)
	writeLogs(cfg, opts, result, log)

	if !result.Success {
		return fmt.Errorf("%s", result.Message)
	}

	// =========================================================================
	// STEP 5: ARCHIVE FILES
	// =========================================================================

	if opts.archive {
		archiveDocuments(cfg, opts, documents, result, log)
	}

	return nil
}

// printResult writes the outcome the way the user reads it: the summary,
// every error verbatim and the output file.
func printResult(out io.Writer, result converter.Result) {
	fmt.Fprintln(out)
	if result.Outcome.Total() > 0 || len(result.Outcome.Errors) > 0 {
		fmt.Fprint(out, result.Outcome.Summary())
	}

	if !result.Success {
		fmt.Fprintf(out, "\nError: %s\n", result.Message)
		return
	}

	fmt.Fprintf(out, "\nRegistros llenados: %d\n", result.Report.RecordsProcessed)
	fmt.Fprintf(out, "Pestaña: %s\n", result.Report.Sheet)
	fmt.Fprintf(out, "Archivo de salida: %s\n", result.Report.OutputPath)
}

// writeLogs writes the optional error and summary files. Failures are
// logged and do not change the result.
func writeLogs(cfg *config.MainConfig, opts processOptions, result converter.Result, log logrus.FieldLogger) {
	dir := logDir(cfg, opts, result)
	now := result.StartTime.Add(result.Duration)

	if cfg.WriteErrorLog {
		entries := errorLogEntries(result, now)
		if path, err := utils.WriteErrorLog(entries, dir, now); err != nil {
			log.WithError(err).Warn("failed to write error log")
		} else if path != "" {
			log.WithField("path", path).Info("error log written")
		}
	}

	if opts.summaryLog {
		summary := utils.ProcessingSummary{
			RunID:           result.RunID,
			StartTime:       result.StartTime,
			EndTime:         now,
			TemplatePath:    opts.template,
			OutputFile:      result.Report.OutputPath,
			Year:            opts.year,
			Month:           opts.month,
			TotalFiles:      result.DocumentsParsed() + len(result.DocumentFailures),
			ParseFailures:   len(result.DocumentFailures),
			SuccessfulFiles: result.Outcome.Successful,
			FailedFiles:     result.Outcome.Failed,
			RecordsWritten:  result.Report.RecordsProcessed,
			TotalAmount:     result.Outcome.TotalAmount.StringFixed(2),
			Currency:        result.Outcome.Currency,
			DateStart:       result.Outcome.DateRange.Start,
			DateEnd:         result.Outcome.DateRange.End,
			Errors:          result.Outcome.Errors,
		}
		if !result.Success {
			summary.Errors = append(summary.Errors, result.Message)
		}
		if path, err := utils.WriteSummaryLog(summary, dir); err != nil {
			log.WithError(err).Warn("failed to write summary log")
		} else {
			log.WithField("path", path).Info("summary log written")
		}
	}
}

// logDir is where error and summary files go: the output directory, or the
// template's directory when none is configured.
func logDir(cfg *config.MainConfig, opts processOptions, result converter.Result) string {
	if result.Report.OutputPath != "" {
		return filepath.Dir(result.Report.OutputPath)
	}
	if cfg.OutputDir != "" {
		return cfg.OutputDir
	}
	return filepath.Dir(opts.template)
}

// errorLogEntries flattens document failures, rule violations and a
// terminal failure into log entries.
func errorLogEntries(result converter.Result, now time.Time) []utils.ErrorLogEntry {
	var entries []utils.ErrorLogEntry

	for _, f := range result.DocumentFailures {
		entries = append(entries, utils.ErrorLogEntry{
			Timestamp:    now,
			FileName:     f.Name,
			ErrorType:    string(types.KindOf(f.Err)),
			ErrorMessage: f.Err.Error(),
		})
	}

	for _, v := range result.Outcome.ValidationErrors {
		kind := types.KindRecordValidation
		if v.Rule == validation.RuleUnexpected {
			kind = types.KindUnexpected
		}
		entries = append(entries, utils.ErrorLogEntry{
			Timestamp:    now,
			FileName:     v.SourceName,
			ErrorType:    string(kind),
			ErrorMessage: v.Message,
			FieldName:    string(v.Field),
			FieldValue:   v.Value,
		})
	}

	if !result.Success {
		entries = append(entries, utils.ErrorLogEntry{
			Timestamp:    now,
			ErrorType:    string(result.Kind),
			ErrorMessage: result.Message,
		})
	}

	return entries
}

// archiveDocuments moves every successfully parsed document to the archive.
// Documents that failed to parse stay in place so they can be fixed.
func archiveDocuments(cfg *config.MainConfig, opts processOptions, documents []string, result converter.Result, log logrus.FieldLogger) {
	failed := make(map[int]bool, len(result.DocumentFailures))
	for _, f := range result.DocumentFailures {
		failed[f.Index] = true
	}

	fm := utils.NewFileManager(cfg.OutputDir, cfg.ArchiveDir)
	fm.UseTimestampSubdirs = true
	if err := fm.EnsureDirectories(); err != nil {
		log.WithError(err).Warn("failed to create archive directory")
		return
	}

	for i, doc := range documents {
		if failed[i] {
			continue
		}
		if path, err := fm.ArchiveInputFile(doc); err != nil {
			log.WithField("file", doc).WithError(err).Warn("failed to archive document")
		} else {
			log.WithField("file", doc).WithField("archive", path).Debug("document archived")
		}
	}

	if opts.archiveRetention > 0 {
		removed, err := utils.CleanOldArchives(cfg.ArchiveDir, opts.archiveRetention, time.Now())
		if err != nil {
			log.WithError(err).Warn("failed to clean old archives")
			return
		}
		log.WithField("removed", removed).Info("old archives cleaned")
	}
}
