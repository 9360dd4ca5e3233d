// =============================================================================
// CFDI Control - Batch Orchestrator
// =============================================================================
//
// This module is the single entry point front-ends call. It runs one batch
// of CFDI documents into one monthly sheet of a control template.
//
// PROCESSING PIPELINE:
//   1. Check the request (month, document count)
//   2. Pre-flight check of the template
//   3. Extract every XML document
//   4. Validate the records and aggregate batch statistics
//   5. Fill the period sheet and save the output workbook
//
// No step is retried. A failure in steps 1, 2 or 5, or a batch where no
// document could be parsed, ends the run with a single descriptive Result.
// Failures of individual documents and records are recorded in the
// outcome's error list and the batch continues.
//
// CONCURRENCY:
//   A Converter is safe for concurrent use, but two runs must not target
//   the same output directory at the same second. Start runs a batch on a
//   background goroutine and reports ordered progress on a channel.
//
// =============================================================================

package converter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ginjaninja78/CFDI-control/internal/config"
	"github.com/ginjaninja78/CFDI-control/internal/logging"
	"github.com/ginjaninja78/CFDI-control/internal/types"
	"github.com/ginjaninja78/CFDI-control/internal/validation"
	"github.com/ginjaninja78/CFDI-control/internal/xlsxtemplate"
	"github.com/ginjaninja78/CFDI-control/internal/xlsxwriter"
	"github.com/ginjaninja78/CFDI-control/internal/xmlparser"
)

// =============================================================================
// REQUEST AND RESULT
// =============================================================================

// Request describes one batch.
type Request struct {
	// TemplatePath is the control workbook to fill. It is never modified.
	TemplatePath string

	// Documents are the CFDI XML files, in the order they are written.
	Documents []string

	// Year and Month select the period sheet. Month is 1..12.
	Year  int
	Month int

	// OutputDir receives the output workbook. Empty means the template's
	// directory.
	OutputDir string

	// Progress, when set, receives ordered progress notifications. Sends
	// block until received or the context is done.
	Progress chan<- Progress
}

// Progress is one progress notification.
type Progress struct {
	Percent int
	Status  string
}

// Result is the combined outcome of a run.
type Result struct {
	// RunID identifies the run in logs and summary files.
	RunID string

	Success bool

	// Kind classifies the failure. Empty on success.
	Kind types.ErrorKind

	// Message is the user-facing failure message. Empty on success.
	Message string

	// Err is the underlying error, for logs.
	Err error

	// Template is the pre-flight check of the template.
	Template xlsxtemplate.TemplateValidation

	// DocumentFailures lists the documents that could not be parsed.
	DocumentFailures []xmlparser.DocumentFailure

	// Outcome holds the validation statistics and error list. Document
	// failures are included in Outcome.Errors but not in its counts.
	Outcome validation.BatchOutcome

	// Report is the template writer's report.
	Report xlsxwriter.WriteReport

	StartTime time.Time
	Duration  time.Duration
}

// DocumentsParsed returns the number of documents that were extracted.
func (r Result) DocumentsParsed() int {
	return r.Outcome.Total()
}

// =============================================================================
// CONVERTER STRUCTURE
// =============================================================================

// Converter runs batches with one configuration.
type Converter struct {
	config     *config.MainConfig
	mapper     *xmlparser.Mapper
	aggregator *validation.Aggregator
	writer     *xlsxwriter.Writer
	log        logrus.FieldLogger
	now        func() time.Time
}

// Option configures a Converter.
type Option func(*options)

type options struct {
	log logrus.FieldLogger
	now func() time.Time
}

// WithLogger sets the logger passed down to every component.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// WithClock sets the clock used for timing and output file names.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a Converter from cfg. A nil cfg means DefaultMainConfig.
//
// RETURNS:
//   - The Converter.
//   - An error if the mapping or the template layout is invalid.
func New(cfg *config.MainConfig, opts ...Option) (*Converter, error) {
	if cfg == nil {
		cfg = config.DefaultMainConfig()
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	log := logging.OrDiscard(o.log)

	mapper, err := xmlparser.New(cfg.Mapping,
		xmlparser.WithMaxConcurrency(cfg.MaxConcurrency),
		xmlparser.WithLogger(log))
	if err != nil {
		return nil, err
	}

	writer, err := xlsxwriter.New(cfg.Template,
		xlsxwriter.WithLogger(log),
		xlsxwriter.WithClock(o.now))
	if err != nil {
		return nil, err
	}

	return &Converter{
		config:     cfg,
		mapper:     mapper,
		aggregator: validation.NewAggregator(log),
		writer:     writer,
		log:        log,
		now:        o.now,
	}, nil
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// Run executes the pipeline for req and blocks until it is done.
//
// A canceled context ends the run with KindCanceled at the next check:
// before each document, before each record and before the output is saved.
// A canceled run never leaves an output file.
func (c *Converter) Run(ctx context.Context, req Request) Result {
	start := c.now()
	result := Result{RunID: uuid.New().String(), StartTime: start}
	log := c.log.WithField("run_id", result.RunID)

	finish := func() Result {
		result.Duration = c.now().Sub(start)
		if result.Success {
			log.WithField("output", result.Report.OutputPath).WithField("duration", result.Duration).Info("batch completed")
		} else {
			log.WithField("kind", result.Kind).WithError(result.Err).Error("batch failed")
		}
		return result
	}
	fail := func(kind types.ErrorKind, msg string, err error) Result {
		result.Kind, result.Message, result.Err = kind, msg, err
		return finish()
	}
	canceled := func(err error) Result {
		return fail(types.KindCanceled, "Procesamiento cancelado",
			types.NewOpError("converter.run", types.KindCanceled, req.TemplatePath, err))
	}

	// =========================================================================
	// STEP 1: CHECK THE REQUEST
	// =========================================================================

	if err := c.checkRequest(req); err != nil {
		return fail(types.KindInvalidRequest, err.Error(),
			types.NewOpError("converter.run", types.KindInvalidRequest, req.TemplatePath, err))
	}

	log.WithFields(logrus.Fields{
		"template":  req.TemplatePath,
		"documents": len(req.Documents),
		"year":      req.Year,
		"month":     req.Month,
	}).Info("starting batch")

	// =========================================================================
	// STEP 2: PRE-FLIGHT TEMPLATE CHECK
	// =========================================================================
	// The check is lax: the template is usable when at least one month of
	// the requested year resolves. The requested month itself is resolved
	// by the writer.

	if !c.report(ctx, req, 10, "Validando plantilla Excel...") {
		return canceled(ctx.Err())
	}

	result.Template = xlsxtemplate.ValidateTemplateForYear(req.TemplatePath, req.Year)
	for _, w := range result.Template.Warnings {
		log.Debug(w)
	}
	if !result.Template.Valid {
		kind := types.KindPeriodNotFound
		if !result.Template.Loaded {
			kind = types.KindTemplateLoad
		}
		msg := "Error en la plantilla Excel:\n" + strings.Join(result.Template.Errors, "\n")
		return fail(kind, msg, types.NewOpError("converter.template", kind, req.TemplatePath,
			errors.New(strings.Join(result.Template.Errors, "; "))))
	}

	// =========================================================================
	// STEP 3: EXTRACT DOCUMENTS
	// =========================================================================

	if !c.report(ctx, req, 30, "Procesando archivos XML...") {
		return canceled(ctx.Err())
	}

	raws, failures, err := c.mapper.ExtractMany(ctx, req.Documents)
	if err != nil {
		return canceled(err)
	}
	result.DocumentFailures = failures

	if len(raws) == 0 {
		return fail(types.KindNoDocuments, "No se pudieron procesar los archivos XML.",
			types.NewOpError("converter.extract", types.KindNoDocuments, "",
				fmt.Errorf("none of %d documents could be parsed", len(req.Documents))))
	}

	// =========================================================================
	// STEP 4: VALIDATE AND AGGREGATE
	// =========================================================================

	if !c.report(ctx, req, 60, "Validando datos CFDI...") {
		return canceled(ctx.Err())
	}

	outcome, err := c.aggregator.Process(ctx, raws)
	if err != nil {
		return canceled(err)
	}

	// Parse failures are listed first, in input order, but not counted.
	if len(failures) > 0 {
		errs := make([]string, 0, len(failures)+len(outcome.Errors))
		for _, f := range failures {
			errs = append(errs, f.Message())
		}
		outcome.Errors = append(errs, outcome.Errors...)
	}
	result.Outcome = outcome

	// =========================================================================
	// STEP 5: FILL THE TEMPLATE
	// =========================================================================

	if !c.report(ctx, req, 80, "Llenando plantilla Excel...") {
		return canceled(ctx.Err())
	}

	result.Report = c.writer.Write(ctx, req.TemplatePath, outcome.Records, req.Year, req.Month, req.OutputDir)
	if !result.Report.Success {
		return fail(result.Report.Kind, result.Report.ErrorMessage, result.Report.ErrorOf())
	}

	// =========================================================================
	// COMPLETE
	// =========================================================================

	c.report(ctx, req, 100, "Completado")
	result.Success = true
	return finish()
}

// Start runs req on a background goroutine.
//
// RETURNS:
//   - A channel of ordered progress notifications, closed when the run ends.
//   - A channel that receives the Result exactly once.
func (c *Converter) Start(ctx context.Context, req Request) (<-chan Progress, <-chan Result) {
	progress := make(chan Progress, 8)
	done := make(chan Result, 1)
	req.Progress = progress

	go func() {
		defer close(progress)
		done <- c.Run(ctx, req)
	}()

	return progress, done
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// checkRequest rejects requests that can never succeed.
func (c *Converter) checkRequest(req Request) error {
	if !xlsxtemplate.ValidMonth(req.Month) {
		return fmt.Errorf("Mes inválido: %d", req.Month)
	}
	if req.TemplatePath == "" {
		return errors.New("Seleccione una plantilla Excel")
	}
	if len(req.Documents) == 0 {
		return errors.New("Seleccione al menos un archivo XML")
	}
	if limit := c.config.MaxFilesPerBatch; limit > 0 && len(req.Documents) > limit {
		return fmt.Errorf("Demasiados archivos XML: %d (máximo %d)", len(req.Documents), limit)
	}
	return nil
}

// report sends a progress notification and reports whether the run may
// continue.
func (c *Converter) report(ctx context.Context, req Request, percent int, status string) bool {
	if ctx.Err() != nil {
		return false
	}
	c.log.WithField("percent", percent).Debug(status)

	if req.Progress == nil {
		return true
	}
	select {
	case req.Progress <- Progress{Percent: percent, Status: status}:
		return true
	case <-ctx.Done():
		return false
	}
}
