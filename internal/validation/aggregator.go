package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ginjaninja78/CFDI-control/internal/logging"
	"github.com/ginjaninja78/CFDI-control/internal/types"
)

// =============================================================================
// BATCH OUTCOME
// =============================================================================

// BatchOutcome aggregates one validation run.
//
// Successful + Failed always equals the number of records submitted. The
// date range only covers successful records.
type BatchOutcome struct {
	Successful int
	Failed     int

	// TotalAmount sums the Total of every successful record.
	TotalAmount decimal.Decimal

	// Currency is the Moneda of the last successful record that had one.
	Currency string

	DateRange types.DateRange

	// Errors holds "<source-name>: <message>" lines in processing order.
	Errors []string

	// ValidationErrors holds the structured form of the rule violations
	// behind Errors. Unexpected failures appear with RuleUnexpected.
	ValidationErrors []*ValidationError

	// Records are the accepted records in input order.
	Records []ValidatedRecord
}

// Total returns the number of records that were submitted.
func (o BatchOutcome) Total() int {
	return o.Successful + o.Failed
}

// Summary renders the outcome as the Spanish text shown to the user.
func (o BatchOutcome) Summary() string {
	var b strings.Builder

	b.WriteString("Procesamiento completado:\n")
	fmt.Fprintf(&b, "• Archivos procesados exitosamente: %d\n", o.Successful)
	fmt.Fprintf(&b, "• Archivos con errores: %d\n", o.Failed)

	if o.TotalAmount.IsPositive() {
		fmt.Fprintf(&b, "• Monto total: %s %s\n", o.TotalAmount.StringFixed(2), o.Currency)
	}
	if o.DateRange.Start != "" && o.DateRange.End != "" {
		fmt.Fprintf(&b, "• Rango de fechas: %s - %s\n", o.DateRange.Start, o.DateRange.End)
	}

	if len(o.Errors) > 0 {
		b.WriteString("\nErrores encontrados:\n")
		for _, e := range o.Errors {
			fmt.Fprintf(&b, "• %s\n", e)
		}
	}

	return b.String()
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator validates raw records and accumulates batch statistics.
type Aggregator struct {
	log logrus.FieldLogger

	// build constructs the candidate record. Replaced in tests to simulate
	// an internal failure.
	build func(types.RawRecord) ValidatedRecord
}

// NewAggregator creates an Aggregator. A nil logger discards output.
func NewAggregator(log logrus.FieldLogger) *Aggregator {
	return &Aggregator{
		log:   logging.OrDiscard(log),
		build: NewValidatedRecord,
	}
}

// Process validates every record in order and returns the batch outcome.
//
// A record with any rule violation is rejected and contributes all of its
// messages to the error list. A panic while handling one record is
// recovered, counted as a failure and recorded; the batch continues.
//
// The context is checked between records. On cancellation the partial
// outcome is discarded and ctx.Err() is returned.
func (a *Aggregator) Process(ctx context.Context, raws []types.RawRecord) (BatchOutcome, error) {
	out := BatchOutcome{TotalAmount: decimal.Zero}

	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return BatchOutcome{}, err
		}

		rec, violations, err := a.processOne(raw)
		if err != nil {
			out.Failed++
			out.Errors = append(out.Errors, raw.SourceName+": "+err.Error())
			out.ValidationErrors = append(out.ValidationErrors, &ValidationError{
				Rule:       RuleUnexpected,
				Message:    err.Error(),
				SourceName: raw.SourceName,
			})
			a.log.WithField("file", raw.SourceName).WithError(err).Error("unexpected error while validating record")
			continue
		}

		if len(violations) > 0 {
			out.Failed++
			for _, v := range violations {
				out.Errors = append(out.Errors, v.Error())
			}
			out.ValidationErrors = append(out.ValidationErrors, violations...)
			a.log.WithField("file", raw.SourceName).WithField("violations", len(violations)).Warn("record rejected")
			continue
		}

		out.Successful++
		out.Records = append(out.Records, rec)

		if amount, ok := rec.TotalAmount(); ok {
			out.TotalAmount = out.TotalAmount.Add(amount)
		}
		if rec.Moneda != "" {
			out.Currency = rec.Moneda
		}
	}

	for _, rec := range out.Records {
		out.DateRange.Observe(rec.Fecha)
	}

	a.log.WithFields(logrus.Fields{
		"successful": out.Successful,
		"failed":     out.Failed,
		"total":      out.TotalAmount.StringFixed(2),
	}).Info("validated CFDI records")

	return out, nil
}

// processOne builds and checks a single record, turning a panic into an
// error.
func (a *Aggregator) processOne(raw types.RawRecord) (rec ValidatedRecord, violations []*ValidationError, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("Error inesperado: %v", r)
		}
	}()

	rec = a.build(raw)
	return rec, rec.Check(), nil
}
