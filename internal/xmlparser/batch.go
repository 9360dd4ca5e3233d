package xmlparser

import (
	"context"
	"path/filepath"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/CFDI-control/internal/types"
)

// DocumentFailure records one document that could not be extracted.
type DocumentFailure struct {
	// Index is the document's position in the ExtractMany input.
	Index int

	// Path is the document path as given.
	Path string

	// Name is the display name of the document.
	Name string

	// Err is the KindDocumentParse error.
	Err error
}

// Message formats the failure as "<name>: <error>" for the batch error list.
func (f DocumentFailure) Message() string {
	return f.Name + ": " + f.Err.Error()
}

// ExtractMany extracts every document in paths.
//
// Documents are parsed by up to maxConcurrency workers, but the returned
// records keep the input order, so downstream statistics do not depend on
// scheduling. Failing documents are left out of the records and reported
// in the failures slice instead.
//
// The context is checked before each document is started; on cancellation
// the records extracted so far are discarded and ctx.Err() is returned.
func (m *Mapper) ExtractMany(ctx context.Context, paths []string) ([]types.RawRecord, []DocumentFailure, error) {
	type slot struct {
		record types.RawRecord
		err    error
		done   bool
	}
	slots := make([]slot, len(paths))

	workers := m.maxConcurrency
	if workers > len(paths) {
		workers = len(paths)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				rec, err := m.Extract(paths[i])
				slots[i] = slot{record: rec, err: err, done: true}
			}
		}()
	}

	var cancelErr error
feed:
	for i := range paths {
		if err := ctx.Err(); err != nil {
			cancelErr = err
			break
		}
		select {
		case <-ctx.Done():
			cancelErr = ctx.Err()
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if cancelErr != nil {
		return nil, nil, cancelErr
	}

	records := make([]types.RawRecord, 0, len(paths))
	var failures []DocumentFailure
	for i, s := range slots {
		if !s.done {
			continue
		}
		if s.err != nil {
			failures = append(failures, DocumentFailure{
				Index: i,
				Path:  paths[i],
				Name:  filepath.Base(paths[i]),
				Err:   s.err,
			})
			continue
		}
		records = append(records, s.record)
	}

	m.log.WithField("parsed", len(records)).WithField("failed", len(failures)).Info("extracted CFDI documents")
	return records, failures, nil
}

// =============================================================================
// PRE-VALIDATION SUMMARY
// =============================================================================

// Summary describes a set of raw records before validation.
type Summary struct {
	TotalFiles  int
	TotalAmount decimal.Decimal

	// Currencies lists the distinct currency codes seen, sorted.
	Currencies []string

	DateRange types.DateRange
}

// Summarize computes a quick overview of raw records. Totals that are not
// numbers are skipped.
func Summarize(records []types.RawRecord) Summary {
	s := Summary{TotalFiles: len(records), TotalAmount: decimal.Zero}
	seen := map[string]bool{}

	for _, r := range records {
		if total, err := decimal.NewFromString(r.Get(types.ColTotal)); err == nil {
			s.TotalAmount = s.TotalAmount.Add(total)
		}
		if cur := r.Get(types.ColMoneda); cur != "" && !seen[cur] {
			seen[cur] = true
			s.Currencies = append(s.Currencies, cur)
		}
		s.DateRange.Observe(r.Get(types.ColFecha))
	}

	sort.Strings(s.Currencies)
	return s
}
