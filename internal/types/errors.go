package types

import (
	"errors"
	"fmt"
)

// ErrorKind is a coarse-grained, machine-distinguishable error category.
// Front-ends switch on it instead of inspecting concrete error types.
type ErrorKind string

const (
	KindDocumentParse    ErrorKind = "document_parse"
	KindRecordValidation ErrorKind = "record_validation"
	KindTemplateLoad     ErrorKind = "template_load"
	KindPeriodNotFound   ErrorKind = "period_not_found"
	KindPersistence      ErrorKind = "persistence"
	KindUnexpected       ErrorKind = "unexpected"
	KindInvalidRequest   ErrorKind = "invalid_request"
	KindNoDocuments      ErrorKind = "no_documents"
	KindCanceled         ErrorKind = "canceled"
)

// OpError wraps an underlying error with operation context and a kind.
type OpError struct {
	Op   string
	Kind ErrorKind
	Path string // Optional: relevant file path
	Err  error
}

func (e *OpError) Error() string {
	if e == nil {
		return "<nil>"
	}

	base := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Path != "" {
		base += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Err != nil {
		base += fmt.Sprintf(": %v", e.Err)
	}
	return base
}

func (e *OpError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOpError is a shorthand used by the pipeline packages.
func NewOpError(op string, kind ErrorKind, path string, err error) *OpError {
	return &OpError{Op: op, Kind: kind, Path: path, Err: err}
}

// IsKind reports whether err (or anything it wraps) is an OpError of kind.
func IsKind(err error, kind ErrorKind) bool {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind == kind
	}
	return false
}

// KindOf returns the kind of the outermost OpError in err's chain, or
// KindUnexpected when err carries no kind.
func KindOf(err error) ErrorKind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindUnexpected
}
