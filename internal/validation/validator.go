// =============================================================================
// CFDI Control - Record Validation
// =============================================================================
//
// This module turns RawRecords into ValidatedRecords and checks the field
// rules every invoice row must satisfy before it may be written to the
// template:
//   - Fecha, Total, RFC del emisor and RFC del receptor are required
//   - Total and SubTotal, when present, must be non-negative numbers
//
// All rules run on every record; a record is never short-circuited after
// its first failure, so the caller always sees the full list.
//
// Numbers are parsed with shopspring/decimal. A CFDI amount such as
// "1160.00" is checked and summed without ever going through float64.
//
// =============================================================================

package validation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/CFDI-control/internal/types"
)

// =============================================================================
// VALIDATION ERROR TYPES
// =============================================================================

// Rule names used in ValidationError.Rule.
const (
	RuleRequired    = "required"
	RuleNumeric     = "numeric"
	RuleNonNegative = "non_negative"
	RuleUnexpected  = "unexpected"
)

// ValidationError represents a single rule violation on one record.
type ValidationError struct {
	// Field is the column that failed validation.
	Field types.ColumnID

	// Value is the raw value that failed validation.
	Value string

	// Rule is the validation rule that was violated.
	Rule string

	// Message is the user-facing (Spanish) message.
	Message string

	// SourceName is the display name of the document the record came from.
	SourceName string
}

// Error implements the error interface using the batch error list format.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.SourceName, e.Message)
}

// =============================================================================
// VALIDATED RECORD
// =============================================================================

// ValidatedRecord is the typed projection of one RawRecord. Values are kept
// exactly as extracted: no trimming, no reformatting of amounts.
type ValidatedRecord struct {
	Fecha           string
	FormaPago       string
	Subtotal        string
	Descuento       string
	Moneda          string
	Total           string
	TipoComprobante string
	MetodoPago      string
	EmisorRFC       string
	EmisorNombre    string
	EmisorRegimen   string
	ReceptorRFC     string
	ReceptorRegimen string
	UsoCFDI         string
	TotalImpuestos  string

	SourcePath string
	SourceName string
}

// NewValidatedRecord builds the candidate record for raw. It does not run
// any rule; call Check or Validate for that.
func NewValidatedRecord(raw types.RawRecord) ValidatedRecord {
	return ValidatedRecord{
		Fecha:           raw.Get(types.ColFecha),
		FormaPago:       raw.Get(types.ColFormaPago),
		Subtotal:        raw.Get(types.ColSubtotal),
		Descuento:       raw.Get(types.ColDescuento),
		Moneda:          raw.Get(types.ColMoneda),
		Total:           raw.Get(types.ColTotal),
		TipoComprobante: raw.Get(types.ColTipoComprobante),
		MetodoPago:      raw.Get(types.ColMetodoPago),
		EmisorRFC:       raw.Get(types.ColEmisorRFC),
		EmisorNombre:    raw.Get(types.ColEmisorNombre),
		EmisorRegimen:   raw.Get(types.ColEmisorRegimen),
		ReceptorRFC:     raw.Get(types.ColReceptorRFC),
		ReceptorRegimen: raw.Get(types.ColReceptorRegimen),
		UsoCFDI:         raw.Get(types.ColUsoCFDI),
		TotalImpuestos:  raw.Get(types.ColTotalImpuestos),
		SourcePath:      raw.SourcePath,
		SourceName:      raw.SourceName,
	}
}

// Value returns the value held for column id, or "" for an unknown id.
func (r ValidatedRecord) Value(id types.ColumnID) string {
	switch id {
	case types.ColFecha:
		return r.Fecha
	case types.ColFormaPago:
		return r.FormaPago
	case types.ColSubtotal:
		return r.Subtotal
	case types.ColDescuento:
		return r.Descuento
	case types.ColMoneda:
		return r.Moneda
	case types.ColTotal:
		return r.Total
	case types.ColTipoComprobante:
		return r.TipoComprobante
	case types.ColMetodoPago:
		return r.MetodoPago
	case types.ColEmisorRFC:
		return r.EmisorRFC
	case types.ColEmisorNombre:
		return r.EmisorNombre
	case types.ColEmisorRegimen:
		return r.EmisorRegimen
	case types.ColReceptorRFC:
		return r.ReceptorRFC
	case types.ColReceptorRegimen:
		return r.ReceptorRegimen
	case types.ColUsoCFDI:
		return r.UsoCFDI
	case types.ColTotalImpuestos:
		return r.TotalImpuestos
	}
	return ""
}

// Row exports the record as its spreadsheet row, keyed by column.
func (r ValidatedRecord) Row() map[types.ColumnID]string {
	row := make(map[types.ColumnID]string, len(types.AllColumns))
	for _, c := range types.AllColumns {
		row[c] = r.Value(c)
	}
	return row
}

// =============================================================================
// RULES
// =============================================================================

// requiredRule is one "must not be empty" check.
type requiredRule struct {
	column  types.ColumnID
	message string
}

// amountRule is one "numeric and not negative" check, applied only when
// the value is present.
type amountRule struct {
	column      types.ColumnID
	notNumeric  string
	notPositive string
}

// The order of these tables is the order of the messages.
var (
	requiredRules = []requiredRule{
		{types.ColFecha, "Fecha es requerida"},
		{types.ColTotal, "Total es requerido"},
		{types.ColEmisorRFC, "RFC del emisor es requerido"},
		{types.ColReceptorRFC, "RFC del receptor es requerido"},
	}

	amountRules = []amountRule{
		{types.ColTotal, "Total debe ser un número válido", "Total no puede ser negativo"},
		{types.ColSubtotal, "Subtotal debe ser un número válido", "Subtotal no puede ser negativo"},
	}
)

// Check runs every rule and returns one ValidationError per violation, in
// rule order. An empty result means the record is valid.
func (r ValidatedRecord) Check() []*ValidationError {
	var errs []*ValidationError

	fail := func(col types.ColumnID, rule, msg string) {
		errs = append(errs, &ValidationError{
			Field:      col,
			Value:      r.Value(col),
			Rule:       rule,
			Message:    msg,
			SourceName: r.SourceName,
		})
	}

	// =========================================================================
	// REQUIRED FIELD VALIDATION
	// =========================================================================

	for _, rule := range requiredRules {
		if r.Value(rule.column) == "" {
			fail(rule.column, RuleRequired, rule.message)
		}
	}

	// =========================================================================
	// AMOUNT VALIDATION
	// =========================================================================

	for _, rule := range amountRules {
		value := r.Value(rule.column)
		if value == "" {
			continue
		}
		amount, err := decimal.NewFromString(value)
		if err != nil {
			fail(rule.column, RuleNumeric, rule.notNumeric)
			continue
		}
		if amount.IsNegative() {
			fail(rule.column, RuleNonNegative, rule.notPositive)
		}
	}

	return errs
}

// Validate returns the messages of Check, in the same order.
func (r ValidatedRecord) Validate() []string {
	errs := r.Check()
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
	}
	return msgs
}

// TotalAmount returns the parsed total, or false when it is not a number.
func (r ValidatedRecord) TotalAmount() (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(r.Total)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
