// =============================================================================
// CFDI Control - Shared Types
// =============================================================================
//
// This package contains shared types used across multiple modules to avoid
// import cycles. Types defined here are used by:
//   - xmlparser   (produces RawRecord)
//   - validation  (consumes RawRecord)
//   - xlsxwriter  (addresses columns by ColumnID)
//   - converter   (reports errors by Kind)
//
// =============================================================================

package types

// =============================================================================
// COLUMN IDENTIFIERS
// =============================================================================

// ColumnID is the stable symbolic name of one business field. It is
// decoupled from the physical spreadsheet column, which is resolved through
// the template layout.
type ColumnID string

const (
	ColFecha           ColumnID = "fecha"
	ColFormaPago       ColumnID = "forma_pago"
	ColSubtotal        ColumnID = "subtotal"
	ColDescuento       ColumnID = "descuento"
	ColMoneda          ColumnID = "moneda"
	ColTotal           ColumnID = "total"
	ColTipoComprobante ColumnID = "tipo_comprobante"
	ColMetodoPago      ColumnID = "metodo_pago"
	ColEmisorRFC       ColumnID = "emisor_rfc"
	ColEmisorNombre    ColumnID = "emisor_nombre"
	ColEmisorRegimen   ColumnID = "emisor_regimen"
	ColReceptorRFC     ColumnID = "receptor_rfc"
	ColReceptorRegimen ColumnID = "receptor_regimen"
	ColUsoCFDI         ColumnID = "uso_cfdi"
	ColTotalImpuestos  ColumnID = "total_impuestos"
)

// AllColumns lists every column in template order (B..P).
var AllColumns = []ColumnID{
	ColFecha,
	ColFormaPago,
	ColSubtotal,
	ColDescuento,
	ColMoneda,
	ColTotal,
	ColTipoComprobante,
	ColMetodoPago,
	ColEmisorRFC,
	ColEmisorNombre,
	ColEmisorRegimen,
	ColReceptorRFC,
	ColReceptorRegimen,
	ColUsoCFDI,
	ColTotalImpuestos,
}

// AmountColumns are the columns that carry monetary amounts and receive the
// numeric display format when written to the template.
var AmountColumns = map[ColumnID]bool{
	ColSubtotal:       true,
	ColDescuento:      true,
	ColTotal:          true,
	ColTotalImpuestos: true,
}

// IsKnownColumn reports whether id is one of AllColumns.
func IsKnownColumn(id ColumnID) bool {
	for _, c := range AllColumns {
		if c == id {
			return true
		}
	}
	return false
}

// =============================================================================
// DATE RANGE
// =============================================================================

// DateRange holds the smallest and largest date strings seen in a batch.
// CFDI dates are ISO-8601 strings, so plain string ordering is used; this
// is not calendar aware.
type DateRange struct {
	Start string
	End   string
}

// IsZero reports whether no date has been observed.
func (d DateRange) IsZero() bool {
	return d.Start == "" && d.End == ""
}

// Observe widens the range to include date. Empty strings are ignored.
func (d *DateRange) Observe(date string) {
	if date == "" {
		return
	}
	if d.Start == "" || date < d.Start {
		d.Start = date
	}
	if d.End == "" || date > d.End {
		d.End = date
	}
}

// =============================================================================
// RAW RECORD
// =============================================================================

// RawRecord is the unvalidated flat extraction of one source document.
// It is built once by the mapper and never mutated afterwards; the
// accessors below are the only way to read it.
type RawRecord struct {
	fields map[ColumnID]string

	// SourcePath is the path of the document the record came from.
	SourcePath string

	// SourceName is the display name (base name) of the document.
	SourceName string
}

// NewRawRecord copies fields so the caller cannot mutate the record later.
func NewRawRecord(fields map[ColumnID]string, sourcePath, sourceName string) RawRecord {
	cp := make(map[ColumnID]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return RawRecord{fields: cp, SourcePath: sourcePath, SourceName: sourceName}
}

// Get returns the extracted value for id, or "" when the field is absent.
func (r RawRecord) Get(id ColumnID) string {
	return r.fields[id]
}

// Has reports whether the mapping produced a value slot for id.
func (r RawRecord) Has(id ColumnID) bool {
	_, ok := r.fields[id]
	return ok
}

// Fields returns a copy of the extracted values.
func (r RawRecord) Fields() map[ColumnID]string {
	cp := make(map[ColumnID]string, len(r.fields))
	for k, v := range r.fields {
		cp[k] = v
	}
	return cp
}
