package cmd

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/CFDI-control/internal/converter"
	"github.com/ginjaninja78/CFDI-control/internal/types"
	"github.com/ginjaninja78/CFDI-control/internal/validation"
	"github.com/ginjaninja78/CFDI-control/internal/xmlparser"
)

func TestErrorLogEntries(t *testing.T) {
	now := time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC)
	result := converter.Result{
		Kind:    types.KindPeriodNotFound,
		Message: "No se encontró la pestaña del mes 1 para el año 2024",
		DocumentFailures: []xmlparser.DocumentFailure{{
			Name: "roto.xml",
			Err:  types.NewOpError("xmlparser.extract", types.KindDocumentParse, "roto.xml", errors.New("malformed XML")),
		}},
		Outcome: validation.BatchOutcome{
			ValidationErrors: []*validation.ValidationError{
				{Field: types.ColTotal, Rule: validation.RuleRequired, Message: "Total es requerido", SourceName: "a.xml"},
				{Rule: validation.RuleUnexpected, Message: "Error inesperado: boom", SourceName: "b.xml"},
			},
		},
	}

	entries := errorLogEntries(result, now)
	require.Len(t, entries, 4)

	assert.Equal(t, "roto.xml", entries[0].FileName)
	assert.Equal(t, string(types.KindDocumentParse), entries[0].ErrorType)

	assert.Equal(t, string(types.KindRecordValidation), entries[1].ErrorType)
	assert.Equal(t, "total", entries[1].FieldName)

	assert.Equal(t, string(types.KindUnexpected), entries[2].ErrorType)

	assert.Empty(t, entries[3].FileName)
	assert.Equal(t, string(types.KindPeriodNotFound), entries[3].ErrorType)
	assert.Equal(t, now, entries[3].Timestamp)
}
