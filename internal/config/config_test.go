package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/CFDI-control/internal/types"
)

func TestDefaultMappingIsValid(t *testing.T) {
	m := DefaultFieldMapping()
	require.NoError(t, m.Validate())
	assert.Len(t, m.Entries, 15)

	targets := map[types.ColumnID]bool{}
	for _, e := range m.Entries {
		targets[e.Column] = true
	}
	for _, c := range types.AllColumns {
		assert.True(t, targets[c], "column %s not mapped", c)
	}
}

func TestDefaultTemplateLayout(t *testing.T) {
	l := DefaultTemplateLayout()
	require.NoError(t, l.Validate())

	assert.Equal(t, 3, l.HeaderRow)
	assert.Equal(t, 4, l.DataStartRow)
	assert.Equal(t, "B", l.ColumnLetter(types.ColFecha))
	assert.Equal(t, "G", l.ColumnLetter(types.ColTotal))
	assert.Equal(t, "P", l.ColumnLetter(types.ColTotalImpuestos))
}

func TestLoadMainConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadMainConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.Equal(t, 1000, cfg.MaxFilesPerBatch)
	assert.Equal(t, "cfdi:Comprobante", cfg.Mapping.Root)
}

func TestLoadMainConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
output_dir: ./salida
log_level: DEBUG
max_concurrency: 2
template:
  header_row: 1
  data_start_row: 2
mapping:
  fields:
    - path: cfdi:Comprobante/@Fecha
      column: fecha
    - path: cfdi:Comprobante/@Total
      column: total
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadMainConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "./salida", cfg.OutputDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2, cfg.MaxConcurrency)
	assert.Equal(t, 1, cfg.Template.HeaderRow)
	assert.Equal(t, 2, cfg.Template.DataStartRow)
	assert.Len(t, cfg.Mapping.Entries, 2)
	// Namespaces and columns fall back to defaults.
	assert.NotEmpty(t, cfg.Mapping.Namespaces["cfdi"])
	assert.Equal(t, "B", cfg.Template.Columns[types.ColFecha])
}

func TestParseMainConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad log level", "log_level: loud\n"},
		{"data above header", "template:\n  header_row: 5\n  data_start_row: 2\n"},
		{"too much concurrency", "max_concurrency: 1000\n"},
		{"duplicate column", "mapping:\n  fields:\n    - {path: 'cfdi:Comprobante/@Total', column: total}\n    - {path: 'cfdi:Comprobante/@SubTotal', column: total}\n"},
		{"duplicate path", "mapping:\n  fields:\n    - {path: 'cfdi:Comprobante/@Total', column: total}\n    - {path: 'cfdi:Comprobante/@Total', column: subtotal}\n"},
		{"unknown prefix", "mapping:\n  fields:\n    - {path: 'tfd:Timbre/@UUID', column: total}\n"},
		{"unknown column", "mapping:\n  fields:\n    - {path: 'cfdi:Comprobante/@Total', column: importe}\n"},
		{"bad column letter", "template:\n  columns:\n    fecha: '1'\n"},
		{"not yaml", "log_level: [unclosed\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMainConfig([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := DefaultFieldMapping()
	c := m.Clone()
	c.Entries[0].Path = "changed"
	c.Namespaces["cfdi"][0] = "changed"

	assert.Equal(t, "cfdi:Comprobante/@Fecha", m.Entries[0].Path)
	assert.Equal(t, NamespaceCFDI40, m.Namespaces["cfdi"][0])

	l := DefaultTemplateLayout()
	lc := l.Clone()
	lc.Columns[types.ColFecha] = "Z"
	assert.Equal(t, "B", l.Columns[types.ColFecha])
}
