// =============================================================================
// CFDI Control - Configuration Module
// =============================================================================
//
// This module is responsible for loading and managing the application
// configuration. It holds three kinds of settings:
//
//   1. Main settings (output/archive directories, logging, concurrency)
//   2. Template layout (header row, first data row, column letters)
//   3. Field mapping (XML path -> target column identifier)
//
// The field mapping and the template layout are process-wide, immutable
// configuration. They are loaded once at startup and injected into the
// mapper and the writer, never read from package-level state.
//
// CONFIGURATION FILE:
//   config.yaml (optional). Every key has a default, so a missing file is
//   equivalent to an empty one.
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/CFDI-control/internal/types"
)

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// MainConfig holds the global application configuration.
// This is loaded from the main config.yaml file.
type MainConfig struct {
	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// OutputDir is the directory where filled workbooks are written.
	// Empty means "next to the template".
	OutputDir string `yaml:"output_dir"`

	// ArchiveDir is where processed XML files are moved when archiving is
	// requested on the command line.
	// Default: "./xml_archive"
	ArchiveDir string `yaml:"archive_dir"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	// LogFile is the path to the application log file. Empty disables the
	// file sink; logs still go to stderr.
	// Default: "./logs/cfdi_control.log"
	LogFile string `yaml:"log_file"`

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error"
	// Default: "info"
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// =========================================================================
	// PROCESSING SETTINGS
	// =========================================================================

	// MaxConcurrency bounds the number of XML documents parsed at once.
	// Set to 1 for sequential processing.
	// Default: 4
	MaxConcurrency int `yaml:"max_concurrency" validate:"min=1,max=64"`

	// MaxFilesPerBatch rejects runs with more input documents than this.
	// Default: 1000
	MaxFilesPerBatch int `yaml:"max_files_per_batch" validate:"min=1"`

	// WriteErrorLog writes the batch error list to a text file in the
	// output directory when a run reports errors.
	WriteErrorLog bool `yaml:"write_error_log"`

	// =========================================================================
	// TEMPLATE AND MAPPING
	// =========================================================================

	Template TemplateLayout `yaml:"template"`
	Mapping  FieldMapping   `yaml:"mapping"`
}

// =============================================================================
// TEMPLATE LAYOUT
// =============================================================================

// TemplateLayout is the fixed structural contract of the destination
// workbook. Rows are 1-based, as in the spreadsheet itself.
type TemplateLayout struct {
	// HeaderRow is the row holding the column headers.
	// Default: 3
	HeaderRow int `yaml:"header_row" validate:"min=1"`

	// DataStartRow is the first row written with records.
	// Default: 4
	DataStartRow int `yaml:"data_start_row" validate:"gtfield=HeaderRow"`

	// Columns maps each target column identifier to its column letter.
	// Default: fecha=B ... total_impuestos=P
	Columns map[types.ColumnID]string `yaml:"columns"`
}

// ColumnLetter returns the physical column of id, or "" if unmapped.
func (l TemplateLayout) ColumnLetter(id types.ColumnID) string {
	return l.Columns[id]
}

// =============================================================================
// FIELD MAPPING
// =============================================================================

// FieldMapping is the declarative extraction table. Entries are ordered;
// paths and target columns are both unique.
type FieldMapping struct {
	// Root is the qualified name of the expected document root element.
	// Default: "cfdi:Comprobante"
	Root string `yaml:"root" validate:"required"`

	// Namespaces maps a path prefix to the namespace URIs it accepts.
	// CFDI 4.0 and 3.3 share the "cfdi" prefix and the same attribute names.
	Namespaces map[string][]string `yaml:"namespaces" validate:"required,min=1"`

	// Entries are the (source path, target column) pairs, in order.
	Entries []MappingEntry `yaml:"fields" validate:"required,min=1,dive"`
}

// MappingEntry is one row of the mapping table.
//
// Path syntax:
//   - "cfdi:Comprobante/@Fecha"  : attribute of the root element
//   - "cfdi:Emisor/@Rfc"         : attribute of a child of the root
//   - "cfdi:Addenda/x:Nota"      : text content of a nested element
type MappingEntry struct {
	Path   string         `yaml:"path" validate:"required"`
	Column types.ColumnID `yaml:"column" validate:"required"`
}

// Namespace URIs accepted for the "cfdi" prefix.
const (
	NamespaceCFDI40 = "http://www.sat.gob.mx/cfd/4"
	NamespaceCFDI33 = "http://www.sat.gob.mx/cfd/3"
)

// DefaultFieldMapping returns the built-in 15 entry CFDI mapping.
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		Root: "cfdi:Comprobante",
		Namespaces: map[string][]string{
			"cfdi": {NamespaceCFDI40, NamespaceCFDI33},
		},
		Entries: []MappingEntry{
			{Path: "cfdi:Comprobante/@Fecha", Column: types.ColFecha},
			{Path: "cfdi:Comprobante/@FormaPago", Column: types.ColFormaPago},
			{Path: "cfdi:Comprobante/@SubTotal", Column: types.ColSubtotal},
			{Path: "cfdi:Comprobante/@Descuento", Column: types.ColDescuento},
			{Path: "cfdi:Comprobante/@Moneda", Column: types.ColMoneda},
			{Path: "cfdi:Comprobante/@Total", Column: types.ColTotal},
			{Path: "cfdi:Comprobante/@TipoDeComprobante", Column: types.ColTipoComprobante},
			{Path: "cfdi:Comprobante/@MetodoPago", Column: types.ColMetodoPago},
			{Path: "cfdi:Emisor/@Rfc", Column: types.ColEmisorRFC},
			{Path: "cfdi:Emisor/@Nombre", Column: types.ColEmisorNombre},
			{Path: "cfdi:Emisor/@RegimenFiscal", Column: types.ColEmisorRegimen},
			{Path: "cfdi:Receptor/@Rfc", Column: types.ColReceptorRFC},
			{Path: "cfdi:Receptor/@RegimenFiscalReceptor", Column: types.ColReceptorRegimen},
			{Path: "cfdi:Receptor/@UsoCFDI", Column: types.ColUsoCFDI},
			{Path: "cfdi:Impuestos/@TotalImpuestosTrasladados", Column: types.ColTotalImpuestos},
		},
	}
}

// DefaultTemplateLayout returns the layout of the standard control
// workbook: headers on row 3, data from row 4, columns B through P.
func DefaultTemplateLayout() TemplateLayout {
	columns := make(map[types.ColumnID]string, len(types.AllColumns))
	for i, id := range types.AllColumns {
		name, _ := excelize.ColumnNumberToName(i + 2) // B is column 2
		columns[id] = name
	}
	return TemplateLayout{
		HeaderRow:    3,
		DataStartRow: 4,
		Columns:      columns,
	}
}

// DefaultMainConfig returns the configuration used when no file is present.
func DefaultMainConfig() *MainConfig {
	cfg := &MainConfig{}
	applyMainConfigDefaults(cfg)
	return cfg
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// LoadMainConfig loads the main configuration from a YAML file.
//
// PARAMETERS:
//   - configPath: The path to the main configuration file. A missing file
//     is not an error; defaults are returned instead.
//
// RETURNS:
//   - A pointer to the MainConfig struct.
//   - An error if the file cannot be read, parsed or validated.
func LoadMainConfig(configPath string) (*MainConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultMainConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseMainConfig(data)
}

// ParseMainConfig parses YAML bytes, applies defaults and validates.
func ParseMainConfig(data []byte) (*MainConfig, error) {
	var config MainConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyMainConfigDefaults(&config)

	if err := validateMainConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyMainConfigDefaults sets default values for any unset configuration options.
func applyMainConfigDefaults(config *MainConfig) {
	if config.ArchiveDir == "" {
		config.ArchiveDir = "./xml_archive"
	}
	if config.LogFile == "" {
		config.LogFile = "./logs/cfdi_control.log"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	config.LogLevel = strings.ToLower(config.LogLevel)
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 4
	}
	if config.MaxFilesPerBatch == 0 {
		config.MaxFilesPerBatch = 1000
	}

	layout := DefaultTemplateLayout()
	if config.Template.HeaderRow == 0 {
		config.Template.HeaderRow = layout.HeaderRow
	}
	if config.Template.DataStartRow == 0 {
		config.Template.DataStartRow = layout.DataStartRow
	}
	if len(config.Template.Columns) == 0 {
		config.Template.Columns = layout.Columns
	}

	mapping := DefaultFieldMapping()
	if config.Mapping.Root == "" {
		config.Mapping.Root = mapping.Root
	}
	if len(config.Mapping.Namespaces) == 0 {
		config.Mapping.Namespaces = mapping.Namespaces
	}
	if len(config.Mapping.Entries) == 0 {
		config.Mapping.Entries = mapping.Entries
	}
}

// validate is shared; validator.Validate caches struct metadata and is
// safe for concurrent use.
var validate = validator.New()

// validateMainConfig validates the main configuration.
func validateMainConfig(config *MainConfig) error {
	if err := validate.Struct(config); err != nil {
		return err
	}
	if err := config.Template.Validate(); err != nil {
		return err
	}
	return config.Mapping.Validate()
}

// Validate re-checks the configuration, e.g. after command line overrides.
func (c *MainConfig) Validate() error {
	return validateMainConfig(c)
}

// Validate checks the layout column table: every column known, every
// letter a valid spreadsheet column, no two columns sharing a letter.
func (l TemplateLayout) Validate() error {
	if l.DataStartRow <= l.HeaderRow {
		return fmt.Errorf("template.data_start_row (%d) must be below template.header_row (%d)", l.DataStartRow, l.HeaderRow)
	}
	used := make(map[string]types.ColumnID, len(l.Columns))
	for id, letter := range l.Columns {
		if !types.IsKnownColumn(id) {
			return fmt.Errorf("template.columns: unknown column %q", id)
		}
		letter = strings.ToUpper(strings.TrimSpace(letter))
		if _, err := excelize.ColumnNameToNumber(letter); err != nil {
			return fmt.Errorf("template.columns: %s: %w", id, err)
		}
		if other, dup := used[letter]; dup {
			return fmt.Errorf("template.columns: %s and %s both use column %s", other, id, letter)
		}
		used[letter] = id
	}
	return nil
}

// Validate enforces the mapping invariants: unique paths, unique target
// columns, known columns, and prefixes declared in Namespaces.
func (m FieldMapping) Validate() error {
	if err := validate.Struct(m); err != nil {
		return err
	}
	if err := m.checkPrefix(m.Root); err != nil {
		return fmt.Errorf("mapping.root: %w", err)
	}

	paths := make(map[string]bool, len(m.Entries))
	columns := make(map[types.ColumnID]string, len(m.Entries))
	for _, e := range m.Entries {
		if paths[e.Path] {
			return fmt.Errorf("mapping.fields: duplicate path %q", e.Path)
		}
		paths[e.Path] = true

		if prev, dup := columns[e.Column]; dup {
			return fmt.Errorf("mapping.fields: column %q targeted by both %q and %q", e.Column, prev, e.Path)
		}
		columns[e.Column] = e.Path

		if !types.IsKnownColumn(e.Column) {
			return fmt.Errorf("mapping.fields: unknown column %q", e.Column)
		}

		elementPath, _, _ := strings.Cut(e.Path, "/@")
		for _, seg := range strings.Split(elementPath, "/") {
			if err := m.checkPrefix(seg); err != nil {
				return fmt.Errorf("mapping.fields: %q: %w", e.Path, err)
			}
		}
	}
	return nil
}

func (m FieldMapping) checkPrefix(qname string) error {
	if qname == "" {
		return errors.New("empty element name")
	}
	prefix, _, ok := strings.Cut(qname, ":")
	if !ok {
		return nil
	}
	if len(m.Namespaces[prefix]) == 0 {
		return fmt.Errorf("undeclared namespace prefix %q", prefix)
	}
	return nil
}

// Clone returns a deep copy so the holder can treat its mapping as
// immutable regardless of what the caller does with the original.
func (m FieldMapping) Clone() FieldMapping {
	ns := make(map[string][]string, len(m.Namespaces))
	for k, v := range m.Namespaces {
		ns[k] = append([]string(nil), v...)
	}
	return FieldMapping{
		Root:       m.Root,
		Namespaces: ns,
		Entries:    append([]MappingEntry(nil), m.Entries...),
	}
}

// Clone returns a deep copy of the layout.
func (l TemplateLayout) Clone() TemplateLayout {
	cols := make(map[types.ColumnID]string, len(l.Columns))
	for k, v := range l.Columns {
		cols[k] = strings.ToUpper(strings.TrimSpace(v))
	}
	return TemplateLayout{HeaderRow: l.HeaderRow, DataStartRow: l.DataStartRow, Columns: cols}
}
