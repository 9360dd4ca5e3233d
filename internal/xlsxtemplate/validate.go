package xlsxtemplate

import (
	"fmt"
	"time"
)

// TemplateValidation is the result of the read-only pre-flight check.
type TemplateValidation struct {
	// Valid is true when at least one month of the year resolves.
	Valid bool

	// Loaded is false when the workbook could not be opened at all.
	Loaded bool

	Errors   []string
	Warnings []string

	// MonthsFound lists the months (1..12) that resolved, ascending.
	MonthsFound []int

	// Sheets maps each resolved month to its sheet name.
	Sheets map[int]string
}

// ValidateTemplate checks the template against the current year.
func ValidateTemplate(path string) TemplateValidation {
	return ValidateTemplateForYear(path, time.Now().Year())
}

// ValidateTemplateForYear tries to resolve all twelve months of year. It is
// a lax check: missing months are warnings, and only a template where no
// month resolves is invalid. The file is never modified.
func ValidateTemplateForYear(path string, year int) TemplateValidation {
	result := TemplateValidation{Sheets: map[int]string{}}

	f, err := Load(path)
	if err != nil {
		result.Errors = append(result.Errors, "No se pudo cargar la plantilla")
		return result
	}
	defer f.Close()
	result.Loaded = true

	names := f.GetSheetList()
	for month := 1; month <= 12; month++ {
		name, _, ok := Resolve(names, month, year)
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Pestaña del mes %d no encontrada", month))
			continue
		}
		result.MonthsFound = append(result.MonthsFound, month)
		result.Sheets[month] = name
	}

	if len(result.MonthsFound) == 0 {
		result.Errors = append(result.Errors, "No se encontraron pestañas de meses válidas")
		return result
	}

	result.Valid = true
	return result
}
