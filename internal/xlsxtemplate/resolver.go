// =============================================================================
// CFDI Control - Template Sheet Resolver
// =============================================================================
//
// This module locates the sheet of an accounting template that belongs to a
// given period. Real templates name their monthly sheets in different ways,
// so the lookup tries a fixed list of strategies in order and the first
// match wins:
//
//   1. Abbreviation + year, exact     "Ene2024"
//   2. Two-digit month number, exact  "01"
//   3. Full month name, exact         "Enero"
//   4. Any sheet whose name contains the step 1 name, ignoring case and
//      accents                        "Facturas ENE2024"
//
// Every strategy is a pure function of the sheet names, so resolution can be
// tested without a workbook.
//
// =============================================================================

package xlsxtemplate

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ginjaninja78/CFDI-control/internal/types"
)

// =============================================================================
// MONTH NAMES
// =============================================================================

var monthAbbreviations = [12]string{
	"Ene", "Feb", "Mar", "Abr", "May", "Jun",
	"Jul", "Ago", "Sep", "Oct", "Nov", "Dic",
}

var monthNames = [12]string{
	"Enero", "Febrero", "Marzo", "Abril", "Mayo", "Junio",
	"Julio", "Agosto", "Septiembre", "Octubre", "Noviembre", "Diciembre",
}

// ValidMonth reports whether month is in 1..12.
func ValidMonth(month int) bool {
	return month >= 1 && month <= 12
}

// MonthTabName returns the canonical sheet name for a period, e.g.
// MonthTabName(1, 2024) == "Ene2024". It returns "" for an invalid month.
func MonthTabName(month, year int) string {
	if !ValidMonth(month) {
		return ""
	}
	return fmt.Sprintf("%s%d", monthAbbreviations[month-1], year)
}

// MonthName returns the full Spanish month name, or "" for an invalid month.
func MonthName(month int) string {
	if !ValidMonth(month) {
		return ""
	}
	return monthNames[month-1]
}

// =============================================================================
// STRATEGIES
// =============================================================================

// Strategy identifies which naming convention matched a sheet.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyAbbreviation
	StrategyMonthNumber
	StrategyFullName
	StrategyContains
)

// String returns the strategy name used in logs.
func (s Strategy) String() string {
	switch s {
	case StrategyAbbreviation:
		return "abbreviation"
	case StrategyMonthNumber:
		return "month_number"
	case StrategyFullName:
		return "full_name"
	case StrategyContains:
		return "contains"
	default:
		return "none"
	}
}

// matcher returns the matching sheet name, if any.
type matcher struct {
	strategy Strategy
	match    func(names []string, month, year int) (string, bool)
}

// strategies is tried in order.
var strategies = []matcher{
	{StrategyAbbreviation, func(names []string, month, year int) (string, bool) {
		return exact(names, MonthTabName(month, year))
	}},
	{StrategyMonthNumber, func(names []string, month, _ int) (string, bool) {
		return exact(names, fmt.Sprintf("%02d", month))
	}},
	{StrategyFullName, func(names []string, month, _ int) (string, bool) {
		return exact(names, MonthName(month))
	}},
	{StrategyContains, func(names []string, month, year int) (string, bool) {
		want := fold(MonthTabName(month, year))
		for _, name := range names {
			if strings.Contains(fold(name), want) {
				return name, true
			}
		}
		return "", false
	}},
}

func exact(names []string, want string) (string, bool) {
	for _, name := range names {
		if name == want {
			return name, true
		}
	}
	return "", false
}

// fold lowercases s and strips combining marks, so "DICIEMBRE" and
// "Diciémbre" compare equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// Resolve picks the sheet for (month, year) from names.
//
// RETURNS:
//   - The matching sheet name.
//   - The strategy that matched.
//   - false when the month is invalid or no strategy matched.
func Resolve(names []string, month, year int) (string, Strategy, bool) {
	if !ValidMonth(month) {
		return "", StrategyNone, false
	}
	for _, s := range strategies {
		if name, ok := s.match(names, month, year); ok {
			return name, s.strategy, true
		}
	}
	return "", StrategyNone, false
}

// ResolveSheet resolves the period against an open workbook.
func ResolveSheet(f *excelize.File, month, year int) (string, Strategy, bool) {
	return Resolve(f.GetSheetList(), month, year)
}

// =============================================================================
// LOADING
// =============================================================================

// Load opens a template workbook. Failures carry KindTemplateLoad.
func Load(path string) (*excelize.File, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, types.NewOpError("xlsxtemplate.load", types.KindTemplateLoad, path, err)
	}
	return f, nil
}
