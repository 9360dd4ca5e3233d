// =============================================================================
// CFDI Control - Validate Template Command
// =============================================================================
//
// This file defines the 'validate-template' command, a read-only pre-flight
// check that reports which monthly sheets of a template can be resolved.
//
// COMMAND USAGE:
//   cfdi validate-template --template Control2024.xlsx [--year 2024]
//
// =============================================================================

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/CFDI-control/internal/xlsxtemplate"
)

var (
	validateTemplatePath string
	validateYear         int
)

var validateTemplateCmd = &cobra.Command{
	Use:   "validate-template",
	Short: "Check which monthly sheets of a template can be found",
	Long: `The validate-template command opens the template and tries to resolve the
sheet of every month of --year (default: the current year). The template is
valid when at least one month resolves; every missing month is reported as
a warning. The file is never modified.`,

	Args: cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		result := xlsxtemplate.ValidateTemplate(validateTemplatePath)
		if cmd.Flags().Changed("year") {
			result = xlsxtemplate.ValidateTemplateForYear(validateTemplatePath, validateYear)
		}

		for _, month := range result.MonthsFound {
			fmt.Fprintf(out, "  ✓ %-10s -> %s\n", xlsxtemplate.MonthName(month), result.Sheets[month])
		}
		for _, w := range result.Warnings {
			fmt.Fprintf(out, "  ! %s\n", w)
		}
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  ✗ %s\n", e)
		}

		if !result.Valid {
			return fmt.Errorf("la plantilla %s no es válida", validateTemplatePath)
		}
		fmt.Fprintf(out, "\nPlantilla válida: %d de 12 meses encontrados\n", len(result.MonthsFound))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateTemplateCmd)

	validateTemplateCmd.Flags().StringVarP(&validateTemplatePath, "template", "t", "", "Excel control template (.xlsx)")
	validateTemplateCmd.Flags().IntVarP(&validateYear, "year", "y", time.Now().Year(), "Year whose months are checked")
	validateTemplateCmd.MarkFlagRequired("template")
}
