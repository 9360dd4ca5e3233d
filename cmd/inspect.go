// =============================================================================
// CFDI Control - Inspect Command
// =============================================================================
//
// This file defines the 'inspect' command. It reads CFDI documents without
// touching any template and prints what a process run would start from:
// which files are not CFDI invoices and a quick summary of the rest.
//
// COMMAND USAGE:
//   cfdi inspect [--quick] <xml files or dirs...>
//
// =============================================================================

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/CFDI-control/internal/xmlparser"
	"github.com/ginjaninja78/CFDI-control/pkg/utils"
)

var inspectQuick bool

var inspectCmd = &cobra.Command{
	Use:   "inspect [xml files or directories...]",
	Short: "Summarize CFDI documents before processing them",
	Long: `The inspect command checks that every document is a CFDI Comprobante and
prints the number of invoices, their total amount, the currencies found and
the date range. Invoices are not validated and nothing is written.

With --quick only the document root is checked and no summary is printed.`,

	Args: cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log, closeLog, err := setupLogging(cfg)
		if err != nil {
			return err
		}
		defer closeLog()

		documents, err := utils.DiscoverXMLFiles(args)
		if err != nil {
			return err
		}

		mapper, err := xmlparser.New(cfg.Mapping,
			xmlparser.WithMaxConcurrency(cfg.MaxConcurrency),
			xmlparser.WithLogger(log))
		if err != nil {
			return err
		}

		if inspectQuick {
			return quickCheck(out, mapper, documents)
		}

		records, failures, err := mapper.ExtractMany(cmd.Context(), documents)
		if err != nil {
			return err
		}
		for _, f := range failures {
			fmt.Fprintf(out, "  ✗ %s no es un CFDI válido: %v\n", f.Path, f.Err)
		}
		if len(records) == 0 {
			return fmt.Errorf("no CFDI documents found in %v", args)
		}

		s := xmlparser.Summarize(records)
		fmt.Fprintf(out, "Archivos CFDI: %d\n", s.TotalFiles)
		fmt.Fprintf(out, "Monto total: %s\n", s.TotalAmount.StringFixed(2))
		if len(s.Currencies) > 0 {
			fmt.Fprintf(out, "Monedas: %s\n", strings.Join(s.Currencies, ", "))
		}
		if !s.DateRange.IsZero() {
			fmt.Fprintf(out, "Rango de fechas: %s - %s\n", s.DateRange.Start, s.DateRange.End)
		}
		return nil
	},
}

// quickCheck reports every document whose root is not a CFDI Comprobante.
func quickCheck(out io.Writer, mapper *xmlparser.Mapper, documents []string) error {
	bad := 0
	for _, doc := range documents {
		if !mapper.ValidateStructure(doc) {
			fmt.Fprintf(out, "  ✗ %s no es un CFDI válido\n", doc)
			bad++
		}
	}
	fmt.Fprintf(out, "Archivos CFDI: %d de %d\n", len(documents)-bad, len(documents))
	if bad == len(documents) {
		return fmt.Errorf("no CFDI documents found")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().BoolVar(&inspectQuick, "quick", false, "Only check that each file is a CFDI document")
}
