// =============================================================================
// CFDI Control - Main Entry Point
// =============================================================================
//
// USAGE:
//   cfdi process            - Fill a monthly template sheet from CFDI XML files
//   cfdi validate-template  - Check which monthly sheets a template has
//   cfdi inspect            - Summarize CFDI XML files without processing them
//   cfdi version            - Display the application version
//
// ARCHITECTURE:
//   - cmd/       : CLI command definitions (Cobra + Viper)
//   - internal/  : Core pipeline (mapper, validation, template, writer, converter)
//   - pkg/       : Shared file utilities
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/CFDI-control/cmd"
)

func main() {
	cmd.Execute()
}
