// =============================================================================
// CFDI Control - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. The root command is
// the base command that all other commands are attached to.
//
// COBRA CLI STRUCTURE:
//   rootCmd (cfdi)
//   ├── processCmd          (cfdi process)
//   ├── inspectCmd          (cfdi inspect)
//   ├── validateTemplateCmd (cfdi validate-template)
//   └── versionCmd          (cfdi version)
//
// CONFIGURATION:
//   Settings are resolved in this order, last one wins:
//   1. Built-in defaults
//   2. The YAML configuration file (--config)
//   3. CFDI_* environment variables (e.g. CFDI_OUTPUT_DIR)
//   4. Command line flags
//
// =============================================================================

package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ginjaninja78/CFDI-control/internal/config"
	"github.com/ginjaninja78/CFDI-control/internal/logging"
)

// Viper keys. Environment variables are CFDI_ plus the key in upper case.
const (
	keyConfig         = "config"
	keyLogLevel       = "log_level"
	keyLogFile        = "log_file"
	keyOutputDir      = "output_dir"
	keyArchiveDir     = "archive_dir"
	keyMaxConcurrency = "max_concurrency"
	keyWriteErrorLog  = "write_error_log"
)

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cfdi",
	Short: "CFDI Control - Fill monthly Excel control templates from CFDI invoices",
	Long: `CFDI Control reads Mexican electronic invoices (CFDI 4.0 and 3.3 XML),
validates them and writes one row per invoice into the monthly sheet of an
Excel control template. The template itself is never modified; a new
workbook is saved next to it (or in --output-dir).

Example Usage:
  cfdi validate-template --template Control2024.xlsx
  cfdi inspect ./facturas
  cfdi process --template Control2024.xlsx --year 2024 --month 1 ./facturas
  cfdi process --template Control2024.xlsx --month 3 a.xml b.xml --archive`,

	SilenceUsage: true,

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "config.yaml", "Path to the configuration file")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-file", "", "Append logs to this file as well as stderr")
	flags.BoolP("verbose", "v", false, "Shorthand for --log-level debug")

	mustBind(keyConfig, flags.Lookup("config"))
	mustBind(keyLogLevel, flags.Lookup("log-level"))
	mustBind(keyLogFile, flags.Lookup("log-file"))
}

// initConfig wires CFDI_* environment variables into viper.
func initConfig() {
	viper.SetEnvPrefix("CFDI")
	viper.AutomaticEnv()
}

// mustBind binds a flag to a viper key. Flags are defined in init, so a
// failure is a programming error.
func mustBind(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind %s: %v", key, err))
	}
}

// =============================================================================
// CONFIGURATION LOADING
// =============================================================================

// loadConfig reads the configuration file and applies environment and flag
// overrides on top of it.
func loadConfig(cmd *cobra.Command) (*config.MainConfig, error) {
	cfg, err := config.LoadMainConfig(viper.GetString(keyConfig))
	if err != nil {
		return nil, err
	}

	if viper.IsSet(keyLogLevel) {
		cfg.LogLevel = viper.GetString(keyLogLevel)
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}
	if viper.IsSet(keyLogFile) {
		cfg.LogFile = viper.GetString(keyLogFile)
	}
	if viper.IsSet(keyOutputDir) {
		cfg.OutputDir = viper.GetString(keyOutputDir)
	}
	if viper.IsSet(keyArchiveDir) {
		cfg.ArchiveDir = viper.GetString(keyArchiveDir)
	}
	if viper.IsSet(keyMaxConcurrency) {
		cfg.MaxConcurrency = viper.GetInt(keyMaxConcurrency)
	}
	if viper.IsSet(keyWriteErrorLog) {
		cfg.WriteErrorLog = viper.GetBool(keyWriteErrorLog)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupLogging builds the process logger from cfg.
func setupLogging(cfg *config.MainConfig) (*logrus.Logger, func() error, error) {
	return logging.Setup(cfg.LogLevel, cfg.LogFile)
}
