// extractkit is the document extraction service: an HTTP API, an MCP server
// over stdio, and local one-shot runs of the same operations.
//
// Usage:
//
//	extractkit serve [--addr=:8000]
//	extractkit mcp
//	extractkit run <operation> <file> [--task-config=<yaml>]
//	extractkit engines [--format=table|md]
//	extractkit outputs [--format=table|md]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"extractkit/internal/config"
	"extractkit/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	config    string
	logLevel  string
	logFormat string
	dataDir   string
}

// cfg is loaded once by the root pre-run hook.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "extractkit",
	Short: "Document extraction: layout, OCR, formulas, tables and Markdown",
	Long: "extractkit runs layout detection, OCR, formula detection and recognition\n" +
		"and table parsing over uploaded images and PDFs, and merges the results into Markdown.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.config, "config", config.DefaultPath, "Path to the YAML config file")
	f.StringVar(&rootFlags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&rootFlags.logFormat, "log-format", "", "Log format: text or json")
	f.StringVar(&rootFlags.dataDir, "data-dir", "", "Directory for saved outputs and the output index")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(enginesCmd)
	rootCmd.AddCommand(outputsCmd)
	rootCmd.Version = version
}

// setup loads the config, applies flag overrides and configures logging.
func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(rootFlags.config)
	if err != nil {
		return err
	}
	if rootFlags.logLevel != "" {
		c.Log.Level = rootFlags.logLevel
	}
	if rootFlags.logFormat != "" {
		c.Log.Format = rootFlags.logFormat
	}
	if rootFlags.dataDir != "" {
		c.Workspace.DataDir = rootFlags.dataDir
	}

	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	if c.Log.File != "" {
		f, err := logging.OpenFile(c.Log.File)
		if err != nil {
			return err
		}
		logging.Init(level, c.Log.Format, cmd.ErrOrStderr(), f)
	} else {
		logging.Init(level, c.Log.Format, cmd.ErrOrStderr())
	}
	cfg = c
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
