package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"extractkit/internal/format"
	"extractkit/internal/raster"
)

var listFlags struct {
	format string
}

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "List registered engines and whether they can run",
	RunE:  runEngines,
}

func init() {
	enginesCmd.Flags().StringVar(&listFlags.format, "format", "table", "Output format: table or md")
	outputsCmd.Flags().StringVar(&listFlags.format, "format", "table", "Output format: table or md")
}

func runEngines(cmd *cobra.Command, _ []string) error {
	reg, _, err := newRegistry(cfg, raster.New(cfg.Engines.Pdftoppm))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), format.Engines(reg.Infos(), format.ParseMode(listFlags.format)))
	return nil
}
