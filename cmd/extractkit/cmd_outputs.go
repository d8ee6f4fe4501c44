package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"extractkit/internal/format"
	"extractkit/internal/store"
)

var outputsCmd = &cobra.Command{
	Use:   "outputs",
	Short: "List outputs saved by pdf-to-images-save",
	RunE:  runOutputs,
}

func runOutputs(cmd *cobra.Command, _ []string) error {
	st, err := store.Open(filepath.Join(cfg.Workspace.DataDir, dbName))
	if err != nil {
		return fmt.Errorf("open output index: %w", err)
	}
	defer st.Close()

	outs, err := st.ListOutputs()
	if err != nil {
		return fmt.Errorf("list outputs: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(outs) == 0 {
		fmt.Fprintln(out, "No saved outputs.")
		return nil
	}
	fmt.Fprintln(out, format.Outputs(outs, time.Now(), format.ParseMode(listFlags.format)))
	return nil
}
