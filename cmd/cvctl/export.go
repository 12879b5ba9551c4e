package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mdad-elec/cv-analysis-system/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <out.xlsx> <file>...",
	Short: "Parse CVs and write one spreadsheet row per profile",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := newPipeline(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	profiles, err := p.parseAll(cmd.Context(), args[1:])
	if err != nil {
		return err
	}

	data, err := export.ProfilesXLSX(profiles)
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[0], data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", args[0], err)
	}
	fmt.Fprintf(os.Stderr, "wrote %d profiles to %s\n", len(profiles), args[0])
	return nil
}
