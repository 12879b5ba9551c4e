package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var flagParseEmbed bool

var parseCmd = &cobra.Command{
	Use:   "parse <file>...",
	Short: "Parse CVs into structured profiles and print them as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runParse,
}

func init() {
	parseCmd.Flags().BoolVar(&flagParseEmbed, "embedding", false, "Include the profile embedding in the output")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := newPipeline(cmd.Context(), cfg, flagParseEmbed)
	if err != nil {
		return err
	}
	profiles, err := p.parseAll(cmd.Context(), args)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	for _, profile := range profiles {
		if !flagParseEmbed {
			profile.Embedding = nil
		}
		if err := enc.Encode(profile); err != nil {
			return err
		}
	}
	return nil
}
