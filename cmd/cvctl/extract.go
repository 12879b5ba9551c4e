package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mdad-elec/cv-analysis-system/internal/config"
	"github.com/mdad-elec/cv-analysis-system/internal/processor"
)

var flagExtractNoOCR bool

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract normalised text from a CV and report its provenance",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

func init() {
	extractCmd.Flags().BoolVar(&flagExtractNoOCR, "no-ocr", false, "Disable the OCR fallback for PDFs")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(flagConfig)
	if err != nil {
		// 纯抽取不需要模型配置
		fmt.Fprintf(os.Stderr, "warning: %v, using defaults\n", err)
		cfg = config.Default()
	}
	if flagExtractNoOCR {
		cfg.OCR.Enabled = false
	}

	raw, err := readDocument(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	extractor, err := processor.BuildTextExtractor(ctx, cfg)
	if err != nil {
		return err
	}
	start := time.Now()
	result, err := extractor.Extract(ctx, raw)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "provenance: %s  pages: %d  chars: %d  elapsed: %s\n",
		result.Provenance, result.Pages, len([]rune(result.Text)), time.Since(start).Round(time.Millisecond))
	if result.Failed() {
		return fmt.Errorf("no text could be recovered from %s", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.Text)
	return nil
}
