package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mdad-elec/cv-analysis-system/internal/config"
	"github.com/mdad-elec/cv-analysis-system/internal/index"
	"github.com/mdad-elec/cv-analysis-system/internal/logger"
	"github.com/mdad-elec/cv-analysis-system/internal/parser"
	"github.com/mdad-elec/cv-analysis-system/internal/processor"
	"github.com/mdad-elec/cv-analysis-system/internal/types"
	"github.com/mdad-elec/cv-analysis-system/pkg/llm"
)

var (
	flagConfig  string
	flagVerbose bool
	flagJobs    int
)

var rootCmd = &cobra.Command{
	Use:          "cvctl",
	Short:        "Offline CV extraction, parsing and question answering",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "warn"
		if flagVerbose {
			level = "debug"
		}
		logger.Init(logger.Config{Level: level, Format: "pretty", Output: os.Stderr})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose logging")
	rootCmd.PersistentFlags().IntVarP(&flagJobs, "jobs", "j", 2, "Files processed concurrently")
}

// Execute is called by main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}
	return cfg, nil
}

// readDocument 按扩展名确定文档类型
func readDocument(path string) (types.RawDocument, error) {
	docType, ok := types.DocumentTypeFromFilename(path)
	if !ok {
		return types.RawDocument{}, fmt.Errorf("%s: unsupported file type (want .pdf, .docx or .html)", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return types.RawDocument{}, err
	}
	return types.RawDocument{Data: data, Type: docType, Name: filepath.Base(path)}, nil
}

// pipeline 进程内的抽取、解析与检索组件，不依赖任何外部存储
type pipeline struct {
	cfg       *config.Config
	processor *processor.CVProcessor
	index     *index.FlatIndex
	chat      parser.ChatModel
}

func newPipeline(ctx context.Context, cfg *config.Config, withEmbeddings bool) (*pipeline, error) {
	extractor, err := processor.BuildTextExtractor(ctx, cfg)
	if err != nil {
		return nil, err
	}
	chat, err := llm.NewChatModel(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("cannot create chat model: %w", err)
	}

	x := index.NewFlatIndex(index.WithDimension(cfg.Embedding.Dimensions))
	if withEmbeddings {
		if e, err := processor.EmbedderLoader(cfg)(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: embeddings unavailable, falling back to the first profiles: %v\n", err)
		} else {
			x.AttachEmbedder(e)
		}
	}

	proc := processor.NewCVProcessor(extractor, processor.BuildProfileExtractor(chat, cfg), nil, processor.WithIndex(x))
	return &pipeline{cfg: cfg, processor: proc, index: x, chat: chat}, nil
}

// parseAll 并发解析文件，结果顺序与输入一致
func (p *pipeline) parseAll(ctx context.Context, paths []string) ([]*types.CandidateProfile, error) {
	profiles := make([]*types.CandidateProfile, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(flagJobs, 1))
	for i, path := range paths {
		g.Go(func() error {
			raw, err := readDocument(path)
			if err != nil {
				return err
			}
			profile, _, err := p.processor.ProcessDocument(ctx, path, raw)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			profiles[i] = profile
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return profiles, nil
}
