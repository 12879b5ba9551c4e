package processor

import (
	"context"
	"fmt"

	"github.com/mdad-elec/cv-analysis-system/internal/config"
	"github.com/mdad-elec/cv-analysis-system/internal/entity"
	"github.com/mdad-elec/cv-analysis-system/internal/index"
	"github.com/mdad-elec/cv-analysis-system/internal/parser"
	"github.com/mdad-elec/cv-analysis-system/internal/query"
	"github.com/mdad-elec/cv-analysis-system/internal/types"
	"github.com/mdad-elec/cv-analysis-system/pkg/llm"
)

// BuildTextExtractor 按配置组装各文档类型的抽取器
func BuildTextExtractor(ctx context.Context, cfg *config.Config) (*parser.Registry, error) {
	pdfPages, err := parser.NewEinoPDFTextExtractor(ctx)
	if err != nil {
		return nil, fmt.Errorf("初始化PDF解析器失败: %w", err)
	}

	opts := []parser.PageExtractorOption{
		parser.WithQualityThreshold(cfg.OCR.QualityThreshold),
		parser.WithPreferLonger(cfg.OCR.PreferLongerText()),
		parser.WithRenderDPI(cfg.OCR.DPI),
		parser.WithOCRWorkers(cfg.OCR.Workers),
	}
	if cfg.OCR.Enabled {
		runner := parser.NewExecRunner()
		opts = append(opts, parser.WithOCR(
			parser.NewPdftoppmRenderer(runner, cfg.OCR.PdftoppmPath),
			parser.NewTesseractEngine(runner, cfg.OCR.TesseractPath, cfg.OCR.PSM, cfg.OCR.OEM, cfg.OCR.Languages),
		))
	}

	return parser.NewRegistry().
		Register(types.DocumentTypePDF, parser.NewPageExtractor(pdfPages, opts...)).
		Register(types.DocumentTypeDOCX, parser.NewDOCXExtractor()).
		Register(types.DocumentTypeHTML, parser.NewHTMLExtractor()), nil
}

// BuildProfileExtractor 结构化抽取器，使用解析专用的 token 上限
func BuildProfileExtractor(chat parser.ChatModel, cfg *config.Config) *parser.LLMProfileExtractor {
	return parser.NewLLMProfileExtractor(chat,
		parser.WithExtractorRetryPolicy(llm.RetryPolicyFromConfig(cfg.Retry, cfg.LLM)),
		parser.WithExtractorModel(cfg.LLM.Model),
		parser.WithExtractorMaxTokens(cfg.LLM.ParseMaxTokens),
		parser.WithExtractorTemperature(cfg.LLM.Temperature),
	)
}

// BuildAnswerer 问答器，与入库流程共享索引和实体映射
func BuildAnswerer(chat parser.ChatModel, cfg *config.Config, x *index.FlatIndex, resolver *entity.Resolver) *query.Answerer {
	return query.NewAnswerer(chat,
		query.WithIndex(x),
		query.WithResolver(resolver),
		query.WithRetryPolicy(llm.RetryPolicyFromConfig(cfg.Retry, cfg.LLM)),
		query.WithTopK(cfg.Query.TopK),
		query.WithMaxTokens(cfg.LLM.QueryMaxTokens),
		query.WithModel(cfg.LLM.Model),
		query.WithTemperature(cfg.LLM.Temperature),
	)
}

// EmbedderLoader 返回加载嵌入模型的函数，未单独配置密钥时沿用模型密钥
func EmbedderLoader(cfg *config.Config) func(ctx context.Context) (parser.Embedder, error) {
	return func(ctx context.Context) (parser.Embedder, error) {
		apiKey := cfg.Embedding.APIKey
		if apiKey == "" {
			apiKey = cfg.LLM.APIKey
		}
		return parser.NewAliyunEmbedder(apiKey, cfg.Embedding)
	}
}
