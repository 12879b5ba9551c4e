package parser

import (
	"context"
	"errors"
	"image"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mdad-elec/cv-analysis-system/internal/logger"
	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

// 默认阈值：直接抽取的字符数不超过该值时走 OCR
const (
	DefaultQualityThreshold = 200
	DefaultRenderDPI        = 300
)

var errNoOCRText = errors.New("OCR 未识别出任何页面")

// PageExtractor 页式文档抽取：先取文本层，质量不足时渲染页面做 OCR
type PageExtractor struct {
	pages            PageTextSource
	renderer         PageRenderer
	ocr              OCREngine
	enhance          func(image.Image) image.Image
	qualityThreshold int
	preferLonger     bool
	dpi              int
	workers          int
	logger           zerolog.Logger
}

// PageExtractorOption 页式抽取器选项
type PageExtractorOption func(*PageExtractor)

// WithOCR 启用 OCR 回退
func WithOCR(renderer PageRenderer, engine OCREngine) PageExtractorOption {
	return func(e *PageExtractor) {
		e.renderer = renderer
		e.ocr = engine
	}
}

// WithEnhancer 设置 OCR 前的图像预处理
func WithEnhancer(enhance func(image.Image) image.Image) PageExtractorOption {
	return func(e *PageExtractor) {
		e.enhance = enhance
	}
}

// WithQualityThreshold 设置直接抽取的质量阈值
func WithQualityThreshold(n int) PageExtractorOption {
	return func(e *PageExtractor) {
		if n >= 0 {
			e.qualityThreshold = n
		}
	}
}

// WithPreferLonger OCR 结果比直接抽取更短时是否保留直接抽取结果
func WithPreferLonger(v bool) PageExtractorOption {
	return func(e *PageExtractor) {
		e.preferLonger = v
	}
}

// WithRenderDPI 设置渲染分辨率
func WithRenderDPI(dpi int) PageExtractorOption {
	return func(e *PageExtractor) {
		if dpi > 0 {
			e.dpi = dpi
		}
	}
}

// WithOCRWorkers 并发识别的页数上限
func WithOCRWorkers(n int) PageExtractorOption {
	return func(e *PageExtractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithPageLogger 设置日志记录器
func WithPageLogger(l zerolog.Logger) PageExtractorOption {
	return func(e *PageExtractor) {
		e.logger = l
	}
}

// NewPageExtractor 创建页式文档抽取器
func NewPageExtractor(pages PageTextSource, opts ...PageExtractorOption) *PageExtractor {
	e := &PageExtractor{
		pages:            pages,
		enhance:          NewImageEnhancer().Enhance,
		qualityThreshold: DefaultQualityThreshold,
		preferLonger:     true,
		dpi:              DefaultRenderDPI,
		workers:          4,
		logger:           logger.Named("page_extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract 实现 TextExtractor
// 直接抽取字符数 > 阈值时直接接受；<= 阈值时尝试 OCR
func (e *PageExtractor) Extract(ctx context.Context, doc types.RawDocument) (types.ExtractedText, error) {
	log := e.logger.With().Str("document", doc.Name).Logger()

	var direct string
	var pageCount int
	if e.pages != nil {
		pages, err := e.pages.ExtractPages(ctx, doc.Data, doc.Name)
		if err != nil {
			log.Warn().Err(err).Msg("文本层提取失败，尝试 OCR")
		} else {
			direct = strings.Join(pages, "\n\n")
			pageCount = len(pages)
		}
	}

	directLen := utf8.RuneCountInString(strings.TrimSpace(direct))
	log.Info().Int("chars", directLen).Int("pages", pageCount).Msg("文本层提取完成")

	if directLen > e.qualityThreshold {
		return types.ExtractedText{Text: direct, Provenance: types.ProvenanceDirect, Pages: pageCount}, nil
	}

	fallback := func() (types.ExtractedText, error) {
		if directLen > 0 {
			return types.ExtractedText{Text: direct, Provenance: types.ProvenanceMixedFallback, Pages: pageCount}, nil
		}
		return types.ExtractedText{Provenance: types.ProvenanceNone, Pages: pageCount}, nil
	}

	if e.renderer == nil || e.ocr == nil {
		log.Info().Msg("文本层内容不足且未启用 OCR")
		return fallback()
	}

	log.Info().Int("threshold", e.qualityThreshold).Msg("文本层内容不足，回退到 OCR")
	ocrText, ocrPages, err := e.runOCR(ctx, doc.Data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.ExtractedText{Provenance: types.ProvenanceNone}, ctxErr
		}
		log.Error().Err(err).Msg("OCR 失败，使用文本层结果")
		return fallback()
	}

	ocrLen := utf8.RuneCountInString(ocrText)
	if e.preferLonger && directLen > 0 && ocrLen < directLen {
		log.Info().Int("ocr_chars", ocrLen).Int("direct_chars", directLen).Msg("文本层结果更长，保留文本层")
		return types.ExtractedText{Text: direct, Provenance: types.ProvenanceMixedFallback, Pages: pageCount}, nil
	}

	log.Info().Int("ocr_chars", ocrLen).Int("pages", ocrPages).Msg("OCR 完成")
	return types.ExtractedText{Text: ocrText, Provenance: types.ProvenanceOCR, Pages: ocrPages}, nil
}

// runOCR 渲染所有页面并发识别，结果按页序拼接
func (e *PageExtractor) runOCR(ctx context.Context, data []byte) (string, int, error) {
	images, err := e.renderer.Render(ctx, data, e.dpi)
	if err != nil {
		return "", 0, err
	}
	if len(images) == 0 {
		return "", 0, errNoOCRText
	}

	texts := make([]string, len(images))
	failed := make([]bool, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, img := range images {
		g.Go(func() error {
			if e.enhance != nil {
				img = e.enhance(img)
			}
			text, err := e.ocr.Recognize(gctx, img)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.logger.Warn().Err(err).Int("page", i+1).Msg("页面识别失败")
				failed[i] = true
				return nil
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", 0, err
	}

	ok := 0
	for _, f := range failed {
		if !f {
			ok++
		}
	}
	if ok == 0 {
		return "", len(images), errNoOCRText
	}
	return strings.Join(texts, "\n\n"), len(images), nil
}
