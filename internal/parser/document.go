package parser

import (
	"context"
	"errors"
	"fmt"

	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

// ErrUnsupportedDocumentType 未注册的文档类型
var ErrUnsupportedDocumentType = errors.New("不支持的文档类型")

// TextExtractor 将一种文档类型转换为纯文本
// 可读文件不返回错误；无法恢复任何文本时返回 Provenance 为 none 的空结果
type TextExtractor interface {
	Extract(ctx context.Context, doc types.RawDocument) (types.ExtractedText, error)
}

// Registry 按声明类型分派到具体的 TextExtractor
type Registry struct {
	extractors map[types.DocumentType]TextExtractor
}

// NewRegistry 创建空的分派表
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[types.DocumentType]TextExtractor)}
}

// Register 为文档类型注册抽取器，重复注册时覆盖
func (r *Registry) Register(docType types.DocumentType, extractor TextExtractor) *Registry {
	r.extractors[docType] = extractor
	return r
}

// Supports 是否注册了该类型
func (r *Registry) Supports(docType types.DocumentType) bool {
	_, ok := r.extractors[docType]
	return ok
}

// Extract 实现 TextExtractor，结果统一经过 NormalizeText
func (r *Registry) Extract(ctx context.Context, doc types.RawDocument) (types.ExtractedText, error) {
	extractor, ok := r.extractors[doc.Type]
	if !ok {
		return types.ExtractedText{Provenance: types.ProvenanceNone}, fmt.Errorf("%w: %q", ErrUnsupportedDocumentType, doc.Type)
	}

	result, err := extractor.Extract(ctx, doc)
	if err != nil {
		return types.ExtractedText{Provenance: types.ProvenanceNone}, err
	}

	result.Text = NormalizeText(result.Text)
	if result.Text == "" {
		result.Provenance = types.ProvenanceNone
	}
	return result, nil
}
