package types

import "strings"

// DocumentType 文档声明类型
type DocumentType string

const (
	DocumentTypePDF  DocumentType = "pdf"
	DocumentTypeDOCX DocumentType = "docx"
	DocumentTypeHTML DocumentType = "html"
)

// PageBased 是否为按页渲染的文档
func (t DocumentType) PageBased() bool {
	return t == DocumentTypePDF
}

// DocumentTypeFromFilename 根据扩展名推断文档类型
func DocumentTypeFromFilename(name string) (DocumentType, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return DocumentTypePDF, true
	case strings.HasSuffix(lower, ".docx"):
		return DocumentTypeDOCX, true
	case strings.HasSuffix(lower, ".html"), strings.HasSuffix(lower, ".htm"):
		return DocumentTypeHTML, true
	}
	return "", false
}

// RawDocument 待抽取的原始文档，只被消费一次
type RawDocument struct {
	Data []byte
	Type DocumentType
	Name string
}

// Provenance 文本来源标记
type Provenance string

const (
	ProvenanceDirect        Provenance = "direct"
	ProvenanceOCR           Provenance = "ocr"
	ProvenanceMixedFallback Provenance = "mixed_fallback"
	ProvenanceNone          Provenance = "none"
)

// ExtractedText 抽取结果，创建后不再修改
type ExtractedText struct {
	Text       string     `json:"text"`
	Provenance Provenance `json:"provenance"`
	Pages      int        `json:"pages"`
}

// Failed 没有恢复出任何文本
func (e ExtractedText) Failed() bool {
	return e.Provenance == ProvenanceNone || strings.TrimSpace(e.Text) == ""
}

// DocumentStatus 文档处理状态
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)
