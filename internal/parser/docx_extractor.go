package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mdad-elec/cv-analysis-system/internal/logger"
	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

// DOCXExtractor 结构化文档抽取：先段落，后表格行（单元格以 " | " 连接）
type DOCXExtractor struct {
	logger zerolog.Logger
}

// NewDOCXExtractor 创建 DOCX 抽取器
func NewDOCXExtractor() *DOCXExtractor {
	return &DOCXExtractor{logger: logger.Named("docx_extractor")}
}

type docxDocument struct {
	Paragraphs []docxParagraph `xml:"body>p"`
	Tables     []docxTable     `xml:"body>tbl"`
}

type docxTable struct {
	Rows []docxRow `xml:"tr"`
}

type docxRow struct {
	Cells []docxCell `xml:"tc"`
}

type docxCell struct {
	Paragraphs []docxParagraph `xml:"p"`
}

func (c docxCell) text() string {
	parts := make([]string, 0, len(c.Paragraphs))
	for _, p := range c.Paragraphs {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n")
}

// docxParagraph 收集段落内所有 w:t 文本，w:tab 与 w:br 转为空白
type docxParagraph struct {
	Text string
}

func (p *docxParagraph) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var b strings.Builder
	depth, inText := 1, false
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			depth--
			if t.Name.Local == "t" {
				inText = false
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	p.Text = b.String()
	return nil
}

// Extract 实现 TextExtractor；文件损坏时返回 Provenance 为 none 的空结果
func (e *DOCXExtractor) Extract(ctx context.Context, doc types.RawDocument) (types.ExtractedText, error) {
	text, err := e.extractText(doc.Data)
	if err != nil {
		e.logger.Error().Err(err).Str("document", doc.Name).Msg("DOCX 文本提取失败")
		return types.ExtractedText{Provenance: types.ProvenanceNone}, nil
	}
	return types.ExtractedText{Text: text, Provenance: types.ProvenanceDirect}, nil
}

func (e *DOCXExtractor) extractText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("打开 DOCX 压缩包失败: %w", err)
	}

	var body io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body, err = f.Open()
			if err != nil {
				return "", fmt.Errorf("读取 document.xml 失败: %w", err)
			}
			break
		}
	}
	if body == nil {
		return "", fmt.Errorf("DOCX 中缺少 word/document.xml")
	}
	defer body.Close()

	var parsed docxDocument
	if err := xml.NewDecoder(body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("解析 document.xml 失败: %w", err)
	}

	var blocks []string
	for _, p := range parsed.Paragraphs {
		if strings.TrimSpace(p.Text) != "" {
			blocks = append(blocks, p.Text)
		}
	}
	for _, tbl := range parsed.Tables {
		for _, row := range tbl.Rows {
			var cells []string
			for _, cell := range row.Cells {
				if t := cell.text(); strings.TrimSpace(t) != "" {
					cells = append(cells, t)
				}
			}
			if len(cells) > 0 {
				blocks = append(blocks, strings.Join(cells, " | "))
			}
		}
	}

	e.logger.Debug().Int("paragraphs", len(parsed.Paragraphs)).Int("tables", len(parsed.Tables)).Msg("DOCX 提取完成")
	return strings.Join(blocks, "\n\n"), nil
}
