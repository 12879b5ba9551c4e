package parser

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/mdad-elec/cv-analysis-system/internal/logger"
	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

// htmlBlocks 块级元素，进入和离开时都切分文本
var htmlBlocks = map[string]bool{
	"div": true, "p": true, "li": true, "ul": true, "ol": true, "dl": true, "dt": true, "dd": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "section": true, "article": true, "header": true, "footer": true,
	"main": true, "aside": true, "nav": true, "address": true, "hr": true,
}

// HTMLExtractor 以 goquery 遍历块级元素，表格行展开为 " | " 分隔的文本
type HTMLExtractor struct {
	logger zerolog.Logger
}

// NewHTMLExtractor 创建 HTML 抽取器
func NewHTMLExtractor() *HTMLExtractor {
	return &HTMLExtractor{logger: logger.Named("html_extractor")}
}

// Extract 实现 TextExtractor
func (e *HTMLExtractor) Extract(ctx context.Context, doc types.RawDocument) (types.ExtractedText, error) {
	dom, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Data))
	if err != nil {
		e.logger.Error().Err(err).Str("document", doc.Name).Msg("HTML 解析失败")
		return types.ExtractedText{Provenance: types.ProvenanceNone}, nil
	}
	dom.Find("script, style, noscript").Remove()

	w := &htmlWalker{}
	w.walk(dom.Find("body"))
	w.flush()
	blocks := w.blocks

	dom.Find("tr").Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
			if text := strings.TrimSpace(cell.Text()); text != "" {
				cells = append(cells, text)
			}
		})
		if len(cells) > 0 {
			blocks = append(blocks, strings.Join(cells, " | "))
		}
	})

	return types.ExtractedText{Text: strings.Join(blocks, "\n\n"), Provenance: types.ProvenanceDirect}, nil
}

// htmlWalker 按文档顺序收集每个块自身的文本，表格留给行展开处理
type htmlWalker struct {
	blocks []string
	buf    strings.Builder
}

func (w *htmlWalker) walk(s *goquery.Selection) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		switch name := goquery.NodeName(c); {
		case name == "#text":
			w.buf.WriteString(c.Text())
		case name == "#comment":
		case name == "table":
			w.flush()
		case name == "br":
			w.buf.WriteByte(' ')
		case htmlBlocks[name]:
			w.flush()
			w.walk(c)
			w.flush()
		default:
			w.walk(c)
		}
	})
}

func (w *htmlWalker) flush() {
	if text := strings.Join(strings.Fields(w.buf.String()), " "); text != "" {
		w.blocks = append(w.blocks, text)
	}
	w.buf.Reset()
}
