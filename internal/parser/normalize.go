package parser

import (
	"regexp"
	"strings"
)

var (
	nonASCIIPattern   = regexp.MustCompile(`[^\x00-\x7F]+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// NormalizeText 项目符号替换为短横线，非 ASCII 字符串替换为单个空格，空白折叠
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "•", "-")
	text = nonASCIIPattern.ReplaceAllString(text, " ")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
