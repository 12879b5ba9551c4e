package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ErrUnparseableResponse 模型响应中没有可解析的 JSON 对象
var ErrUnparseableResponse = errors.New("无法从模型响应中解析 JSON")

var codeBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractJSON 先找代码块，找不到时取最外层花括号之间的内容
func ExtractJSON(text string) (string, bool) {
	if m := codeBlockPattern.FindStringSubmatch(text); m != nil && strings.TrimSpace(m[1]) != "" {
		return m[1], true
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1], true
	}
	return "", false
}

// ParseLenient 严格解析失败时做一次修复再解析，结果必须是 JSON 对象
func ParseLenient(raw string) (map[string]any, error) {
	var doc map[string]any
	strictErr := json.Unmarshal([]byte(raw), &doc)
	if strictErr == nil && doc != nil {
		return doc, nil
	}

	repaired := RepairJSON(raw)
	doc = nil
	if err := json.Unmarshal([]byte(repaired), &doc); err != nil || doc == nil {
		if err == nil {
			err = errors.New("不是 JSON 对象")
		}
		return nil, fmt.Errorf("%w: %v", ErrUnparseableResponse, err)
	}
	return doc, nil
}

// ParseModelResponse 从模型原始输出中提取并解析 JSON 对象
func ParseModelResponse(text string) (map[string]any, error) {
	raw, ok := ExtractJSON(text)
	if !ok {
		return nil, fmt.Errorf("%w: 响应中没有 JSON 对象", ErrUnparseableResponse)
	}
	return ParseLenient(raw)
}

func isOpenDouble(r rune) bool  { return r == '"' || r == '“' || r == '”' }
func isOpenSingle(r rune) bool  { return r == '\'' || r == '‘' || r == '’' }
func isCloseSingle(r rune) bool { return r == '\'' || r == '’' || r == '‘' }

// RepairJSON 统一引号并去掉对象/数组结束符前的多余逗号
// 单引号字符串改写为双引号字符串；双引号字符串内的撇号保持不变
func RepairJSON(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))

	nextSignificant := func(i int) rune {
		for ; i < len(rs); i++ {
			if !unicode.IsSpace(rs[i]) {
				return rs[i]
			}
		}
		return 0
	}

	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case isOpenDouble(r):
			b.WriteByte('"')
			curly := r != '"'
			for i++; i < len(rs); i++ {
				c := rs[i]
				if c == '\\' && i+1 < len(rs) {
					b.WriteRune(c)
					i++
					b.WriteRune(rs[i])
					continue
				}
				if c == '"' || (curly && (c == '”' || c == '“')) {
					break
				}
				b.WriteRune(c)
			}
			b.WriteByte('"')

		case isOpenSingle(r):
			b.WriteByte('"')
		single:
			for i++; i < len(rs); i++ {
				c := rs[i]
				if c == '\\' && i+1 < len(rs) {
					if rs[i+1] == '\'' {
						b.WriteByte('\'')
					} else {
						b.WriteRune(c)
						b.WriteRune(rs[i+1])
					}
					i++
					continue
				}
				if isCloseSingle(c) {
					// 仅当后面是结构字符时才视为结束引号，其余按撇号处理
					switch nextSignificant(i + 1) {
					case ',', '}', ']', ':', 0:
						break single
					}
				}
				if c == '"' {
					b.WriteString(`\"`)
					continue
				}
				b.WriteRune(c)
			}
			b.WriteByte('"')

		case r == ',':
			if n := nextSignificant(i + 1); n == '}' || n == ']' {
				continue
			}
			b.WriteRune(r)

		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
