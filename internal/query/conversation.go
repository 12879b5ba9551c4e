package query

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

const (
	userPrefix      = "User:"
	assistantPrefix = "Assistant:"
)

// ParseConversation 解析 "User:"/"Assistant:" 形式的对话记录
// 不带前缀的行接在当前消息之后（以空格连接），只保留问答齐全的轮次
func ParseConversation(text string) []types.ConversationTurn {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var (
		turns   []types.ConversationTurn
		role    string
		current string
	)
	flush := func() {
		if role == "" || current == "" || len(turns) == 0 {
			return
		}
		msg := strings.TrimSpace(current)
		if role == "user" {
			turns[len(turns)-1].User = msg
		} else {
			turns[len(turns)-1].Assistant = msg
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, userPrefix):
			flush()
			role = "user"
			current = strings.TrimSpace(line[len(userPrefix):])
			turns = append(turns, types.ConversationTurn{})
		case strings.HasPrefix(line, assistantPrefix):
			flush()
			role = "assistant"
			current = strings.TrimSpace(line[len(assistantPrefix):])
		default:
			if current != "" {
				current += " " + line
			} else {
				current = line
			}
		}
	}
	flush()

	complete := turns[:0]
	for _, t := range turns {
		if t.User != "" && t.Assistant != "" {
			complete = append(complete, t)
		}
	}
	return complete
}

// MentionedNames 找出查询中连续两个及以上首字母大写的词（非全大写、长度大于 1），视为人名
func MentionedNames(query string) []string {
	words := strings.Fields(query)
	isNameWord := func(w string) bool {
		r, _ := utf8.DecodeRuneInString(w)
		return utf8.RuneCountInString(w) > 1 && unicode.IsUpper(r) && strings.ToUpper(w) != w
	}

	var names []string
	for i := 0; i < len(words); {
		if !isNameWord(words[i]) {
			i++
			continue
		}
		j := i + 1
		for j < len(words) && isNameWord(words[j]) {
			j++
		}
		if j-i > 1 {
			names = append(names, strings.Join(words[i:j], " "))
			i = j
		} else {
			i++
		}
	}
	return names
}
