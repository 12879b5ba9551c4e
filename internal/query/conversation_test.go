package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

func TestParseConversation(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []types.ConversationTurn
	}{
		{name: "empty", text: "  \n", want: nil},
		{
			name: "two turns",
			text: "User: Who knows Go?\nAssistant: Ann Lee.\n\nUser: And Python?\nAssistant: Also Ann.",
			want: []types.ConversationTurn{
				{User: "Who knows Go?", Assistant: "Ann Lee."},
				{User: "And Python?", Assistant: "Also Ann."},
			},
		},
		{
			name: "continuation lines",
			text: "User: List the\n  candidates\nAssistant: Ann\nand Bob",
			want: []types.ConversationTurn{{User: "List the candidates", Assistant: "Ann and Bob"}},
		},
		{
			name: "dangling question dropped",
			text: "User: first?\nAssistant: yes\nUser: second?",
			want: []types.ConversationTurn{{User: "first?", Assistant: "yes"}},
		},
		{
			name: "text before any prefix ignored",
			text: "preamble\nAssistant: orphan\nUser: q\nAssistant: a",
			want: []types.ConversationTurn{{User: "q", Assistant: "a"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseConversation(tt.text)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMentionedNames(t *testing.T) {
	assert.Equal(t, []string{"Ann Lee"}, MentionedNames("What skills does Ann Lee have?"))
	assert.Equal(t, []string{"John Ronald Smith", "Maria Garcia"}, MentionedNames("how does John Ronald Smith compare to Maria Garcia"))
	assert.Empty(t, MentionedNames("Does AWS Lambda count"))
	assert.Empty(t, MentionedNames("who knows go"))
	assert.Empty(t, MentionedNames("Is A B here"))
}
