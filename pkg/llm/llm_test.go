package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/mdad-elec/cv-analysis-system/internal/config"
	"github.com/mdad-elec/cv-analysis-system/pkg/ratelimit"
)

func TestOpenAICompatibleChatModel_Generate(t *testing.T) {
	var received OpenAIChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		content := "The CV data does not provide this information."
		_ = json.NewEncoder(w).Encode(OpenAICompletionResponse{
			Choices: []OpenAIChatChoice{{Message: OpenAIChatMessage{Role: "assistant", Content: &content}, FinishReason: "stop"}},
			Usage:   &OpenAIUsage{PromptTokens: 10, CompletionTokens: 5},
		})
	}))
	defer srv.Close()

	m, err := NewOpenAICompatibleChatModel("sk-test", "qwen-plus", srv.URL, time.Second)
	require.NoError(t, err)

	resp, err := m.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("be precise"),
		schema.UserMessage("who knows Go?"),
	}, model.WithMaxTokens(1500), model.WithModel("qwen-max"), model.WithTemperature(0.1))
	require.NoError(t, err)

	assert.Equal(t, schema.Assistant, resp.Role)
	assert.Equal(t, "The CV data does not provide this information.", resp.Content)

	assert.Equal(t, "qwen-max", received.Model)
	require.NotNil(t, received.MaxTokens)
	assert.Equal(t, 1500, *received.MaxTokens)
	require.NotNil(t, received.Temperature)
	assert.InDelta(t, 0.1, *received.Temperature, 1e-6)
	require.Len(t, received.Messages, 2)
	assert.Equal(t, "system", received.Messages[0].Role)
	assert.Equal(t, "who knows Go?", *received.Messages[1].Content)
}

func TestOpenAICompatibleChatModel_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			_ = json.NewEncoder(w).Encode(OpenAICompletionResponse{})
			return
		}
		http.Error(w, `{"error":"rate limit"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	m, err := NewOpenAICompatibleChatModel("sk-test", "", srv.URL+"/limited", time.Second)
	require.NoError(t, err)
	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
	assert.True(t, ratelimit.IsTransientError(err))

	m, err = NewOpenAICompatibleChatModel("sk-test", "", srv.URL+"/empty", time.Second)
	require.NoError(t, err)
	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	assert.Error(t, err)

	_, err = NewOpenAICompatibleChatModel(" ", "", "", 0)
	assert.Error(t, err)
}

func TestOpenAICompatibleChatModel_WithToolsCopies(t *testing.T) {
	m, err := NewOpenAICompatibleChatModel("sk-test", "", "", 0)
	require.NoError(t, err)

	bound, err := m.WithTools([]*schema.ToolInfo{{Name: "lookup_candidate", Desc: "find a CV"}})
	require.NoError(t, err)
	assert.Len(t, bound.(*OpenAICompatibleChatModel).tools, 1)
	assert.Empty(t, m.tools)
}

type fakeGenerator struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
	err      error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.config = model, contents, config
	return f.resp, f.err
}

func TestGeminiChatModel_Generate(t *testing.T) {
	fake := &fakeGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(" Jane knows Go. ", genai.RoleModel)}},
	}}
	g := newGeminiChatModel(fake, "")

	resp, err := g.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("only use the CV data"),
		schema.UserMessage("who knows Go?"),
	}, model.WithMaxTokens(1500))
	require.NoError(t, err)

	assert.Equal(t, "Jane knows Go.", resp.Content)
	assert.Equal(t, defaultGeminiModel, fake.model)
	require.Len(t, fake.contents, 1)
	require.NotNil(t, fake.config.SystemInstruction)
	assert.Equal(t, "only use the CV data", fake.config.SystemInstruction.Parts[0].Text)
	assert.Equal(t, int32(1500), fake.config.MaxOutputTokens)
}

func TestGeminiChatModel_Errors(t *testing.T) {
	g := newGeminiChatModel(&fakeGenerator{err: errors.New("quota exceeded")}, "gemini-pro")
	_, err := g.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	assert.ErrorContains(t, err, "quota exceeded")

	g = newGeminiChatModel(&fakeGenerator{resp: &genai.GenerateContentResponse{}}, "gemini-pro")
	_, err = g.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	assert.Error(t, err)

	_, err = g.Generate(context.Background(), []*schema.Message{schema.SystemMessage("only system")})
	assert.Error(t, err)
}

func TestMockChatModel_Sequential(t *testing.T) {
	m := NewMockChatModelSequential([]MockResponse{
		{Error: errors.New("timeout")},
		{Content: "ok"},
	})

	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("a")})
	assert.Error(t, err)
	resp, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("b")}, model.WithMaxTokens(10))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	resp, err = m.Generate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)

	calls := m.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, 10, *calls[1].Options.MaxTokens)
}

func TestNewChatModel(t *testing.T) {
	chat, err := NewChatModel(context.Background(), config.LLMConfig{Provider: "openai", APIKey: "sk", QPM: 60})
	require.NoError(t, err)
	assert.IsType(t, &ratelimit.RateLimitedChatModel{}, chat)

	chat, err = NewChatModel(context.Background(), config.LLMConfig{Provider: "openai", APIKey: "sk"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAICompatibleChatModel{}, chat)

	_, err = NewChatModel(context.Background(), config.LLMConfig{Provider: "claude", APIKey: "sk"})
	assert.Error(t, err)
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := RetryPolicyFromConfig(config.RetryConfig{Attempts: 5, BaseDelay: "1s", MaxDelay: "3s"}, config.LLMConfig{Timeout: "20s"})
	assert.Equal(t, 5, p.Attempts)
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 3*time.Second, p.Backoff(3))
	assert.Equal(t, 20*time.Second, p.AttemptTimeout)
}
