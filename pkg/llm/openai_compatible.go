package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/mdad-elec/cv-analysis-system/internal/logger"
)

const (
	// DashScope 的 OpenAI 兼容接口
	defaultChatCompletionsURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	defaultChatModelName      = "qwen-plus"
)

// OpenAITool 请求中的工具定义
type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

// OpenAIFunction 工具函数描述，参数为 JSON Schema
type OpenAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// OpenAIChatMessage 请求与响应中的消息
type OpenAIChatMessage struct {
	Role       string               `json:"role"`
	Content    *string              `json:"content"`
	ToolCallID string               `json:"tool_call_id,omitempty"`
	ToolCalls  []OpenAIToolCallData `json:"tool_calls,omitempty"`
}

// OpenAIToolCallData 模型返回的工具调用
type OpenAIToolCallData struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// OpenAIChatCompletionRequest chat/completions 请求体
type OpenAIChatCompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []OpenAIChatMessage `json:"messages"`
	MaxTokens   *int                `json:"max_tokens,omitempty"`
	Temperature *float32            `json:"temperature,omitempty"`
	TopP        *float32            `json:"top_p,omitempty"`
	Stop        []string            `json:"stop,omitempty"`
	Tools       []OpenAITool        `json:"tools,omitempty"`
}

// OpenAIChatChoice 响应中的候选
type OpenAIChatChoice struct {
	Index        int               `json:"index"`
	Message      OpenAIChatMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

// OpenAIUsage token 用量
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAICompletionResponse chat/completions 响应体
type OpenAICompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []OpenAIChatChoice `json:"choices"`
	Usage   *OpenAIUsage       `json:"usage,omitempty"`
}

// OpenAICompatibleChatModel 通过 OpenAI 兼容接口访问通义千问等模型
type OpenAICompatibleChatModel struct {
	apiKey     string
	modelName  string
	apiURL     string
	httpClient *http.Client
	tools      []OpenAITool
	logger     zerolog.Logger
}

// NewOpenAICompatibleChatModel 创建模型客户端，modelName 与 apiURL 为空时使用 DashScope 默认值
func NewOpenAICompatibleChatModel(apiKey, modelName, apiURL string, timeout time.Duration) (*OpenAICompatibleChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultChatModelName
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = defaultChatCompletionsURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	m := &OpenAICompatibleChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("llm"),
	}
	m.logger.Info().Str("api_url", apiURL).Str("model", modelName).Msg("使用 OpenAI 兼容模型客户端")
	return m, nil
}

func toOpenAIMessages(messages []*schema.Message) []OpenAIChatMessage {
	out := make([]OpenAIChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		content := msg.Content
		m := OpenAIChatMessage{
			Role:       string(msg.Role),
			Content:    &content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			call := OpenAIToolCallData{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Function.Name
			call.Function.Arguments = tc.Function.Arguments
			m.ToolCalls = append(m.ToolCalls, call)
		}
		out = append(out, m)
	}
	return out
}

// Generate 实现 model.ChatModel 接口，支持 WithModel/WithMaxTokens/WithTemperature/WithTopP/WithStop
func (m *OpenAICompatibleChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{Model: &m.modelName}, opts...)

	reqPayload := OpenAIChatCompletionRequest{
		Model:       m.modelName,
		Messages:    toOpenAIMessages(messages),
		MaxTokens:   options.MaxTokens,
		Temperature: options.Temperature,
		TopP:        options.TopP,
		Stop:        options.Stop,
		Tools:       m.tools,
	}
	if options.Model != nil && *options.Model != "" {
		reqPayload.Model = *options.Model
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API 请求失败，状态 %d: %s", httpResp.StatusCode, truncate(string(bodyBytes), 1024))
	}

	var resp OpenAICompletionResponse
	if err := json.Unmarshal(bodyBytes, &resp); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("从 API 收到空选项: %s", truncate(string(bodyBytes), 1024))
	}

	event := m.logger.Debug().
		Str("model", reqPayload.Model).
		Int("messages", len(reqPayload.Messages)).
		Str("finish_reason", resp.Choices[0].FinishReason).
		Dur("elapsed", time.Since(start))
	if resp.Usage != nil {
		event = event.Int("prompt_tokens", resp.Usage.PromptTokens).Int("completion_tokens", resp.Usage.CompletionTokens)
	}
	event.Msg("模型调用完成")

	apiMessage := resp.Choices[0].Message
	result := &schema.Message{Role: schema.RoleType(apiMessage.Role)}
	if apiMessage.Content != nil {
		result.Content = *apiMessage.Content
	}
	if result.Role == "" {
		result.Role = schema.Assistant
	}
	for _, tc := range apiMessage.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, schema.ToolCall{
			ID: tc.ID,
			Function: schema.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return result, nil
}

// Stream 将 Generate 的完整结果作为单帧流返回
func (m *OpenAICompatibleChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// WithTools 返回绑定了工具的新实例，原实例不受影响
func (m *OpenAICompatibleChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound := *m
	bound.tools = make([]OpenAITool, 0, len(tools))
	for _, info := range tools {
		if info == nil {
			continue
		}
		bound.tools = append(bound.tools, OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        info.Name,
				Description: info.Desc,
				Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
			},
		})
	}
	return &bound, nil
}

var _ model.ToolCallingChatModel = (*OpenAICompatibleChatModel)(nil)

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
