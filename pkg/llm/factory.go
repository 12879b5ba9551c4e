package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"

	"github.com/mdad-elec/cv-analysis-system/internal/config"
	"github.com/mdad-elec/cv-analysis-system/pkg/ratelimit"
)

// NewChatModel 按配置创建模型客户端，QPM > 0 时加上限流
func NewChatModel(ctx context.Context, cfg config.LLMConfig) (model.ToolCallingChatModel, error) {
	var (
		chat model.ToolCallingChatModel
		err  error
	)

	switch cfg.Provider {
	case "gemini":
		chat, err = NewGeminiChatModel(ctx, cfg.APIKey, cfg.Model)
	case "", "openai":
		chat, err = NewOpenAICompatibleChatModel(cfg.APIKey, cfg.Model, cfg.APIURL, config.GetDuration(cfg.Timeout, 60*time.Second))
	default:
		return nil, fmt.Errorf("未知的模型提供方: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.QPM > 0 {
		chat = ratelimit.WithRateLimit(chat, cfg.QPM)
	}
	return chat, nil
}

// RetryPolicyFromConfig 指数退避重试策略，单次调用超时取模型配置
func RetryPolicyFromConfig(retry config.RetryConfig, llmCfg config.LLMConfig) ratelimit.RetryPolicy {
	policy := ratelimit.DefaultRetryPolicy()
	if retry.Attempts > 0 {
		policy.Attempts = retry.Attempts
	}
	policy.Backoff = ratelimit.ExponentialBackoff(
		config.GetDuration(retry.BaseDelay, 4*time.Second),
		config.GetDuration(retry.MaxDelay, 10*time.Second),
	)
	policy.AttemptTimeout = config.GetDuration(llmCfg.Timeout, 60*time.Second)
	return policy
}
