package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/mdad-elec/cv-analysis-system/internal/entity"
	"github.com/mdad-elec/cv-analysis-system/internal/index"
	"github.com/mdad-elec/cv-analysis-system/internal/logger"
	"github.com/mdad-elec/cv-analysis-system/internal/parser"
	"github.com/mdad-elec/cv-analysis-system/internal/types"
	"github.com/mdad-elec/cv-analysis-system/pkg/ratelimit"
)

const (
	// NoDataResponse 档案集合为空时的固定回复
	NoDataResponse = "No CV data available to query. Please upload some CVs first."
	// NotProvidedResponse 档案中没有相关信息时模型应给出的回复
	NotProvidedResponse = "The CV data does not provide this information."

	systemInstruction = "You are a precise CV analysis assistant. You only make statements that are directly supported by the CV data."

	defaultTopK      = 30
	defaultMaxTokens = 1500
)

// BuildQueryPrompt 组装问答的用户提示
func BuildQueryPrompt(query, cvData string) string {
	return "You are a helpful assistant that answers questions about CV data. Only provide answers based on the provided CV data.\n\n" +
		"Current query: " + query + "\n\n" +
		"CV data:\n" + cvData + "\n\n" +
		"If the information is not available, respond with \"" + NotProvidedResponse + "\""
}

// Answerer 基于档案集合回答自然语言问题
type Answerer struct {
	llm         parser.ChatModel
	index       *index.FlatIndex
	resolver    *entity.Resolver
	retry       ratelimit.RetryPolicy
	topK        int
	maxTokens   int
	modelName   string
	temperature *float32
	logger      zerolog.Logger
}

// Option 问答选项
type Option func(*Answerer)

// WithIndex 使用向量索引挑选相关档案，未设置时取集合前 topK 个
func WithIndex(x *index.FlatIndex) Option {
	return func(a *Answerer) {
		a.index = x
	}
}

// WithResolver 启用人名解析
func WithResolver(r *entity.Resolver) Option {
	return func(a *Answerer) {
		a.resolver = r
	}
}

// WithRetryPolicy 设置模型调用的重试策略
func WithRetryPolicy(p ratelimit.RetryPolicy) Option {
	return func(a *Answerer) {
		a.retry = p
	}
}

// WithTopK 相关档案数量上限
func WithTopK(k int) Option {
	return func(a *Answerer) {
		if k > 0 {
			a.topK = k
		}
	}
}

// WithMaxTokens 最大输出 token 数
func WithMaxTokens(n int) Option {
	return func(a *Answerer) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// WithModel 指定模型名
func WithModel(name string) Option {
	return func(a *Answerer) {
		a.modelName = name
	}
}

// WithTemperature 采样温度
func WithTemperature(t float32) Option {
	return func(a *Answerer) {
		a.temperature = &t
	}
}

// WithLogger 设置日志记录器
func WithLogger(l zerolog.Logger) Option {
	return func(a *Answerer) {
		a.logger = l
	}
}

// NewAnswerer 创建问答器
func NewAnswerer(llm parser.ChatModel, opts ...Option) *Answerer {
	a := &Answerer{
		llm:       llm,
		retry:     ratelimit.DefaultRetryPolicy(),
		topK:      defaultTopK,
		maxTokens: defaultMaxTokens,
		logger:    logger.Named("answerer"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Answer 回答单个问题，返回模型原文
func (a *Answerer) Answer(ctx context.Context, query string, profiles []*types.CandidateProfile) (string, error) {
	return a.answer(ctx, query, nil, profiles)
}

// AnswerFollowUp 带上之前的对话回答追问，conversation 为 "User:"/"Assistant:" 格式的记录
func (a *Answerer) AnswerFollowUp(ctx context.Context, query, conversation string, profiles []*types.CandidateProfile) (string, error) {
	return a.answer(ctx, query, ParseConversation(conversation), profiles)
}

func (a *Answerer) answer(ctx context.Context, query string, history []types.ConversationTurn, profiles []*types.CandidateProfile) (string, error) {
	if len(profiles) == 0 {
		return NoDataResponse, nil
	}
	startTime := time.Now()

	relevant, semantic := a.selectRelevant(ctx, query, profiles)
	if mentioned := a.resolveMentions(query, history, profiles); len(mentioned) > 0 {
		relevant = prependUnique(mentioned, relevant)
	}

	cvData := BuildFocusedContext(relevant, query)
	messages := make([]*schema.Message, 0, 2+2*len(history))
	messages = append(messages, schema.SystemMessage(systemInstruction))
	for _, turn := range history {
		messages = append(messages, schema.UserMessage(turn.User), schema.AssistantMessage(turn.Assistant, nil))
	}
	messages = append(messages, schema.UserMessage(BuildQueryPrompt(query, cvData)))

	response, err := a.generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("LLM Generate failed: %w", err)
	}

	a.logger.Info().
		Int("pool", len(profiles)).
		Int("relevant", len(relevant)).
		Bool("semantic", semantic).
		Int("history", len(history)).
		Dur("elapsed", time.Since(startTime)).
		Msg("问答完成")
	return response, nil
}

// selectRelevant 优先走索引，索引不可用时取集合前 topK 个
func (a *Answerer) selectRelevant(ctx context.Context, query string, profiles []*types.CandidateProfile) ([]*types.CandidateProfile, bool) {
	k := a.topK
	if k > len(profiles) {
		k = len(profiles)
	}
	if a.index == nil {
		return profiles[:k], false
	}
	return a.index.Search(ctx, query, k, profiles)
}

// resolveMentions 解析查询和上一轮对话中提到的人名
func (a *Answerer) resolveMentions(query string, history []types.ConversationTurn, profiles []*types.CandidateProfile) []*types.CandidateProfile {
	if a.resolver == nil {
		return nil
	}
	names := MentionedNames(query)
	if n := len(history); n > 0 {
		names = append(names, MentionedNames(history[n-1].User)...)
		names = append(names, MentionedNames(history[n-1].Assistant)...)
	}

	var found []*types.CandidateProfile
	for _, name := range names {
		matches := a.resolver.Resolve(name, profiles)
		if len(matches) > 0 {
			a.logger.Debug().Str("name", name).Int("matches", len(matches)).Msg("解析到查询中提到的候选人")
		}
		found = prependUnique(found, matches)
	}
	return found
}

// prependUnique 返回 head 后接 tail，按指针去重并保持顺序
func prependUnique(head, tail []*types.CandidateProfile) []*types.CandidateProfile {
	seen := make(map[*types.CandidateProfile]struct{}, len(head)+len(tail))
	out := make([]*types.CandidateProfile, 0, len(head)+len(tail))
	for _, list := range [][]*types.CandidateProfile{head, tail} {
		for _, p := range list {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func (a *Answerer) generate(ctx context.Context, messages []*schema.Message) (string, error) {
	opts := []model.Option{model.WithMaxTokens(a.maxTokens)}
	if a.modelName != "" {
		opts = append(opts, model.WithModel(a.modelName))
	}
	if a.temperature != nil {
		opts = append(opts, model.WithTemperature(*a.temperature))
	}

	policy := a.retry
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error, wait time.Duration) {
			a.logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("LLM 调用失败，准备重试")
		}
	}

	var content string
	err := policy.Do(ctx, func(ctx context.Context) error {
		resp, err := a.llm.Generate(ctx, messages, opts...)
		if err != nil {
			return err
		}
		if resp == nil {
			return errors.New("模型返回空响应")
		}
		content = resp.Content
		return nil
	})
	return content, err
}
