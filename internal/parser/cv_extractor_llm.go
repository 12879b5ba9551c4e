package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/mdad-elec/cv-analysis-system/internal/logger"
	"github.com/mdad-elec/cv-analysis-system/internal/types"
	"github.com/mdad-elec/cv-analysis-system/pkg/ratelimit"
)

// ErrEmptyText 待解析文本为空
var ErrEmptyText = errors.New("待解析的简历文本为空")

// ChatModel 生成式模型的最小调用面，eino 的 ChatModel 实现均满足
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

const parsingPromptHead = `You are an expert CV/resume parser. I'll provide the raw text extracted from a CV.
Please extract and structure all relevant information into these categories:

1. Personal Information (name, email, phone, location, LinkedIn, GitHub, website)
2. Education History (institution, degree, field of study, dates, GPA)
3. Work Experience (company, position, dates, location, description, highlights)
4. Skills (categorized by type)
5. Projects (name, description, technologies used, urls)
6. Certifications (name, issuer, date)

For each section:
- Extract all information that can be confidently determined
- For dates, extract both start and end dates where applicable
- For work experience, separate the description from bullet point highlights
- For skills, categorize them (e.g., Programming Languages, Tools, Soft Skills)
- Ignore any information that isn't relevant to these categories

Raw CV text:
`

const parsingPromptTail = `

Respond with a JSON object containing the structured information. The format should be:

` + "```json" + `
{
  "personal_information": {
    "name": "...",
    "email": "...",
    "phone": "...",
    "location": "...",
    "linkedin": "...",
    "github": "...",
    "website": "..."
  },
  "education": [
    {
      "institution": "...",
      "degree": "...",
      "field_of_study": "...",
      "start_date": "YYYY-MM",
      "end_date": "YYYY-MM or Present",
      "gpa": "..."
    }
  ],
  "work_experience": [
    {
      "company": "...",
      "position": "...",
      "start_date": "YYYY-MM",
      "end_date": "YYYY-MM or Present",
      "location": "...",
      "description": "...",
      "highlights": [
        "...",
        "..."
      ]
    }
  ],
  "skills": {
    "Programming Languages": ["...", "..."],
    "Frameworks": ["...", "..."],
    "Tools": ["...", "..."],
    "Soft Skills": ["...", "..."]
  },
  "projects": [
    {
      "name": "...",
      "description": "...",
      "technologies": ["...", "..."],
      "url": "..."
    }
  ],
  "certifications": [
    {
      "name": "...",
      "issuer": "...",
      "date": "YYYY-MM"
    }
  ]
}
` + "```" + `

For any field where you cannot determine the value, use null instead of leaving it blank or guessing.
For arrays, if there are no items, use an empty array [].
For objects, include all fields even if they are null.
Your response should contain ONLY the JSON object, nothing else.
`

// BuildParsingPrompt 生成结构化抽取的提示词
func BuildParsingPrompt(rawText string) string {
	return parsingPromptHead + rawText + parsingPromptTail
}

// LLMProfileExtractor 调用生成式模型把原始文本转为结构化档案
type LLMProfileExtractor struct {
	llm         ChatModel
	retry       ratelimit.RetryPolicy
	modelName   string
	maxTokens   int
	temperature *float32
	logger      zerolog.Logger
}

// LLMExtractorOption 抽取器选项
type LLMExtractorOption func(*LLMProfileExtractor)

// WithExtractorRetryPolicy 设置模型调用的重试策略
func WithExtractorRetryPolicy(p ratelimit.RetryPolicy) LLMExtractorOption {
	return func(e *LLMProfileExtractor) {
		e.retry = p
	}
}

// WithExtractorModel 指定模型名，为空时使用模型实例的默认值
func WithExtractorModel(name string) LLMExtractorOption {
	return func(e *LLMProfileExtractor) {
		e.modelName = name
	}
}

// WithExtractorMaxTokens 最大输出 token 数
func WithExtractorMaxTokens(n int) LLMExtractorOption {
	return func(e *LLMProfileExtractor) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// WithExtractorTemperature 采样温度
func WithExtractorTemperature(t float32) LLMExtractorOption {
	return func(e *LLMProfileExtractor) {
		e.temperature = &t
	}
}

// WithExtractorLogger 设置日志记录器
func WithExtractorLogger(l zerolog.Logger) LLMExtractorOption {
	return func(e *LLMProfileExtractor) {
		e.logger = l
	}
}

// NewLLMProfileExtractor 创建结构化抽取器，默认 3 次重试、4000 输出 token
func NewLLMProfileExtractor(llm ChatModel, options ...LLMExtractorOption) *LLMProfileExtractor {
	e := &LLMProfileExtractor{
		llm:       llm,
		retry:     ratelimit.DefaultRetryPolicy(),
		maxTokens: 4000,
		logger:    logger.Named("profile_extractor"),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Extract 抽取结构化档案；模型调用失败超过重试次数时返回错误，响应无法解析时返回 ErrUnparseableResponse
func (e *LLMProfileExtractor) Extract(ctx context.Context, rawText string) (*types.CandidateProfile, error) {
	return e.extract(ctx, &types.CandidateProfile{RawText: rawText})
}

// Enhance 在 base 的基础上补全结构化字段
// 响应无法解析时原样返回 base；模型调用失败时返回错误
func (e *LLMProfileExtractor) Enhance(ctx context.Context, base *types.CandidateProfile) (*types.CandidateProfile, error) {
	profile, err := e.extract(ctx, base)
	if errors.Is(err, ErrUnparseableResponse) {
		e.logger.Warn().Err(err).Str("profile_id", base.ID).Msg("无法解析模型响应，保留原始档案")
		return base, nil
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func (e *LLMProfileExtractor) extract(ctx context.Context, base *types.CandidateProfile) (*types.CandidateProfile, error) {
	if strings.TrimSpace(base.RawText) == "" {
		return nil, ErrEmptyText
	}

	startTime := time.Now()
	content, err := e.generate(ctx, BuildParsingPrompt(base.RawText))
	if err != nil {
		return nil, fmt.Errorf("LLM Generate failed: %w", err)
	}

	doc, err := ParseModelResponse(content)
	if err != nil {
		e.logger.Debug().Str("response", truncate(content, 500)).Msg("模型响应内容")
		return nil, err
	}
	if verr := ValidateProfileDocument(doc); verr != nil {
		e.logger.Warn().Err(verr).Msg("模型输出与文档结构不完全一致")
	}

	profile, warnings := MapProfile(doc, base)
	for _, w := range warnings {
		e.logger.Warn().Err(w).Msg("忽略无法映射的条目")
	}

	e.logger.Info().
		Str("profile_id", profile.ID).
		Int("education", len(profile.Education)).
		Int("work_experience", len(profile.WorkExperience)).
		Int("skills", len(profile.Skills)).
		Dur("elapsed", time.Since(startTime)).
		Msg("结构化抽取完成")
	return profile, nil
}

// generate 单条用户消息，经重试策略包裹
func (e *LLMProfileExtractor) generate(ctx context.Context, prompt string) (string, error) {
	messages := []*schema.Message{
		{Role: schema.User, Content: prompt},
	}

	opts := []model.Option{model.WithMaxTokens(e.maxTokens)}
	if e.modelName != "" {
		opts = append(opts, model.WithModel(e.modelName))
	}
	if e.temperature != nil {
		opts = append(opts, model.WithTemperature(*e.temperature))
	}

	policy := e.retry
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error, wait time.Duration) {
			e.logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("LLM 调用失败，准备重试")
		}
	}

	var content string
	err := policy.Do(ctx, func(ctx context.Context) error {
		resp, err := e.llm.Generate(ctx, messages, opts...)
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
