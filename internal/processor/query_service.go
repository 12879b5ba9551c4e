package processor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mdad-elec/cv-analysis-system/internal/logger"
	"github.com/mdad-elec/cv-analysis-system/internal/tracing"
	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

// ErrQueryHistoryUnavailable 未配置问答记录存储
var ErrQueryHistoryUnavailable = errors.New("问答记录存储未配置")

// Answerer 基于档案集合回答问题
type Answerer interface {
	Answer(ctx context.Context, query string, profiles []*types.CandidateProfile) (string, error)
	AnswerFollowUp(ctx context.Context, query, conversation string, profiles []*types.CandidateProfile) (string, error)
}

// QueryService 问答入口：选取档案、调用模型、保存记录
type QueryService struct {
	answerer Answerer
	source   ProfileSource
	records  QueryRecorder
	logger   zerolog.Logger
}

// NewQueryService 创建问答服务，records 可为 nil
func NewQueryService(answerer Answerer, source ProfileSource, records QueryRecorder) *QueryService {
	return &QueryService{
		answerer: answerer,
		source:   source,
		records:  records,
		logger:   logger.Named("query_service"),
	}
}

// Query 回答一个问题，documentIDs 非空时只在这些文档中回答
func (s *QueryService) Query(ctx context.Context, query string, documentIDs []string) (*types.QueryRecord, error) {
	return s.run(ctx, query, "", documentIDs)
}

// FollowUp 带上之前的对话继续提问
func (s *QueryService) FollowUp(ctx context.Context, query, conversation string, documentIDs []string) (*types.QueryRecord, error) {
	return s.run(ctx, query, conversation, documentIDs)
}

func (s *QueryService) run(ctx context.Context, query, conversation string, documentIDs []string) (*types.QueryRecord, error) {
	ctx, span := tracing.Tracer().Start(ctx, "QueryService.Query", trace.WithAttributes(
		attribute.String("query", tracing.SafeQuery(query)),
		attribute.Int("document_ids.count", len(documentIDs)),
		attribute.Bool("followup", conversation != ""),
	))
	defer span.End()

	profiles := filterProfiles(s.source.Profiles(), documentIDs)

	var (
		response string
		err      error
	)
	start := time.Now()
	if conversation != "" {
		response, err = s.answerer.AnswerFollowUp(ctx, query, conversation, profiles)
	} else {
		response, err = s.answerer.Answer(ctx, query, profiles)
	}
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, err
	}

	ids := make([]string, len(profiles))
	for i, p := range profiles {
		ids[i] = p.ID
	}
	record := &types.QueryRecord{
		ID:                  uuid.NewString(),
		Query:               query,
		Response:            response,
		DocumentIDs:         ids,
		ConversationContext: conversation,
		CreatedAt:           time.Now().Unix(),
	}
	if s.records != nil {
		if err := s.records.SaveQueryRecord(ctx, record); err != nil {
			s.logger.Warn().Err(err).Str("query_id", record.ID).Msg("保存问答记录失败")
		}
	}

	s.logger.Info().Str("query_id", record.ID).Int("profiles", len(profiles)).Dur("elapsed", time.Since(start)).Msg("问答完成")
	return record, nil
}

// GetRecord 读取问答记录
func (s *QueryService) GetRecord(ctx context.Context, id string) (*types.QueryRecord, error) {
	if s.records == nil {
		return nil, ErrQueryHistoryUnavailable
	}
	return s.records.GetQueryRecord(ctx, id)
}

// filterProfiles 按文档ID过滤，保持档案池顺序
func filterProfiles(profiles []*types.CandidateProfile, documentIDs []string) []*types.CandidateProfile {
	if len(documentIDs) == 0 {
		return profiles
	}
	wanted := make(map[string]struct{}, len(documentIDs))
	for _, id := range documentIDs {
		wanted[id] = struct{}{}
	}
	out := make([]*types.CandidateProfile, 0, len(documentIDs))
	for _, p := range profiles {
		if _, ok := wanted[p.ID]; ok {
			out = append(out, p)
		}
	}
	return out
}
