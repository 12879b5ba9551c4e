package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/mdad-elec/cv-analysis-system/internal/logger"
	"github.com/mdad-elec/cv-analysis-system/internal/processor"
	"github.com/mdad-elec/cv-analysis-system/internal/storage"
	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

// QueryRunner 问答服务
type QueryRunner interface {
	Query(ctx context.Context, query string, documentIDs []string) (*types.QueryRecord, error)
	FollowUp(ctx context.Context, query, conversation string, documentIDs []string) (*types.QueryRecord, error)
	GetRecord(ctx context.Context, id string) (*types.QueryRecord, error)
}

// QueryRequest POST /query
type QueryRequest struct {
	Query       string   `json:"query" validate:"required,max=4000"`
	DocumentIDs []string `json:"document_ids" validate:"omitempty,dive,required"`
}

// FollowUpRequest POST /query/followup
type FollowUpRequest struct {
	Query               string   `json:"query" validate:"required,max=4000"`
	ConversationContext string   `json:"conversation_context" validate:"required"`
	DocumentIDs         []string `json:"document_ids" validate:"omitempty,dive,required"`
}

// QueryResponse 问答结果
type QueryResponse struct {
	QueryID     string   `json:"query_id"`
	Query       string   `json:"query"`
	Response    string   `json:"response"`
	DocumentIDs []string `json:"document_ids"`
}

func toResponse(r *types.QueryRecord) QueryResponse {
	ids := r.DocumentIDs
	if ids == nil {
		ids = []string{}
	}
	return QueryResponse{QueryID: r.ID, Query: r.Query, Response: r.Response, DocumentIDs: ids}
}

// QueryHandler 问答接口
type QueryHandler struct {
	runner   QueryRunner
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewQueryHandler 创建问答处理器
func NewQueryHandler(runner QueryRunner) *QueryHandler {
	return &QueryHandler{
		runner:   runner,
		validate: validator.New(),
		logger:   logger.Named("query_handler"),
	}
}

// bind 解析并校验请求体，失败时已写出 400 响应
func (h *QueryHandler) bind(c *app.RequestContext, req interface{}) bool {
	if err := json.Unmarshal(c.Request.Body(), req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体不是合法的JSON"})
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": describeValidation(err)})
		return false
	}
	return true
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("字段 %s 校验失败: %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// HandleQuery POST /query
func (h *QueryHandler) HandleQuery(ctx context.Context, c *app.RequestContext) {
	var req QueryRequest
	if !h.bind(c, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "问题不能为空"})
		return
	}

	record, err := h.runner.Query(ctx, req.Query, req.DocumentIDs)
	if err != nil {
		h.logger.Error().Err(err).Msg("问答失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, toResponse(record))
}

// HandleFollowUp POST /query/followup
func (h *QueryHandler) HandleFollowUp(ctx context.Context, c *app.RequestContext) {
	var req FollowUpRequest
	if !h.bind(c, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "问题不能为空"})
		return
	}

	record, err := h.runner.FollowUp(ctx, req.Query, req.ConversationContext, req.DocumentIDs)
	if err != nil {
		h.logger.Error().Err(err).Msg("追问失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, toResponse(record))
}

// HandleGetQuery GET /query/:id
func (h *QueryHandler) HandleGetQuery(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	record, err := h.runner.GetRecord(ctx, id)
	switch {
	case errors.Is(err, storage.ErrQueryNotFound):
		c.JSON(consts.StatusNotFound, utils.H{"error": "问答记录不存在或已过期"})
	case errors.Is(err, processor.ErrQueryHistoryUnavailable):
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": err.Error()})
	case err != nil:
		h.logger.Error().Err(err).Str("query_id", id).Msg("读取问答记录失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "读取问答记录失败"})
	default:
		c.JSON(consts.StatusOK, record)
	}
}
