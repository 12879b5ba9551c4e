package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"

	"github.com/mdad-elec/cv-analysis-system/internal/config"
	"github.com/mdad-elec/cv-analysis-system/internal/logger"
	"github.com/mdad-elec/cv-analysis-system/internal/storage"
	"github.com/mdad-elec/cv-analysis-system/internal/storage/models"
	"github.com/mdad-elec/cv-analysis-system/internal/types"
	pkgutils "github.com/mdad-elec/cv-analysis-system/pkg/utils"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	presignExpiry    = time.Hour
)

// Ingestor 入库流程
type Ingestor interface {
	ProcessUpload(ctx context.Context, documentID string, data []byte) error
	Forget(ctx context.Context, documentID string) error
}

// Deduper 按文件MD5去重
type Deduper interface {
	CheckAndSetFileMD5(ctx context.Context, md5Hex, documentID string) (bool, string, error)
	RemoveFileMD5(ctx context.Context, md5Hex string) error
}

// OutboxWriter 文档记录与上传消息同事务写入
type OutboxWriter interface {
	InsertWithOutbox(ctx context.Context, doc *models.CVDocument, msg *models.OutboxMessage) error
}

// CVHandler 简历文档相关接口
type CVHandler struct {
	cfg      *config.Config
	store    storage.DocumentStore
	ingestor Ingestor
	blobs    storage.BlobStore
	dedupe   Deduper
	outbox   OutboxWriter
	logger   zerolog.Logger
}

// CVHandlerOption 可选依赖
type CVHandlerOption func(*CVHandler)

// WithBlobStore 原始文件写入对象存储
func WithBlobStore(b storage.BlobStore) CVHandlerOption {
	return func(h *CVHandler) { h.blobs = b }
}

// WithDeduper 启用MD5去重
func WithDeduper(d Deduper) CVHandlerOption {
	return func(h *CVHandler) { h.dedupe = d }
}

// WithOutbox 通过消息队列异步入库，需要同时配置对象存储
func WithOutbox(w OutboxWriter) CVHandlerOption {
	return func(h *CVHandler) { h.outbox = w }
}

// NewCVHandler 创建文档处理器
func NewCVHandler(cfg *config.Config, store storage.DocumentStore, ingestor Ingestor, opts ...CVHandlerOption) *CVHandler {
	h := &CVHandler{
		cfg:      cfg,
		store:    store,
		ingestor: ingestor,
		logger:   logger.Named("cv_handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// UploadResponse 上传结果
type UploadResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Duplicate  bool   `json:"duplicate,omitempty"`
}

// DocumentSummary 列表与状态接口返回的文档信息
type DocumentSummary struct {
	DocumentID   string    `json:"document_id"`
	Filename     string    `json:"filename"`
	FileType     string    `json:"file_type"`
	FileSize     int64     `json:"file_size"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Provenance   string    `json:"provenance,omitempty"`
	UploadDate   time.Time `json:"upload_date"`
}

func summarize(doc *models.CVDocument) DocumentSummary {
	return DocumentSummary{
		DocumentID:   doc.ID,
		Filename:     doc.Filename,
		FileType:     doc.FileType,
		FileSize:     doc.FileSize,
		Status:       doc.Status,
		ErrorMessage: doc.ErrorMessage,
		Provenance:   doc.Provenance,
		UploadDate:   doc.UploadDate,
	}
}

func (h *CVHandler) allowed(docType types.DocumentType) bool {
	for _, t := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(t, string(docType)) {
			return true
		}
	}
	return false
}

// HandleUpload POST /documents/upload
func (h *CVHandler) HandleUpload(ctx context.Context, c *app.RequestContext) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "文件未找到"})
		return
	}

	docType, ok := types.DocumentTypeFromFilename(fileHeader.Filename)
	if !ok || !h.allowed(docType) {
		c.JSON(consts.StatusBadRequest, utils.H{
			"error": fmt.Sprintf("不支持的文件类型，允许: %s", strings.Join(h.cfg.Upload.AllowedTypes, ", ")),
		})
		return
	}
	limit := h.cfg.Upload.MaxUploadBytes()
	if fileHeader.Size > limit {
		c.JSON(consts.StatusRequestEntityTooLarge, utils.H{"error": fmt.Sprintf("文件超过 %dMB 限制", h.cfg.Upload.MaxSizeMB)})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "打开文件失败"})
		return
	}
	defer file.Close()

	// 多读一个字节用于判断是否超限
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "读取上传文件失败"})
		return
	}
	if int64(len(data)) > limit {
		c.JSON(consts.StatusRequestEntityTooLarge, utils.H{"error": fmt.Sprintf("文件超过 %dMB 限制", h.cfg.Upload.MaxSizeMB)})
		return
	}
	if len(data) == 0 {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "文件内容为空"})
		return
	}

	resp, err := h.upload(ctx, fileHeader.Filename, docType, data)
	if err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, resp)
}

// checkDuplicate 登记文件MD5，返回 nil 表示不是重复文件
// 已有文档处理失败时用本次上传的内容重新处理；登记指向的文档已不存在时改登记到新文档
func (h *CVHandler) checkDuplicate(ctx context.Context, log zerolog.Logger, fileMD5, documentID string, data []byte) (*UploadResponse, error) {
	for attempt := 0; attempt < 2; attempt++ {
		exists, existingID, err := h.dedupe.CheckAndSetFileMD5(ctx, fileMD5, documentID)
		if err != nil {
			return nil, fmt.Errorf("检查文件重复失败: %w", err)
		}
		if !exists {
			return nil, nil
		}

		doc, err := h.store.FindByID(ctx, existingID)
		switch {
		case errors.Is(err, storage.ErrDocumentNotFound):
			log.Warn().Str("existing_id", existingID).Msg("MD5 登记指向的文档已不存在，重新登记")
			if err := h.dedupe.RemoveFileMD5(ctx, fileMD5); err != nil {
				return nil, fmt.Errorf("清理失效的文件登记失败: %w", err)
			}
		case err != nil:
			log.Warn().Err(err).Str("existing_id", existingID).Msg("查询重复文档状态失败")
			return &UploadResponse{DocumentID: existingID, Status: "duplicate", Duplicate: true}, nil
		case doc.Status == string(types.StatusFailed):
			return h.reprocess(ctx, log, doc.ID, data)
		default:
			log.Info().Str("md5", fileMD5).Str("existing_id", existingID).Msg("检测到重复文件，跳过处理")
			return &UploadResponse{DocumentID: existingID, Status: doc.Status, Duplicate: true}, nil
		}
	}
	return nil, fmt.Errorf("文件登记冲突: %s", fileMD5)
}

// reprocess 把失败的文档重置为 pending 并在后台重新处理
func (h *CVHandler) reprocess(ctx context.Context, log zerolog.Logger, documentID string, data []byte) (*UploadResponse, error) {
	if err := h.store.UpdateFields(ctx, documentID, map[string]any{
		"status":        string(types.StatusPending),
		"error_message": "",
	}); err != nil {
		return nil, fmt.Errorf("重置文档状态失败: %w", err)
	}
	log.Info().Str("existing_id", documentID).Msg("重复上传的文档此前处理失败，重新处理")
	go func() {
		if err := h.ingestor.ProcessUpload(context.Background(), documentID, data); err != nil {
			log.Error().Err(err).Str("existing_id", documentID).Msg("重新处理文档失败")
		}
	}()
	return &UploadResponse{DocumentID: documentID, Status: string(types.StatusPending), Duplicate: true}, nil
}

func (h *CVHandler) upload(ctx context.Context, filename string, docType types.DocumentType, data []byte) (*UploadResponse, error) {
	fileMD5 := pkgutils.CalculateMD5(data)

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("生成文档ID失败: %w", err)
	}
	documentID := id.String()
	log := h.logger.With().Str("document_id", documentID).Str("filename", filename).Logger()

	if h.dedupe != nil {
		if resp, err := h.checkDuplicate(ctx, log, fileMD5, documentID, data); resp != nil || err != nil {
			return resp, err
		}
	}

	rollback := func(objectKey string) {
		if h.dedupe != nil {
			if err := h.dedupe.RemoveFileMD5(ctx, fileMD5); err != nil {
				log.Error().Err(err).Msg("回滚文件MD5登记失败")
			}
		}
		if objectKey != "" && h.blobs != nil {
			if err := h.blobs.DeleteFile(ctx, objectKey); err != nil {
				log.Error().Err(err).Str("object_key", objectKey).Msg("回滚已上传文件失败")
			}
		}
	}

	var objectKey string
	if h.blobs != nil {
		objectKey, err = h.blobs.UploadOriginal(ctx, documentID, filepath.Ext(filename), data)
		if err != nil {
			rollback("")
			return nil, fmt.Errorf("上传文件到对象存储失败: %w", err)
		}
	}

	doc := &models.CVDocument{
		ID:       documentID,
		Filename: filename,
		FileType: string(docType),
		FileSize: int64(len(data)),
		FilePath: objectKey,
		FileMD5:  fileMD5,
		Status:   string(types.StatusPending),
	}

	if h.outbox != nil && objectKey != "" {
		payload, err := json.Marshal(storage.CVUploadMessage{
			DocumentID: documentID,
			Filename:   filename,
			FileType:   string(docType),
			FilePath:   objectKey,
			FileMD5:    fileMD5,
			UploadedAt: time.Now(),
		})
		if err != nil {
			rollback(objectKey)
			return nil, fmt.Errorf("序列化上传消息失败: %w", err)
		}
		msg := &models.OutboxMessage{
			AggregateID:      documentID,
			EventType:        storage.EventTypeCVUploaded,
			Payload:          string(payload),
			TargetExchange:   h.cfg.RabbitMQ.Exchange,
			TargetRoutingKey: h.cfg.RabbitMQ.RoutingKey,
			Status:           models.OutboxStatusPending,
		}
		if err := h.outbox.InsertWithOutbox(ctx, doc, msg); err != nil {
			rollback(objectKey)
			return nil, fmt.Errorf("保存文档记录失败: %w", err)
		}
		log.Info().Msg("文档已登记，等待队列处理")
		return &UploadResponse{DocumentID: documentID, Status: doc.Status}, nil
	}

	if _, err := h.store.Insert(ctx, doc); err != nil {
		rollback(objectKey)
		return nil, fmt.Errorf("保存文档记录失败: %w", err)
	}
	go func() {
		if err := h.ingestor.ProcessUpload(context.Background(), documentID, data); err != nil {
			log.Error().Err(err).Msg("后台处理文档失败")
		}
	}()
	log.Info().Msg("文档已登记，后台处理中")
	return &UploadResponse{DocumentID: documentID, Status: doc.Status}, nil
}

func (h *CVHandler) find(ctx context.Context, c *app.RequestContext) (*models.CVDocument, bool) {
	id := c.Param("id")
	doc, err := h.store.FindByID(ctx, id)
	if errors.Is(err, storage.ErrDocumentNotFound) {
		c.JSON(consts.StatusNotFound, utils.H{"error": "文档不存在"})
		return nil, false
	}
	if err != nil {
		h.logger.Error().Err(err).Str("document_id", id).Msg("查询文档失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "查询文档失败"})
		return nil, false
	}
	return doc, true
}

// HandleStatus GET /documents/:id/status
func (h *CVHandler) HandleStatus(ctx context.Context, c *app.RequestContext) {
	doc, ok := h.find(ctx, c)
	if !ok {
		return
	}
	c.JSON(consts.StatusOK, utils.H{
		"document_id":   doc.ID,
		"status":        doc.Status,
		"error_message": doc.ErrorMessage,
	})
}

// HandleList GET /documents?limit=100
func (h *CVHandler) HandleList(ctx context.Context, c *app.RequestContext) {
	limit := defaultListLimit
	if s := c.Query("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "limit 必须为正整数"})
			return
		}
		limit = min(v, maxListLimit)
	}

	docs, err := h.store.FindAll(ctx, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("查询文档列表失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "查询文档列表失败"})
		return
	}
	items := make([]DocumentSummary, len(docs))
	for i := range docs {
		items[i] = summarize(&docs[i])
	}
	c.JSON(consts.StatusOK, utils.H{"documents": items, "count": len(items)})
}

// HandleGet GET /documents/:id
func (h *CVHandler) HandleGet(ctx context.Context, c *app.RequestContext) {
	doc, ok := h.find(ctx, c)
	if !ok {
		return
	}
	resp := utils.H{"document": summarize(doc)}

	profile, err := doc.Profile()
	if err != nil {
		h.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("档案数据损坏")
	}
	if profile != nil {
		resp["profile"] = profile
	}
	if h.blobs != nil && doc.FilePath != "" {
		if url, err := h.blobs.GetPresignedURL(ctx, doc.FilePath, presignExpiry); err == nil {
			resp["original_url"] = url
		} else {
			h.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("生成下载链接失败")
		}
	}
	c.JSON(consts.StatusOK, resp)
}

// HandleDelete DELETE /documents/:id
func (h *CVHandler) HandleDelete(ctx context.Context, c *app.RequestContext) {
	doc, ok := h.find(ctx, c)
	if !ok {
		return
	}
	log := h.logger.With().Str("document_id", doc.ID).Logger()

	if err := h.store.DeleteByID(ctx, doc.ID); err != nil && !errors.Is(err, storage.ErrDocumentNotFound) {
		log.Error().Err(err).Msg("删除文档记录失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "删除文档失败"})
		return
	}
	if h.blobs != nil && doc.FilePath != "" {
		if err := h.blobs.DeleteFile(ctx, doc.FilePath); err != nil {
			log.Warn().Err(err).Msg("删除原始文件失败")
		}
	}
	if h.dedupe != nil {
		if err := h.dedupe.RemoveFileMD5(ctx, doc.FileMD5); err != nil {
			log.Warn().Err(err).Msg("删除MD5登记失败")
		}
	}
	if err := h.ingestor.Forget(ctx, doc.ID); err != nil {
		log.Error().Err(err).Msg("重建索引失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "文档已删除，但重建索引失败"})
		return
	}

	log.Info().Msg("文档已删除")
	c.JSON(consts.StatusOK, utils.H{"document_id": doc.ID, "deleted": true})
}
