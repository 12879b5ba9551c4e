package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/mdad-elec/cv-analysis-system/internal/constants"
	"github.com/mdad-elec/cv-analysis-system/internal/entity"
	"github.com/mdad-elec/cv-analysis-system/internal/index"
	"github.com/mdad-elec/cv-analysis-system/internal/logger"
	"github.com/mdad-elec/cv-analysis-system/internal/parser"
	"github.com/mdad-elec/cv-analysis-system/internal/storage"
	"github.com/mdad-elec/cv-analysis-system/internal/storage/models"
	"github.com/mdad-elec/cv-analysis-system/internal/tracing"
	"github.com/mdad-elec/cv-analysis-system/internal/types"
	"github.com/mdad-elec/cv-analysis-system/pkg/utils"
)

// CVProcessor 简历入库流程：抽取文本、结构化、实体登记、向量化、持久化、重建索引
type CVProcessor struct {
	extractor parser.TextExtractor
	profiles  ProfileExtractor
	store     storage.DocumentStore
	blobs     BlobReader
	vectors   storage.VectorMirror
	locker    Locker
	resolver  *entity.Resolver
	index     *index.FlatIndex
	pool      *ProfilePool
	rebuildMu sync.Mutex
	// commitMu 串行化档案上线与删除，删除后不会再被正在处理的流程放回档案池
	commitMu sync.Mutex
	logger    zerolog.Logger
}

// Option CVProcessor 选项
type Option func(*CVProcessor)

// WithBlobReader 从对象存储读取原始文件
func WithBlobReader(b BlobReader) Option {
	return func(p *CVProcessor) { p.blobs = b }
}

// WithVectorMirror 把档案向量同步到向量数据库
func WithVectorMirror(v storage.VectorMirror) Option {
	return func(p *CVProcessor) { p.vectors = v }
}

// WithLocker 处理同一文档时加锁
func WithLocker(l Locker) Option {
	return func(p *CVProcessor) { p.locker = l }
}

// WithResolver 共享的实体映射
func WithResolver(r *entity.Resolver) Option {
	return func(p *CVProcessor) { p.resolver = r }
}

// WithIndex 共享的向量索引
func WithIndex(x *index.FlatIndex) Option {
	return func(p *CVProcessor) { p.index = x }
}

// WithPool 共享的档案池
func WithPool(pool *ProfilePool) Option {
	return func(p *CVProcessor) { p.pool = pool }
}

// WithLogger 设置日志记录器
func WithLogger(l zerolog.Logger) Option {
	return func(p *CVProcessor) { p.logger = l }
}

// NewCVProcessor 创建入库流程处理器
func NewCVProcessor(extractor parser.TextExtractor, profiles ProfileExtractor, store storage.DocumentStore, opts ...Option) *CVProcessor {
	p := &CVProcessor{
		extractor: extractor,
		profiles:  profiles,
		store:     store,
		logger:    logger.Named("cv_processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.resolver == nil {
		p.resolver = entity.NewResolver()
	}
	if p.index == nil {
		p.index = index.NewFlatIndex()
	}
	if p.pool == nil {
		p.pool = NewProfilePool()
	}
	return p
}

// Pool 已完成的档案池
func (p *CVProcessor) Pool() *ProfilePool {
	return p.pool
}

// Resolver 实体映射
func (p *CVProcessor) Resolver() *entity.Resolver {
	return p.resolver
}

// Index 向量索引
func (p *CVProcessor) Index() *index.FlatIndex {
	return p.index
}

// ProcessDocument 从原始文档得到带向量的档案，不涉及持久化
// 没有恢复出任何文本时返回 ErrTextExtractionFailed
func (p *CVProcessor) ProcessDocument(ctx context.Context, documentID string, raw types.RawDocument) (*types.CandidateProfile, types.ExtractedText, error) {
	log := p.logger.With().Str("document_id", documentID).Logger()

	extracted, err := p.extractor.Extract(ctx, raw)
	if err != nil {
		return nil, extracted, NewExtractionError(documentID, err.Error())
	}
	if extracted.Failed() {
		return nil, extracted, NewExtractionError(documentID, "")
	}
	log.Info().Str("provenance", string(extracted.Provenance)).Int("chars", len([]rune(extracted.Text))).Int("pages", extracted.Pages).Msg("文本抽取完成")

	base := &types.CandidateProfile{
		ID:           documentID,
		RawText:      extracted.Text,
		PersonalInfo: parser.ExtractContactInfo(extracted.Text),
	}
	profile, err := p.profiles.Enhance(ctx, base)
	if err != nil {
		return nil, extracted, NewProfileError(documentID, err)
	}
	profile.ID = documentID

	if p.resolver.Update(profile) {
		log.Debug().Str("name", tracing.MaskPII(profile.Name())).Msg("实体映射已更新")
	}

	if err := p.index.Embed(ctx, profile); err != nil {
		// 没有向量的档案在下一次重建时补齐
		log.Warn().Err(err).Msg("档案向量化失败")
	}
	return profile, extracted, nil
}

// Process 处理一条上传消息，原始文件从对象存储读取
func (p *CVProcessor) Process(ctx context.Context, msg storage.CVUploadMessage) error {
	return p.process(ctx, msg.DocumentID, func(ctx context.Context, doc *models.CVDocument) ([]byte, error) {
		if p.blobs == nil {
			return nil, NewDownloadError(doc.ID, "未配置对象存储")
		}
		key := doc.FilePath
		if key == "" {
			key = msg.FilePath
		}
		data, err := p.blobs.DownloadFile(ctx, key)
		if err != nil {
			return nil, NewDownloadError(doc.ID, err.Error())
		}
		return data, nil
	})
}

// ProcessUpload 处理刚上传、内容仍在内存中的文档
func (p *CVProcessor) ProcessUpload(ctx context.Context, documentID string, data []byte) error {
	return p.process(ctx, documentID, func(context.Context, *models.CVDocument) ([]byte, error) {
		return data, nil
	})
}

func (p *CVProcessor) process(ctx context.Context, documentID string, load func(context.Context, *models.CVDocument) ([]byte, error)) error {
	ctx, span := tracing.Tracer().Start(ctx, "CVProcessor.Process",
		trace.WithAttributes(attribute.String("document.id", documentID)))
	defer span.End()
	log := p.logger.With().Str("document_id", documentID).Logger()
	start := time.Now()

	release, err := p.lock(ctx, documentID)
	if err != nil {
		return err
	}
	defer release()

	doc, err := p.store.FindByID(ctx, documentID)
	if errors.Is(err, storage.ErrDocumentNotFound) {
		log.Info().Msg("文档已被删除，跳过")
		return nil
	}
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return NewDatabaseError(documentID, err.Error())
	}
	if doc.Status == string(types.StatusCompleted) {
		log.Info().Msg("文档已处理完成，跳过")
		return nil
	}

	if err := p.store.UpdateFields(ctx, documentID, map[string]any{
		"status":        string(types.StatusProcessing),
		"error_message": "",
	}); errors.Is(err, storage.ErrDocumentNotFound) {
		log.Info().Msg("文档已被删除，跳过")
		return nil
	} else if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return NewDatabaseError(documentID, err.Error())
	}

	data, err := load(ctx, doc)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeBlob)
		p.markFailed(ctx, documentID, "", err)
		return err
	}

	docType := types.DocumentType(doc.FileType)
	profile, extracted, err := p.ProcessDocument(ctx, documentID, types.RawDocument{Data: data, Type: docType, Name: doc.Filename})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExtraction)
		p.markFailed(ctx, documentID, extracted.Provenance, err)
		return err
	}
	span.SetAttributes(
		attribute.String("document.provenance", string(extracted.Provenance)),
		attribute.String("candidate.name", tracing.SafeAttributeValue("candidate.name", profile.Name(), tracing.DefaultMaxLength)),
		attribute.String("candidate.email", tracing.SafeAttributeValue("candidate.email", utils.Deref(profile.PersonalInfo.Email), tracing.DefaultMaxLength)),
	)
	log.Debug().Str("text", tracing.SafeCVContent(extracted.Text)).Int("pages", extracted.Pages).Msg("文本抽取结果")

	if err := p.complete(ctx, doc, profile, extracted.Provenance); errors.Is(err, storage.ErrDocumentNotFound) {
		log.Info().Msg("文档在处理期间被删除，丢弃解析结果")
		return nil
	} else if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return err
	}

	span.SetStatus(codes.Ok, "")
	log.Info().Str("provenance", string(extracted.Provenance)).Dur("elapsed", time.Since(start)).Msg("简历处理完成")
	return nil
}

// lock 获取文档处理锁；锁服务出错时不阻塞处理
func (p *CVProcessor) lock(ctx context.Context, documentID string) (func(), error) {
	if p.locker == nil {
		return func() {}, nil
	}
	key := fmt.Sprintf(constants.KeyDocumentProcessLock, documentID)
	token, err := p.locker.AcquireLock(ctx, key, constants.DocumentProcessLockTTL)
	if err != nil {
		p.logger.Warn().Err(err).Str("document_id", documentID).Msg("获取文档处理锁失败，继续处理")
		return func() {}, nil
	}
	if token == "" {
		return nil, ErrDocumentBusy
	}
	return func() {
		if _, err := p.locker.ReleaseLock(context.Background(), key, token); err != nil {
			p.logger.Warn().Err(err).Str("document_id", documentID).Msg("释放文档处理锁失败")
		}
	}, nil
}

// complete 持久化档案、同步向量并重建索引
// 文档已被删除时返回 storage.ErrDocumentNotFound，档案不会进入档案池
// 向量同步失败只记录日志，文档记录与向量库之间不保证事务性
func (p *CVProcessor) complete(ctx context.Context, doc *models.CVDocument, profile *types.CandidateProfile, provenance types.Provenance) error {
	parsed, err := marshalProfile(profile)
	if err != nil {
		return NewDatabaseError(doc.ID, err.Error())
	}
	if err := p.store.UpdateFields(ctx, doc.ID, map[string]any{
		"status":        string(types.StatusCompleted),
		"provenance":    string(provenance),
		"parsed_data":   parsed,
		"error_message": "",
	}); errors.Is(err, storage.ErrDocumentNotFound) {
		return err
	} else if err != nil {
		return NewDatabaseError(doc.ID, err.Error())
	}

	// 删除流程先删记录再调用 Forget，复查和放入档案池都与 Forget 互斥
	p.commitMu.Lock()
	if _, err := p.store.FindByID(ctx, doc.ID); err != nil {
		p.commitMu.Unlock()
		if errors.Is(err, storage.ErrDocumentNotFound) {
			return err
		}
		return NewDatabaseError(doc.ID, err.Error())
	}
	if p.vectors != nil && len(profile.Embedding) > 0 {
		payload := map[string]interface{}{"name": profile.Name(), "filename": doc.Filename}
		if err := p.vectors.UpsertProfile(ctx, doc.ID, profile.Embedding, payload); err != nil {
			p.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("同步档案向量失败")
		}
	}
	p.pool.Put(profile)
	p.commitMu.Unlock()

	if err := p.RebuildIndex(ctx); err != nil {
		p.logger.Error().Err(err).Msg("重建索引失败")
	}
	return nil
}

func (p *CVProcessor) markFailed(ctx context.Context, documentID string, provenance types.Provenance, cause error) {
	fields := map[string]any{
		"status":        string(types.StatusFailed),
		"error_message": failureReason(cause),
	}
	if provenance != "" {
		fields["provenance"] = string(provenance)
	}
	if err := p.store.UpdateFields(ctx, documentID, fields); err != nil && !errors.Is(err, storage.ErrDocumentNotFound) {
		p.logger.Error().Err(err).Str("document_id", documentID).Msg("更新文档失败状态出错")
	}
	p.logger.Warn().Err(cause).Str("document_id", documentID).Msg("简历处理失败")
}

// marshalProfile 持久化的档案不含向量，向量保存在向量库中
func marshalProfile(profile *types.CandidateProfile) (datatypes.JSON, error) {
	stored := *profile
	stored.Embedding = nil
	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("序列化档案失败: %w", err)
	}
	return datatypes.JSON(data), nil
}

// RebuildIndex 用档案池重建索引，先为缺少向量的档案补齐向量
func (p *CVProcessor) RebuildIndex(ctx context.Context) error {
	p.rebuildMu.Lock()
	defer p.rebuildMu.Unlock()

	profiles := p.pool.Profiles()
	var missing []*types.CandidateProfile
	for _, profile := range profiles {
		if len(profile.Embedding) == 0 {
			missing = append(missing, profile)
		}
	}
	if len(missing) > 0 && p.index.Ready() {
		if err := p.index.Embed(ctx, missing...); err != nil {
			p.logger.Warn().Err(err).Int("profiles", len(missing)).Msg("补齐档案向量失败")
		} else {
			p.mirror(ctx, missing)
		}
	}
	return p.index.Build(profiles)
}

func (p *CVProcessor) mirror(ctx context.Context, profiles []*types.CandidateProfile) {
	if p.vectors == nil {
		return
	}
	for _, profile := range profiles {
		if len(profile.Embedding) == 0 {
			continue
		}
		if err := p.vectors.UpsertProfile(ctx, profile.ID, profile.Embedding, map[string]interface{}{"name": profile.Name()}); err != nil {
			p.logger.Warn().Err(err).Str("document_id", profile.ID).Msg("同步档案向量失败")
		}
	}
}

// WarmUp 启动时从文档库加载已完成的档案，恢复向量并构建索引
func (p *CVProcessor) WarmUp(ctx context.Context) (int, error) {
	docs, err := p.store.FindByStatus(ctx, string(types.StatusCompleted))
	if err != nil {
		return 0, NewDatabaseError("", err.Error())
	}

	profiles := make([]*types.CandidateProfile, 0, len(docs))
	for i := range docs {
		profile, err := docs[i].Profile()
		if err != nil {
			p.logger.Warn().Err(err).Msg("跳过无法解析的档案")
			continue
		}
		if profile == nil {
			continue
		}
		profiles = append(profiles, profile)
	}

	p.restoreVectors(ctx, profiles)
	for _, profile := range profiles {
		p.resolver.Update(profile)
	}
	p.pool.Replace(profiles)

	if err := p.RebuildIndex(ctx); err != nil {
		return len(profiles), err
	}
	p.logger.Info().Int("profiles", len(profiles)).Int("entities", p.resolver.Len()).Msg("档案预热完成")
	return len(profiles), nil
}

// restoreVectors 从向量库取回已有向量，维度与索引不一致的向量被丢弃
func (p *CVProcessor) restoreVectors(ctx context.Context, profiles []*types.CandidateProfile) {
	if p.vectors == nil || len(profiles) == 0 {
		return
	}
	ids := make([]string, len(profiles))
	for i, profile := range profiles {
		ids[i] = profile.ID
	}
	vectors, err := p.vectors.GetVectors(ctx, ids)
	if err != nil {
		p.logger.Warn().Err(err).Msg("从向量库恢复向量失败，将重新生成")
		return
	}
	dim := p.index.Dimension()
	for _, profile := range profiles {
		v, ok := vectors[profile.ID]
		if !ok || (dim > 0 && len(v) != dim) {
			continue
		}
		profile.Embedding = v
	}
}

// Forget 文档删除后移除档案和向量并重建索引
func (p *CVProcessor) Forget(ctx context.Context, documentID string) error {
	p.commitMu.Lock()
	removed := p.pool.Remove(documentID)
	if p.vectors != nil {
		if err := p.vectors.DeleteByDocument(ctx, documentID); err != nil {
			p.logger.Warn().Err(err).Str("document_id", documentID).Msg("删除档案向量失败")
		}
	}
	p.commitMu.Unlock()
	if !removed {
		return nil
	}
	return p.RebuildIndex(ctx)
}

// HandleDelivery 消费者回调，返回 false 时消息重新入队
// 只有数据库暂时不可用时才重新入队，其余失败已记录在文档状态上
func (p *CVProcessor) HandleDelivery(body []byte) bool {
	var msg storage.CVUploadMessage
	if err := json.Unmarshal(body, &msg); err != nil || msg.DocumentID == "" {
		p.logger.Error().Err(err).Str("body", tracing.TruncateString(string(body), tracing.DefaultMaxLength)).Msg("丢弃无法解析的消息")
		return true
	}

	err := p.Process(context.Background(), msg)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrDocumentBusy):
		p.logger.Info().Str("document_id", msg.DocumentID).Msg("文档正在处理，丢弃重复消息")
		return true
	case errors.Is(err, ErrDatabaseFailed):
		return false
	default:
		return true
	}
}
