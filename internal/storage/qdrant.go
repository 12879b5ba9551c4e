package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/mdad-elec/cv-analysis-system/internal/config"
	"github.com/mdad-elec/cv-analysis-system/internal/logger"
	"github.com/mdad-elec/cv-analysis-system/internal/tracing"
)

var qdrantTracer = otel.Tracer("cv-analysis-system/storage/qdrant")

// ProfilePointNamespace 档案向量点ID的命名空间，同一文档总是得到同一个点ID
var ProfilePointNamespace = uuid.Must(uuid.FromString("3b1f0c5e-8d0a-4f6e-9a53-6c2d7e91b4a0"))

// errCollectionNotFound 集合不存在
var errCollectionNotFound = errors.New("qdrant collection not found")

// VectorMirror 档案向量的持久化副本
// 内存索引可以在重启后从这里恢复向量，而不必重新调用嵌入模型
type VectorMirror interface {
	UpsertProfile(ctx context.Context, documentID string, vector []float64, payload map[string]interface{}) error
	DeleteByDocument(ctx context.Context, documentID string) error
	GetVectors(ctx context.Context, documentIDs []string) (map[string][]float64, error)
}

// 确保Qdrant实现了VectorMirror接口
var _ VectorMirror = (*Qdrant)(nil)

// Qdrant 基于 REST 接口的向量数据库客户端
type Qdrant struct {
	endpoint       string
	collectionName string
	vectorSize     int
	distanceMetric string
	httpClient     *http.Client
	logger         zerolog.Logger
}

// SearchResult 一个搜索结果项
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// QdrantOption Qdrant构造函数选项
type QdrantOption func(*Qdrant)

// WithDistanceMetric 设置距离度量
func WithDistanceMetric(metric string) QdrantOption {
	return func(q *Qdrant) {
		q.distanceMetric = metric
	}
}

// WithHttpTimeout 设置HTTP客户端超时
func WithHttpTimeout(timeout time.Duration) QdrantOption {
	return func(q *Qdrant) {
		q.httpClient = &http.Client{Timeout: timeout}
	}
}

// NewQdrant 创建Qdrant客户端并确保集合存在
func NewQdrant(cfg *config.QdrantConfig, opts ...QdrantOption) (*Qdrant, error) {
	if cfg == nil {
		return nil, fmt.Errorf("qdrant配置不能为空")
	}

	q := &Qdrant{
		endpoint:       cfg.Endpoint,
		collectionName: cfg.Collection,
		vectorSize:     cfg.Dimension,
		distanceMetric: "Euclid", // 与内存索引的 L2 距离保持一致
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		logger:         logger.Named("qdrant"),
	}
	if q.endpoint == "" {
		q.endpoint = "http://localhost:6333"
	}
	if q.collectionName == "" {
		q.collectionName = "cv_profiles"
	}
	if q.vectorSize <= 0 {
		q.vectorSize = 1024
	}
	for _, opt := range opts {
		opt(q)
	}

	if err := q.ensureCollectionExists(context.Background()); err != nil {
		return nil, fmt.Errorf("确保集合 '%s' 存在失败: %w", q.collectionName, err)
	}

	q.logger.Info().Str("endpoint", q.endpoint).Str("collection", q.collectionName).Int("dimension", q.vectorSize).Msg("Qdrant客户端初始化成功")
	return q, nil
}

// Dimension 集合向量维度
func (q *Qdrant) Dimension() int {
	return q.vectorSize
}

// PointID 文档对应的确定性点ID
func PointID(documentID string) string {
	return uuid.NewV5(ProfilePointNamespace, documentID).String()
}

func (q *Qdrant) ensureCollectionExists(ctx context.Context) error {
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}

	err := q.doRequest(ctx, http.MethodGet, "/collections/"+q.collectionName, nil, &info)
	if errors.Is(err, errCollectionNotFound) {
		q.logger.Info().Str("collection", q.collectionName).Msg("集合不存在，将创建新集合")
		return q.createCollection(ctx)
	}
	if err != nil {
		return err
	}

	if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != q.vectorSize {
		return fmt.Errorf("集合维度 %d 与配置维度 %d 不一致", size, q.vectorSize)
	}
	return nil
}

func (q *Qdrant) createCollection(ctx context.Context) error {
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.vectorSize,
			"distance": q.distanceMetric,
		},
	}
	if err := q.doRequest(ctx, http.MethodPut, "/collections/"+q.collectionName, body, nil); err != nil {
		return fmt.Errorf("创建集合失败: %w", err)
	}
	q.logger.Info().Str("collection", q.collectionName).Int("dimension", q.vectorSize).Msg("已创建Qdrant集合")
	return nil
}

// UpsertProfile 写入或覆盖文档的档案向量
func (q *Qdrant) UpsertProfile(ctx context.Context, documentID string, vector []float64, payload map[string]interface{}) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.UpsertProfile", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.collection", q.collectionName),
		attribute.String("document.id", documentID),
		attribute.Int("vector.size", len(vector)),
	)

	if len(vector) != q.vectorSize {
		err := fmt.Errorf("向量维度(%d)与集合维度(%d)不匹配", len(vector), q.vectorSize)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return err
	}

	fullPayload := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		fullPayload[k] = v
	}
	fullPayload["document_id"] = documentID

	body := map[string]interface{}{
		"points": []map[string]interface{}{{
			"id":      PointID(documentID),
			"vector":  vector,
			"payload": fullPayload,
		}},
	}
	if err := q.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", q.collectionName), body, nil); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("写入档案向量失败: %w", err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// DeleteByDocument 删除文档的档案向量
func (q *Qdrant) DeleteByDocument(ctx context.Context, documentID string) error {
	body := map[string]interface{}{
		"points": []string{PointID(documentID)},
	}
	if err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", q.collectionName), body, nil); err != nil {
		return fmt.Errorf("删除档案向量失败: %w", err)
	}
	return nil
}

// GetVectors 按文档ID批量读取向量，缺失的文档不出现在结果中
func (q *Qdrant) GetVectors(ctx context.Context, documentIDs []string) (map[string][]float64, error) {
	out := make(map[string][]float64, len(documentIDs))
	if len(documentIDs) == 0 {
		return out, nil
	}

	ids := make([]string, len(documentIDs))
	for i, id := range documentIDs {
		ids[i] = PointID(id)
	}
	var result struct {
		Result []struct {
			ID      string                 `json:"id"`
			Vector  []float64              `json:"vector"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	body := map[string]interface{}{
		"ids":          ids,
		"with_vector":  true,
		"with_payload": []string{"document_id"},
	}
	if err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points", q.collectionName), body, &result); err != nil {
		return nil, fmt.Errorf("读取档案向量失败: %w", err)
	}

	for _, p := range result.Result {
		docID, _ := p.Payload["document_id"].(string)
		if docID == "" || len(p.Vector) == 0 {
			continue
		}
		out[docID] = p.Vector
	}
	return out, nil
}

// Search 按向量搜索相似档案
func (q *Qdrant) Search(ctx context.Context, vector []float64, limit int) ([]SearchResult, error) {
	if len(vector) != q.vectorSize {
		return nil, fmt.Errorf("查询向量维度(%d)与配置维度(%d)不匹配", len(vector), q.vectorSize)
	}
	if limit <= 0 {
		limit = 10
	}

	var result struct {
		Result []struct {
			ID      string                 `json:"id"`
			Score   float32                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
	}
	body := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", q.collectionName), body, &result); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(result.Result))
	for _, p := range result.Result {
		results = append(results, SearchResult{ID: p.ID, Score: p.Score, Payload: p.Payload})
	}
	return results, nil
}

// CountPoints 集合中的点数量
func (q *Qdrant) CountPoints(ctx context.Context) (int64, error) {
	var result struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	body := map[string]interface{}{"exact": true}
	if err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/count", q.collectionName), body, &result); err != nil {
		return 0, err
	}
	return result.Result.Count, nil
}

func (q *Qdrant) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	ctx, span := qdrantTracer.Start(ctx, fmt.Sprintf("%s %s", method, path), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("net.peer.name", q.endpoint),
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", path),
	)

	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
		reader = bytes.NewReader(jsonBody)
		span.SetAttributes(attribute.Int("http.request.body.size", len(jsonBody)))
	}

	req, err := http.NewRequestWithContext(ctx, method, q.endpoint+path, reader)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := q.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return err
	}

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return errCollectionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("qdrant API error: status=%d, body=%s", resp.StatusCode, tracing.TruncateString(string(respBody), tracing.DefaultMaxLength))
		tracing.RecordHTTPError(span, err, resp.StatusCode)
		return err
	}

	if result != nil && len(respBody) > 0 {
		if err = json.Unmarshal(respBody, result); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
