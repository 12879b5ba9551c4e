package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/mdad-elec/cv-analysis-system/internal/config"
	"github.com/mdad-elec/cv-analysis-system/internal/constants"
	"github.com/mdad-elec/cv-analysis-system/internal/tracing"
	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

// ErrQueryNotFound 问答记录不存在或已过期
var ErrQueryNotFound = errors.New("问答记录不存在")

var redisTracer = otel.Tracer("cv-analysis-system/storage/redis")

// 原子地检查并登记文件MD5，返回已存在的文档ID（新登记时为空）
var checkAndSetMD5Script = redis.NewScript(`
local existing = redis.call('GET', KEYS[2])
if existing then
	return existing
end
redis.call('SADD', KEYS[1], ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'EX', ARGV[3])
return ''
`)

var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Redis wraps the Redis client
type Redis struct {
	Client   *redis.Client
	config   *config.RedisConfig
	queryTTL time.Duration
}

// NewRedisAdapter 创建Redis客户端并挂载OpenTelemetry钩子
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  time.Duration(cfg.DialTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		MaxRetries:   cfg.MaxRetries,
	})

	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return newRedis(client, cfg), nil
}

func newRedis(client *redis.Client, cfg *config.RedisConfig) *Redis {
	return &Redis{
		Client:   client,
		config:   cfg,
		queryTTL: config.GetDuration(cfg.QueryTTL, constants.DefaultQueryTTL),
	}
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// GetMD5ExpireDuration 返回配置的MD5记录过期时间
func (r *Redis) GetMD5ExpireDuration() time.Duration {
	days := r.config.MD5RecordExpireDays
	if days <= 0 {
		days = 365
	}
	return time.Duration(days) * 24 * time.Hour
}

// CheckAndSetFileMD5 原子地登记文件MD5
// 已存在时返回 (true, 已有文档ID)；新登记时返回 (false, "")
func (r *Redis) CheckAndSetFileMD5(ctx context.Context, md5Hex, documentID string) (bool, string, error) {
	ctx, span := redisTracer.Start(ctx, "Redis.CheckAndSetFileMD5", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		semconv.DBSystemRedis,
		attribute.String("db.operation", "EVALSHA"),
		attribute.String("db.redis.member", md5Hex),
	)

	mapKey := fmt.Sprintf(constants.KeyFileMD5ToDocumentID, md5Hex)
	expiry := int64(r.GetMD5ExpireDuration().Seconds())
	existing, err := checkAndSetMD5Script.Run(ctx, r.Client, []string{constants.KeyFileMD5Set, mapKey}, md5Hex, documentID, expiry).Text()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return false, "", fmt.Errorf("执行原子检查和添加MD5操作失败: %w", err)
	}

	exists := existing != ""
	span.SetAttributes(attribute.Bool("already_exists", exists))
	span.SetStatus(codes.Ok, "")
	return exists, existing, nil
}

// RemoveFileMD5 删除文件MD5登记，用于上传失败回滚或删除文档
func (r *Redis) RemoveFileMD5(ctx context.Context, md5Hex string) error {
	if md5Hex == "" {
		return nil
	}
	pipe := r.Client.TxPipeline()
	pipe.SRem(ctx, constants.KeyFileMD5Set, md5Hex)
	pipe.Del(ctx, fmt.Sprintf(constants.KeyFileMD5ToDocumentID, md5Hex))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("从集合中移除MD5失败: %w", err)
	}
	return nil
}

// SaveQueryRecord 保存问答记录，按配置的 TTL 过期
func (r *Redis) SaveQueryRecord(ctx context.Context, record *types.QueryRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化问答记录失败: %w", err)
	}

	key := fmt.Sprintf(constants.KeyQueryRecord, record.ID)
	if err := r.Client.Set(ctx, key, data, r.queryTTL).Err(); err != nil {
		return fmt.Errorf("保存问答记录失败 (%s): %w", tracing.SafeRedisKey(key), err)
	}
	return nil
}

// GetQueryRecord 读取问答记录，不存在或已过期时返回 ErrQueryNotFound
func (r *Redis) GetQueryRecord(ctx context.Context, id string) (*types.QueryRecord, error) {
	data, err := r.Client.Get(ctx, fmt.Sprintf(constants.KeyQueryRecord, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取问答记录失败: %w", err)
	}

	var record types.QueryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("解析问答记录失败: %w", err)
	}
	return &record, nil
}

// AcquireLock 尝试获取一个分布式锁，未获取到时返回空串
func (r *Redis) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error) {
	lockValue := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, expiration).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return lockValue, nil
}

// ReleaseLock 释放一个分布式锁，只有持有者能释放
func (r *Redis) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	res, err := releaseLockScript.Run(ctx, r.Client, []string{lockKey}, lockValue).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
