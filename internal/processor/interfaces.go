package processor

import (
	"context"
	"time"

	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

// ProfileExtractor 在预填档案上补全结构化字段
type ProfileExtractor interface {
	Enhance(ctx context.Context, base *types.CandidateProfile) (*types.CandidateProfile, error)
}

// BlobReader 读取原始文件
type BlobReader interface {
	DownloadFile(ctx context.Context, objectKey string) ([]byte, error)
}

// Locker 跨实例的互斥锁，未获取到时返回空串
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error)
	ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error)
}

// ProfileSource 问答使用的档案集合
type ProfileSource interface {
	Profiles() []*types.CandidateProfile
}

// QueryRecorder 保存和读取问答记录
type QueryRecorder interface {
	SaveQueryRecord(ctx context.Context, record *types.QueryRecord) error
	GetQueryRecord(ctx context.Context, id string) (*types.QueryRecord, error)
}
