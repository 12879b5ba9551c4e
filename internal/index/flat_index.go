package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mdad-elec/cv-analysis-system/internal/logger"
	"github.com/mdad-elec/cv-analysis-system/internal/parser"
	"github.com/mdad-elec/cv-analysis-system/internal/types"
)

var (
	// ErrDimensionMismatch 向量维度与索引不一致
	ErrDimensionMismatch = errors.New("向量维度不一致")
	// ErrEmbedderUnavailable 嵌入模型尚未加载
	ErrEmbedderUnavailable = errors.New("嵌入模型不可用")
)

// snapshot 一次构建的不可变结果，vectors[i] 对应 profiles[i]
type snapshot struct {
	dim      int
	vectors  [][]float64
	profiles []*types.CandidateProfile
	builtAt  time.Time
}

type embedderBox struct {
	embedder parser.Embedder
}

// FlatIndex 精确 L2 最近邻索引
// 构建完成后整体替换，读者只会看到旧快照或新快照
type FlatIndex struct {
	current  atomic.Pointer[snapshot]
	embedder atomic.Pointer[embedderBox]
	buildMu  sync.Mutex
	dim      int
	logger   zerolog.Logger
}

// Option 索引选项
type Option func(*FlatIndex)

// WithDimension 固定索引维度，0 表示由首次构建决定
func WithDimension(dim int) Option {
	return func(x *FlatIndex) {
		x.dim = dim
	}
}

// WithLogger 设置日志记录器
func WithLogger(l zerolog.Logger) Option {
	return func(x *FlatIndex) {
		x.logger = l
	}
}

// NewFlatIndex 创建空索引；在首次 Build 之前 Search 走降级路径
func NewFlatIndex(opts ...Option) *FlatIndex {
	x := &FlatIndex{logger: logger.Named("flat_index")}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// AttachEmbedder 设置嵌入模型，nil 表示卸载
func (x *FlatIndex) AttachEmbedder(e parser.Embedder) {
	if e == nil {
		x.embedder.Store(nil)
		return
	}
	x.embedder.Store(&embedderBox{embedder: e})
}

// LoadEmbedderAsync 在后台加载嵌入模型，加载完成前索引以降级模式工作
// 返回的 channel 在加载结束时收到结果并关闭
func (x *FlatIndex) LoadEmbedderAsync(ctx context.Context, load func(ctx context.Context) (parser.Embedder, error)) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		start := time.Now()
		e, err := load(ctx)
		if err != nil {
			x.logger.Error().Err(err).Msg("嵌入模型加载失败，语义检索不可用")
			done <- err
			return
		}
		x.AttachEmbedder(e)
		x.logger.Info().Dur("elapsed", time.Since(start)).Int("dimensions", e.GetDimensions()).Msg("嵌入模型加载完成")
		done <- nil
	}()
	return done
}

// Ready 嵌入模型是否可用
func (x *FlatIndex) Ready() bool {
	return x.currentEmbedder() != nil
}

func (x *FlatIndex) currentEmbedder() parser.Embedder {
	if box := x.embedder.Load(); box != nil {
		return box.embedder
	}
	return nil
}

// Built 是否已经完成过一次构建
func (x *FlatIndex) Built() bool {
	return x.current.Load() != nil
}

// Size 当前快照中的向量数量
func (x *FlatIndex) Size() int {
	if s := x.current.Load(); s != nil {
		return len(s.vectors)
	}
	return 0
}

// Dimension 当前快照的维度，未构建时返回配置值
func (x *FlatIndex) Dimension() int {
	if s := x.current.Load(); s != nil && s.dim > 0 {
		return s.dim
	}
	return x.dim
}

// Embed 为档案计算并附加向量
func (x *FlatIndex) Embed(ctx context.Context, profiles ...*types.CandidateProfile) error {
	e := x.currentEmbedder()
	if e == nil {
		return ErrEmbedderUnavailable
	}
	if len(profiles) == 0 {
		return nil
	}

	texts := make([]string, len(profiles))
	for i, p := range profiles {
		texts[i] = parser.EmbeddingText(p)
	}
	vectors, err := e.EmbedStrings(ctx, texts)
	if err != nil {
		return fmt.Errorf("生成档案向量失败: %w", err)
	}
	if len(vectors) != len(profiles) {
		return fmt.Errorf("生成档案向量失败: 期望 %d 个向量, 实际 %d", len(profiles), len(vectors))
	}

	want := x.Dimension()
	for i, v := range vectors {
		if want > 0 && len(v) != want {
			return fmt.Errorf("%w: 期望 %d, 实际 %d", ErrDimensionMismatch, want, len(v))
		}
		profiles[i].Embedding = v
	}
	return nil
}

// Build 用带向量的档案重建索引，没有向量的档案被跳过
// 维度不一致时返回 ErrDimensionMismatch 并保留旧索引
func (x *FlatIndex) Build(profiles []*types.CandidateProfile) error {
	x.buildMu.Lock()
	defer x.buildMu.Unlock()

	next := &snapshot{dim: x.dim, builtAt: time.Now()}
	for _, p := range profiles {
		if p == nil || len(p.Embedding) == 0 {
			continue
		}
		if next.dim == 0 {
			next.dim = len(p.Embedding)
		}
		if len(p.Embedding) != next.dim {
			return fmt.Errorf("%w: 档案 %s 维度 %d, 索引维度 %d", ErrDimensionMismatch, p.ID, len(p.Embedding), next.dim)
		}
		vec := make([]float64, len(p.Embedding))
		copy(vec, p.Embedding)
		next.vectors = append(next.vectors, vec)
		next.profiles = append(next.profiles, p)
	}

	x.current.Store(next)
	x.logger.Info().Int("vectors", len(next.vectors)).Int("skipped", len(profiles)-len(next.vectors)).Int("dim", next.dim).Msg("索引构建完成")
	return nil
}

func squaredL2(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func firstK(profiles []*types.CandidateProfile, k int) []*types.CandidateProfile {
	if k < 0 {
		k = 0
	}
	if k > len(profiles) {
		k = len(profiles)
	}
	return profiles[:k]
}

// Search 返回与查询最接近的至多 k 个档案（按距离升序），第二个返回值表示结果来自索引
// candidates 非 nil 时只在其中按 ID 出现的档案里排序，并返回 candidates 中的档案；为 nil 时检索整个快照
// 索引未构建、嵌入模型不可用或查询向量生成失败时，返回 candidates 的前 k 个，不保证相关性顺序
func (x *FlatIndex) Search(ctx context.Context, query string, k int, candidates []*types.CandidateProfile) ([]*types.CandidateProfile, bool) {
	snap := x.current.Load()
	e := x.currentEmbedder()
	if snap == nil || e == nil {
		return firstK(candidates, k), false
	}
	if len(snap.vectors) == 0 || k <= 0 {
		return []*types.CandidateProfile{}, true
	}

	vectors, err := e.EmbedStrings(ctx, []string{query})
	if err != nil || len(vectors) != 1 {
		x.logger.Warn().Err(err).Msg("查询向量生成失败，使用降级结果")
		return firstK(candidates, k), false
	}
	q := vectors[0]
	if len(q) != snap.dim {
		x.logger.Warn().Int("query_dim", len(q)).Int("index_dim", snap.dim).Msg("查询向量维度与索引不一致，使用降级结果")
		return firstK(candidates, k), false
	}

	var allowed map[string]*types.CandidateProfile
	if candidates != nil {
		allowed = make(map[string]*types.CandidateProfile, len(candidates))
		for _, p := range candidates {
			if p != nil {
				allowed[p.ID] = p
			}
		}
	}

	order := make([]int, 0, len(snap.vectors))
	dists := make([]float64, len(snap.vectors))
	for i, v := range snap.vectors {
		if allowed != nil {
			if _, ok := allowed[snap.profiles[i].ID]; !ok {
				continue
			}
		}
		order = append(order, i)
		dists[i] = squaredL2(q, v)
	}
	sort.SliceStable(order, func(a, b int) bool { return dists[order[a]] < dists[order[b]] })

	k = min(k, len(order))
	results := make([]*types.CandidateProfile, k)
	for i := 0; i < k; i++ {
		p := snap.profiles[order[i]]
		if allowed != nil {
			p = allowed[p.ID]
		}
		results[i] = p
	}
	return results, true
}
