package index

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdad-elec/cv-analysis-system/internal/parser"
	"github.com/mdad-elec/cv-analysis-system/internal/types"
	"github.com/mdad-elec/cv-analysis-system/pkg/utils"
)

// keywordEmbedder 以关键词计数作为二维向量：[go, python]
type keywordEmbedder struct {
	err error
	dim int
}

func (k keywordEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if k.err != nil {
		return nil, k.err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		lower := strings.ToLower(t)
		v := []float64{float64(strings.Count(lower, "go")), float64(strings.Count(lower, "python"))}
		if k.dim > 2 {
			v = append(v, make([]float64, k.dim-2)...)
		}
		out[i] = v
	}
	return out, nil
}

func (k keywordEmbedder) GetDimensions() int {
	if k.dim > 0 {
		return k.dim
	}
	return 2
}

func withVector(id string, v ...float64) *types.CandidateProfile {
	return &types.CandidateProfile{ID: id, Embedding: v}
}

func newIndex(opts ...Option) *FlatIndex {
	return NewFlatIndex(append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
}

func ids(profiles []*types.CandidateProfile) []string {
	out := make([]string, len(profiles))
	for i, p := range profiles {
		out[i] = p.ID
	}
	return out
}

func TestSearch_BeforeBuildReturnsFallback(t *testing.T) {
	x := newIndex()
	x.AttachEmbedder(keywordEmbedder{})
	pool := []*types.CandidateProfile{withVector("a"), withVector("b"), withVector("c")}

	got, semantic := x.Search(context.Background(), "go", 2, pool)
	assert.False(t, semantic)
	assert.Equal(t, []string{"a", "b"}, ids(got))

	got, _ = x.Search(context.Background(), "go", 10, pool)
	assert.Len(t, got, 3)
}

func TestBuild_EmptyIsQueryable(t *testing.T) {
	x := newIndex()
	x.AttachEmbedder(keywordEmbedder{})
	require.NoError(t, x.Build(nil))

	got, semantic := x.Search(context.Background(), "go", 5, []*types.CandidateProfile{withVector("a")})
	assert.True(t, semantic)
	assert.Empty(t, got)
	assert.Zero(t, x.Size())
	assert.True(t, x.Built())
}

func TestSearch_AscendingDistance(t *testing.T) {
	x := newIndex()
	x.AttachEmbedder(keywordEmbedder{})
	require.NoError(t, x.Build([]*types.CandidateProfile{
		withVector("python-dev", 0, 3),
		withVector("no-vector"),
		withVector("gopher", 3, 0),
		withVector("mixed", 1, 1),
	}))
	assert.Equal(t, 3, x.Size())
	assert.Equal(t, 2, x.Dimension())

	got, semantic := x.Search(context.Background(), "go go go", 2, nil)
	assert.True(t, semantic)
	assert.Equal(t, []string{"gopher", "mixed"}, ids(got))

	got, _ = x.Search(context.Background(), "python", 10, nil)
	assert.Equal(t, []string{"mixed", "python-dev", "gopher"}, ids(got))
}

func TestSearch_RestrictedToCandidates(t *testing.T) {
	x := newIndex()
	x.AttachEmbedder(keywordEmbedder{})
	require.NoError(t, x.Build([]*types.CandidateProfile{
		withVector("gopher", 3, 0),
		withVector("python-dev", 0, 3),
		withVector("mixed", 1, 1),
	}))

	// 作用域内的档案可能是更新后的新实例，返回调用方传入的那一个
	scoped := withVector("python-dev", 0, 3)
	got, semantic := x.Search(context.Background(), "go go go", 5, []*types.CandidateProfile{scoped})
	assert.True(t, semantic)
	require.Len(t, got, 1)
	assert.Same(t, scoped, got[0])

	got, _ = x.Search(context.Background(), "go go go", 5, []*types.CandidateProfile{withVector("mixed"), withVector("python-dev")})
	assert.Equal(t, []string{"mixed", "python-dev"}, ids(got))

	got, semantic = x.Search(context.Background(), "go", 5, []*types.CandidateProfile{withVector("not-indexed")})
	assert.True(t, semantic)
	assert.Empty(t, got)
}

func TestBuild_DimensionMismatchKeepsPrevious(t *testing.T) {
	x := newIndex()
	require.NoError(t, x.Build([]*types.CandidateProfile{withVector("a", 1, 0)}))

	err := x.Build([]*types.CandidateProfile{withVector("b", 1, 0), withVector("c", 1, 0, 0)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 1, x.Size())

	fixed := newIndex(WithDimension(3))
	assert.ErrorIs(t, fixed.Build([]*types.CandidateProfile{withVector("a", 1, 0)}), ErrDimensionMismatch)
}

func TestSearch_DegradesWithoutEmbedder(t *testing.T) {
	x := newIndex()
	require.NoError(t, x.Build([]*types.CandidateProfile{withVector("a", 1, 0)}))
	pool := []*types.CandidateProfile{withVector("p1"), withVector("p2")}

	got, semantic := x.Search(context.Background(), "go", 1, pool)
	assert.False(t, semantic)
	assert.Equal(t, []string{"p1"}, ids(got))

	x.AttachEmbedder(keywordEmbedder{err: errors.New("model offline")})
	got, semantic = x.Search(context.Background(), "go", 1, pool)
	assert.False(t, semantic)
	assert.Equal(t, []string{"p1"}, ids(got))

	x.AttachEmbedder(keywordEmbedder{dim: 5})
	_, semantic = x.Search(context.Background(), "go", 1, pool)
	assert.False(t, semantic)
}

func TestEmbed(t *testing.T) {
	x := newIndex()
	p := &types.CandidateProfile{
		ID:           "cv-1",
		PersonalInfo: types.PersonalInfo{Name: utils.StringPtr("Ann")},
		Skills:       []types.Skill{{Name: "Python"}},
	}
	assert.ErrorIs(t, x.Embed(context.Background(), p), ErrEmbedderUnavailable)
	assert.False(t, x.Ready())

	x.AttachEmbedder(keywordEmbedder{})
	assert.True(t, x.Ready())
	require.NoError(t, x.Embed(context.Background(), p))
	assert.Equal(t, []float64{0, 1}, p.Embedding)

	fixed := newIndex(WithDimension(4))
	fixed.AttachEmbedder(keywordEmbedder{})
	assert.ErrorIs(t, fixed.Embed(context.Background(), p), ErrDimensionMismatch)
}

func TestLoadEmbedderAsync(t *testing.T) {
	x := newIndex()
	release := make(chan struct{})
	done := x.LoadEmbedderAsync(context.Background(), func(context.Context) (parser.Embedder, error) {
		<-release
		return keywordEmbedder{}, nil
	})

	assert.False(t, x.Ready())
	close(release)
	require.NoError(t, <-done)
	assert.True(t, x.Ready())

	failed := x.LoadEmbedderAsync(context.Background(), func(context.Context) (parser.Embedder, error) {
		return nil, errors.New("no api key")
	})
	assert.Error(t, <-failed)
}

func TestConcurrentBuildAndSearch(t *testing.T) {
	x := newIndex()
	x.AttachEmbedder(keywordEmbedder{})
	pool := []*types.CandidateProfile{withVector("a", 1, 0), withVector("b", 0, 1)}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = x.Build(pool)
		}()
		go func() {
			defer wg.Done()
			got, semantic := x.Search(context.Background(), "go", 2, pool)
			if semantic {
				assert.Len(t, got, 2)
			}
		}()
	}
	wg.Wait()
}
