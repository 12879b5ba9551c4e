package parser_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdad-elec/cv-analysis-system/internal/config"
	"github.com/mdad-elec/cv-analysis-system/internal/parser"
)

func newEmbeddingServer(t *testing.T, handler func(req parser.AliyunOpenAIEmbeddingRequest) (int, any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req parser.AliyunOpenAIEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		status, body := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAliyunEmbedder_EmbedStrings_OrdersByIndex(t *testing.T) {
	srv := newEmbeddingServer(t, func(req parser.AliyunOpenAIEmbeddingRequest) (int, any) {
		assert.Equal(t, "text-embedding-v3", req.Model)
		assert.Equal(t, 3, req.Dimensions)
		return http.StatusOK, parser.AliyunOpenAIEmbeddingResponse{
			Data: []parser.AliyunOpenAIDataEntry{
				{Index: 1, Embedding: []float64{4, 5, 6}},
				{Index: 0, Embedding: []float64{1, 2, 3}},
			},
		}
	})

	embedder, err := parser.NewAliyunEmbedder("test-key", config.EmbeddingConfig{BaseURL: srv.URL, Dimensions: 3})
	require.NoError(t, err)

	vectors, err := embedder.EmbedStrings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float64{1, 2, 3}, vectors[0])
	assert.Equal(t, []float64{4, 5, 6}, vectors[1])
	assert.Equal(t, 3, embedder.GetDimensions())
}

func TestAliyunEmbedder_EmbedStrings_ModelOption(t *testing.T) {
	srv := newEmbeddingServer(t, func(req parser.AliyunOpenAIEmbeddingRequest) (int, any) {
		assert.Equal(t, "custom-model", req.Model)
		assert.Equal(t, "only", req.Input)
		return http.StatusOK, parser.AliyunOpenAIEmbeddingResponse{
			Data: []parser.AliyunOpenAIDataEntry{{Index: 0, Embedding: []float64{0.5}}},
		}
	})

	embedder, err := parser.NewAliyunEmbedder("test-key", config.EmbeddingConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	vectors, err := embedder.EmbedStrings(context.Background(), []string{"only"}, embedding.WithModel("custom-model"))
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.5}}, vectors)
}

func TestAliyunEmbedder_EmbedStrings_Errors(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		srv := newEmbeddingServer(t, func(parser.AliyunOpenAIEmbeddingRequest) (int, any) {
			return http.StatusTooManyRequests, map[string]string{"message": "slow down"}
		})
		embedder, err := parser.NewAliyunEmbedder("test-key", config.EmbeddingConfig{BaseURL: srv.URL})
		require.NoError(t, err)

		_, err = embedder.EmbedStrings(context.Background(), []string{"x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "429")
	})

	t.Run("api error", func(t *testing.T) {
		srv := newEmbeddingServer(t, func(parser.AliyunOpenAIEmbeddingRequest) (int, any) {
			return http.StatusOK, parser.AliyunOpenAIEmbeddingResponse{
				Error: &parser.AliyunOpenAIError{Code: "InvalidParameter", Message: "bad input"},
			}
		})
		embedder, err := parser.NewAliyunEmbedder("test-key", config.EmbeddingConfig{BaseURL: srv.URL})
		require.NoError(t, err)

		_, err = embedder.EmbedStrings(context.Background(), []string{"x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad input")
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		srv := newEmbeddingServer(t, func(parser.AliyunOpenAIEmbeddingRequest) (int, any) {
			return http.StatusOK, parser.AliyunOpenAIEmbeddingResponse{
				Data: []parser.AliyunOpenAIDataEntry{{Index: 0, Embedding: []float64{1, 2}}},
			}
		})
		embedder, err := parser.NewAliyunEmbedder("test-key", config.EmbeddingConfig{BaseURL: srv.URL, Dimensions: 4})
		require.NoError(t, err)

		_, err = embedder.EmbedStrings(context.Background(), []string{"x"})
		require.Error(t, err)
	})
}

func TestAliyunEmbedder_RequiresKey(t *testing.T) {
	_, err := parser.NewAliyunEmbedder("", config.EmbeddingConfig{})
	require.Error(t, err)
}

func TestAliyunEmbedder_EmptyInput(t *testing.T) {
	embedder, err := parser.NewAliyunEmbedder("test-key", config.EmbeddingConfig{BaseURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	vectors, err := embedder.EmbedStrings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}
