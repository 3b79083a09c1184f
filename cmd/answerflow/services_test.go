package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/config"
	"github.com/BaSui01/answerflow/types"
)

func endpoint(url string) config.EndpointConfig {
	return config.EndpointConfig{BaseURL: url, Timeout: 2 * time.Second}
}

func TestHTTPRouter_Decide(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/route", r.URL.Path)

		var in map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "How do I reset my VPN?", in["question"])

		json.NewEncoder(w).Encode(map[string]any{"category": "it", "confidence": 0.92})
	}))
	defer srv.Close()

	router := newHTTPRouter(endpoint(srv.URL), zap.NewNop())
	category, confidence, err := router.Decide(context.Background(), "How do I reset my VPN?", []string{"it", "hr"}, "")
	require.NoError(t, err)
	assert.Equal(t, "it", category)
	assert.Equal(t, 0.92, confidence)
}

func TestHTTPRouter_ConfidenceOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"category": "it", "confidence": 1.7})
	}))
	defer srv.Close()

	router := newHTTPRouter(endpoint(srv.URL), zap.NewNop())
	_, _, err := router.Decide(context.Background(), "q", []string{"it"}, "")
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))
}

func TestPostJSON_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantCode  types.ErrorCode
		retryable bool
	}{
		{
			name:      "5xx 为瞬时错误",
			handler:   func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			wantCode:  types.ErrTransientAPI,
			retryable: true,
		},
		{
			name:      "429 为瞬时错误",
			handler:   func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			wantCode:  types.ErrTransientAPI,
			retryable: true,
		},
		{
			name:      "4xx 为终止性错误",
			handler:   func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadRequest) },
			wantCode:  types.ErrValidation,
			retryable: false,
		},
		{
			name:      "响应不可解析",
			handler:   func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("not json")) },
			wantCode:  types.ErrInvalidResponseFormat,
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			svc := newHTTPService(endpoint(srv.URL), "test", zap.NewNop())
			var out map[string]any
			err := svc.postJSON(context.Background(), "/x", map[string]any{}, &out)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.GetErrorCode(err))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
		})
	}
}

func TestPostJSON_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // 立刻关闭，制造连接失败

	svc := newHTTPService(endpoint(srv.URL), "test", zap.NewNop())
	var out map[string]any
	err := svc.postJSON(context.Background(), "/x", map[string]any{}, &out)
	require.Error(t, err)
	assert.Equal(t, types.ErrTransientAPI, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestHTTPVectorStore_SemanticSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/semantic", r.URL.Path)

		var in struct {
			Category *string   `json:"category"`
			Vector   []float64 `json:"vector"`
			TopK     int       `json:"top_k"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.NotNil(t, in.Category)
		assert.Equal(t, "hr", *in.Category)
		assert.Equal(t, 5, in.TopK)

		json.NewEncoder(w).Encode(map[string]any{
			"passages": []map[string]any{
				{"id": "p1", "content": "text", "metadata": map[string]any{"source": "handbook.md"}, "distance": 0.12},
			},
		})
	}))
	defer srv.Close()

	store := newHTTPVectorStore(endpoint(srv.URL), zap.NewNop())
	category := "hr"
	passages, err := store.SemanticSearch(context.Background(), &category, []float64{0.1}, 5)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Equal(t, "p1", passages[0].ID)
	assert.Equal(t, 0.12, passages[0].Distance)
	assert.Equal(t, "handbook.md", passages[0].SourceName())
}

func TestHTTPGenerator_EmptyTextRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"text": ""})
	}))
	defer srv.Close()

	gen := newHTTPGenerator(endpoint(srv.URL), zap.NewNop())
	_, err := gen.Generate(context.Background(), "prompt")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidResponseFormat, types.GetErrorCode(err))
}

type stubGenerator struct{ calls int }

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	s.calls++
	return "ok", nil
}

func TestRateLimitedGenerator(t *testing.T) {
	inner := &stubGenerator{}

	// rps=0 时不包装
	assert.Equal(t, inner, newRateLimitedGenerator(inner, 0, 0))

	limited := newRateLimitedGenerator(inner, 100, 1)
	out, err := limited.Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, inner.calls)

	// 取消的上下文在等待令牌时返回超时类错误
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = limited.Generate(ctx, "p")
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
}
