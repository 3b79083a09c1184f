package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/answerflow/config"
	"github.com/BaSui01/answerflow/rag"
	"github.com/BaSui01/answerflow/types"
)

// =============================================================================
// 🔌 外部服务 HTTP 适配器
// =============================================================================
// 路由、向量化、向量检索与文本生成都是独立部署的 HTTP 服务，
// 这里将它们适配到 rag 包的接口契约上。
// 错误统一映射为带错误码的 types.Error，供重试与恢复逻辑分类。

// httpService 单个下游服务的通用 JSON 客户端
type httpService struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

func newHTTPService(cfg config.EndpointConfig, name string, logger *zap.Logger) *httpService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpService{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(zap.String("service", name)),
	}
}

// postJSON 发送请求并解码响应，错误按可恢复性分类：
// 超时 → TIMEOUT，网络/5xx/429 → TRANSIENT_API_ERROR，
// 其它 4xx → VALIDATION_ERROR，响应不可解析 → INVALID_RESPONSE_FORMAT
func (s *httpService) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return types.NewError(types.ErrValidation, "request marshal failed").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return types.NewError(types.ErrValidation, "request build failed").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return types.NewError(types.ErrTimeout, fmt.Sprintf("%s timed out", path)).WithCause(err)
		}
		return types.NewError(types.ErrTransientAPI, fmt.Sprintf("%s unreachable", path)).WithCause(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return types.NewError(types.ErrTransientAPI, fmt.Sprintf("%s returned status %d", path, resp.StatusCode))
	default:
		return types.NewError(types.ErrValidation, fmt.Sprintf("%s returned status %d", path, resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewError(types.ErrInvalidResponseFormat, fmt.Sprintf("%s response unparseable", path)).WithCause(err)
	}
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// ---------------------------------------------------------------------------
// 类目路由服务
// ---------------------------------------------------------------------------

type httpRouter struct{ svc *httpService }

func newHTTPRouter(cfg config.EndpointConfig, logger *zap.Logger) *httpRouter {
	return &httpRouter{svc: newHTTPService(cfg, "router", logger)}
}

func (r *httpRouter) Decide(ctx context.Context, question string, categories []string, conversationContext string) (string, float64, error) {
	in := struct {
		Question            string   `json:"question"`
		Categories          []string `json:"categories"`
		ConversationContext string   `json:"conversation_context,omitempty"`
	}{question, categories, conversationContext}

	var out struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	if err := r.svc.postJSON(ctx, "/route", in, &out); err != nil {
		return "", 0, err
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return "", 0, types.NewError(types.ErrValidation, fmt.Sprintf("confidence %.3f out of range", out.Confidence))
	}
	return out.Category, out.Confidence, nil
}

// ---------------------------------------------------------------------------
// 向量化服务
// ---------------------------------------------------------------------------

type httpEmbedder struct{ svc *httpService }

func newHTTPEmbedder(cfg config.EndpointConfig, logger *zap.Logger) *httpEmbedder {
	return &httpEmbedder{svc: newHTTPService(cfg, "embedding", logger)}
}

func (e *httpEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	in := struct {
		Text string `json:"text"`
	}{text}

	var out struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := e.svc.postJSON(ctx, "/embed", in, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, types.NewError(types.ErrInvalidResponseFormat, "empty embedding")
	}
	return out.Embedding, nil
}

// ---------------------------------------------------------------------------
// 向量存储检索服务
// ---------------------------------------------------------------------------

type httpVectorStore struct{ svc *httpService }

func newHTTPVectorStore(cfg config.EndpointConfig, logger *zap.Logger) *httpVectorStore {
	return &httpVectorStore{svc: newHTTPService(cfg, "vector_store", logger)}
}

type passagePayload struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Distance float64        `json:"distance"`
}

func toPassages(payloads []passagePayload) []types.Passage {
	passages := make([]types.Passage, 0, len(payloads))
	for _, p := range payloads {
		passages = append(passages, types.Passage{
			ID:             p.ID,
			Content:        p.Content,
			SourceMetadata: p.Metadata,
			Distance:       p.Distance,
		})
	}
	return passages
}

func (s *httpVectorStore) SemanticSearch(ctx context.Context, category *string, vector []float64, topK int) ([]types.Passage, error) {
	in := struct {
		Category *string   `json:"category"`
		Vector   []float64 `json:"vector"`
		TopK     int       `json:"top_k"`
	}{category, vector, topK}

	var out struct {
		Passages []passagePayload `json:"passages"`
	}
	if err := s.svc.postJSON(ctx, "/search/semantic", in, &out); err != nil {
		return nil, err
	}
	return toPassages(out.Passages), nil
}

func (s *httpVectorStore) KeywordSearch(ctx context.Context, category *string, query string, topK int) ([]types.Passage, error) {
	in := struct {
		Category *string `json:"category"`
		Query    string  `json:"query"`
		TopK     int     `json:"top_k"`
	}{category, query, topK}

	var out struct {
		Passages []passagePayload `json:"passages"`
	}
	if err := s.svc.postJSON(ctx, "/search/keyword", in, &out); err != nil {
		return nil, err
	}
	return toPassages(out.Passages), nil
}

// ---------------------------------------------------------------------------
// 文本生成服务
// ---------------------------------------------------------------------------

type httpGenerator struct{ svc *httpService }

func newHTTPGenerator(cfg config.EndpointConfig, logger *zap.Logger) *httpGenerator {
	return &httpGenerator{svc: newHTTPService(cfg, "generator", logger)}
}

func (g *httpGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	in := struct {
		Prompt string `json:"prompt"`
	}{prompt}

	var out struct {
		Text string `json:"text"`
	}
	if err := g.svc.postJSON(ctx, "/generate", in, &out); err != nil {
		return "", err
	}
	if out.Text == "" {
		return "", types.NewError(types.ErrInvalidResponseFormat, "empty generation")
	}
	return out.Text, nil
}

// rateLimitedGenerator 对生成服务做客户端限流
// 重排序与回答生成共用同一个下游，限流放在共享包装层
type rateLimitedGenerator struct {
	inner   rag.AnswerGenerator
	limiter *rate.Limiter
}

func newRateLimitedGenerator(inner rag.AnswerGenerator, rps float64, burst int) rag.AnswerGenerator {
	if rps <= 0 {
		return inner
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedGenerator{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (g *rateLimitedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", types.NewError(types.ErrTimeout, "rate limit wait cancelled").WithCause(err)
	}
	return g.inner.Generate(ctx, prompt)
}
