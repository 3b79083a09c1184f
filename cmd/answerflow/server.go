package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/cache"
	"github.com/BaSui01/answerflow/checkpoint"
	"github.com/BaSui01/answerflow/config"
	"github.com/BaSui01/answerflow/internal/metrics"
	"github.com/BaSui01/answerflow/rag"
	"github.com/BaSui01/answerflow/retry"
	"github.com/BaSui01/answerflow/types"
	"github.com/BaSui01/answerflow/workflow"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 AnswerFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	engine           *workflow.Engine
	checkpointStore  checkpoint.Store
	checkpointWriter *checkpoint.Writer
	metricsCollector *metrics.Collector

	httpServer *http.Server
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 组装依赖并启动 HTTP 服务
func (s *Server) Start() error {
	// 1. 指标收集器
	s.metricsCollector = metrics.NewCollector("answerflow", s.logger)

	// 2. 检查点存储与异步写入器
	if err := s.initCheckpoints(); err != nil {
		return fmt.Errorf("failed to init checkpoints: %w", err)
	}

	// 3. 工作流引擎
	s.engine = s.buildEngine()

	// 4. HTTP 服务
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/answer", s.handleAnswer)
	mux.HandleFunc("GET /v1/sessions/{session}/checkpoints", s.handleCheckpoints)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	s.logger.Info("Server started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.String("checkpoint_backend", s.cfg.Checkpoint.Backend),
		zap.Strings("categories", s.cfg.Server.Categories),
	)
	return nil
}

// initCheckpoints 根据配置选择检查点后端
func (s *Server) initCheckpoints() error {
	var (
		store checkpoint.Store
		err   error
	)

	switch s.cfg.Checkpoint.Backend {
	case "redis":
		store, err = checkpoint.NewRedisStore(checkpoint.RedisConfig{
			Addr:     s.cfg.Checkpoint.Redis.Addr,
			Password: s.cfg.Checkpoint.Redis.Password,
			DB:       s.cfg.Checkpoint.Redis.DB,
			PoolSize: s.cfg.Checkpoint.Redis.PoolSize,
			Prefix:   s.cfg.Checkpoint.Redis.KeyPrefix,
			TTL:      s.cfg.Checkpoint.Redis.TTL,
		}, s.logger)
	case "sqlite":
		store, err = checkpoint.NewSQLiteStore(s.cfg.Checkpoint.SQLitePath, s.logger)
	case "none":
		s.logger.Info("Checkpointing disabled")
		return nil
	}
	if err != nil {
		return err
	}

	s.checkpointStore = store
	s.checkpointWriter = checkpoint.NewWriter(store, s.logger,
		checkpoint.WithQueueSize(s.cfg.Checkpoint.QueueSize),
		checkpoint.WithWriteTimeout(s.cfg.Checkpoint.WriteTimeout),
		checkpoint.WithDropCallback(s.metricsCollector.ObserveCheckpointDrop),
	)
	return nil
}

// buildEngine 从配置组装工作流引擎及其全部协作组件
func (s *Server) buildEngine() *workflow.Engine {
	embedder := newHTTPEmbedder(s.cfg.Services.Embedding, s.logger)
	store := newHTTPVectorStore(s.cfg.Services.VectorStore, s.logger)
	generator := newRateLimitedGenerator(
		newHTTPGenerator(s.cfg.Services.Generator, s.logger),
		s.cfg.Services.GeneratorRPS,
		s.cfg.Services.GeneratorBurst,
	)

	retriever := rag.NewHybridRetriever(rag.HybridConfig{
		SemanticWeight: s.cfg.Retrieval.SemanticWeight,
		KeywordWeight:  s.cfg.Retrieval.KeywordWeight,
		TopK:           s.cfg.Retrieval.TopK,
		FetchK:         s.cfg.Retrieval.FetchK,
	}, embedder, store, s.logger)

	evaluator := rag.NewQualityEvaluator(rag.QualityConfig{
		MinPassages:      s.cfg.Quality.MinPassages,
		MinAvgSimilarity: s.cfg.Quality.MinAvgSimilarity,
	}, s.logger)

	var reranker *rag.Reranker
	if s.cfg.Rerank.Enabled {
		reranker = rag.NewReranker(generator, rag.RerankConfig{
			MaxCandidates:   s.cfg.Rerank.MaxCandidates,
			MaxContentChars: s.cfg.Rerank.MaxContentChars,
		}, s.logger)
	}

	var convCache *cache.ConversationCache
	if s.cfg.Cache.Enabled {
		convCache = cache.NewConversationCache(cache.Config{
			SimilarityThreshold: s.cfg.Cache.SimilarityThreshold,
		}, s.logger)
	}

	engineConfig := workflow.DefaultConfig()
	engineConfig.RetrievalCheckTopK = s.cfg.Workflow.RetrievalCheckTopK
	engineConfig.MinRouteConfidence = s.cfg.Workflow.MinRouteConfidence
	engineConfig.MaxStepRetries = s.cfg.Workflow.MaxStepRetries
	engineConfig.PreviewChars = s.cfg.Workflow.PreviewChars
	engineConfig.ContextTokenBudget = s.cfg.Workflow.ContextTokenBudget
	engineConfig.RouteRetries = s.cfg.Workflow.RouteRetries
	engineConfig.SearchRetries = s.cfg.Workflow.SearchRetries
	engineConfig.Retry = &retry.Policy{
		InitialDelay: s.cfg.Retry.InitialDelay,
		MaxDelay:     s.cfg.Retry.MaxDelay,
		Multiplier:   s.cfg.Retry.Multiplier,
		Jitter:       s.cfg.Retry.Jitter,
	}

	return workflow.NewEngine(engineConfig, workflow.Dependencies{
		Router:      newHTTPRouter(s.cfg.Services.Router, s.logger),
		Embedder:    embedder,
		Store:       store,
		Generator:   generator,
		Retriever:   retriever,
		Evaluator:   evaluator,
		Reranker:    reranker,
		ConvCache:   convCache,
		Checkpoints: s.checkpointWriter,
		Tokenizer:   rag.NewTiktokenTokenizer(s.cfg.Services.TokenizerEncoding, s.logger),
		Metrics:     s.metricsCollector,
	}, s.logger)
}

// =============================================================================
// 🌐 HTTP Handlers
// =============================================================================

type answerRequest struct {
	Question  string `json:"question"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	History   []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"history"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	history := make([]types.ConversationTurn, 0, len(req.History))
	for _, turn := range req.History {
		history = append(history, types.ConversationTurn{
			Role:    types.Role(strings.ToLower(turn.Role)),
			Content: turn.Content,
		})
	}

	result, err := s.engine.Answer(r.Context(), workflow.Request{
		Question:            req.Question,
		UserID:              req.UserID,
		SessionID:           req.SessionID,
		AvailableCategories: s.cfg.Server.Categories,
		History:             history,
	})
	if err != nil {
		// 只有调用方取消才会走到这里
		writeError(w, http.StatusRequestTimeout, "request cancelled")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleCheckpoints 返回一个会话的检查点历史（倒序）
func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	if s.checkpointStore == nil {
		writeError(w, http.StatusNotFound, "checkpointing disabled")
		return
	}

	sessionID := r.PathValue("session")
	records, err := s.checkpointStore.List(r.Context(), sessionID, 100)
	if err != nil {
		s.logger.Error("checkpoint list failed", zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "checkpoint lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  sessionID,
		"checkpoints": records,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 阻塞直到收到退出信号，然后优雅关闭
func (s *Server) WaitForShutdown() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	s.logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	// 先排空检查点队列再关闭存储
	if s.checkpointWriter != nil {
		s.checkpointWriter.Close()
	}
	if s.checkpointStore != nil {
		if err := s.checkpointStore.Close(); err != nil {
			s.logger.Warn("checkpoint store close failed", zap.Error(err))
		}
	}
}
