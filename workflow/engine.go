package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/cache"
	"github.com/BaSui01/answerflow/checkpoint"
	"github.com/BaSui01/answerflow/internal/metrics"
	"github.com/BaSui01/answerflow/rag"
	"github.com/BaSui01/answerflow/retry"
)

// Step names. Conditional edges between them live in next().
const (
	stepValidateInput   = "validate_input"
	stepCheckCache      = "check_cache"
	stepRetrievalCheck  = "retrieval_check"
	stepRouteCategory   = "route_category"
	stepFullRetrieval   = "full_retrieval"
	stepEvaluateQuality = "evaluate_quality"
	stepHandleErrors    = "handle_errors"
	stepFallbackSearch  = "fallback_search"
	stepDedupe          = "dedupe"
	stepRerank          = "rerank"
	stepGenerateAnswer  = "generate_answer"
	stepFormatResponse  = "format_response"

	// stepDone is the terminal pseudo-step.
	stepDone = ""

	// checkpointFinal names the terminal checkpoint carrying aggregate metrics.
	checkpointFinal = "workflow_completed"
)

// Config tunes the engine. Zero values fall back to the documented defaults.
type Config struct {
	// RetrievalCheckTopK is how many passages the cheap pre-routing semantic
	// probe fetches.
	RetrievalCheckTopK int `yaml:"retrieval_check_top_k" json:"retrieval_check_top_k"`

	// MinRouteConfidence is the routing confidence below which the routed
	// category is ignored and retrieval falls back to an unscoped hybrid search.
	MinRouteConfidence float64 `yaml:"min_route_confidence" json:"min_route_confidence"`

	// MaxStepRetries caps how often the handle_errors node may route back to
	// a failing step within one request.
	MaxStepRetries int `yaml:"max_step_retries" json:"max_step_retries"`

	// PreviewChars is the citation/fallback preview length in runes.
	PreviewChars int `yaml:"preview_chars" json:"preview_chars"`

	// ContextTokenBudget caps the total passage tokens packed into the
	// answer prompt. 0 disables the budget.
	ContextTokenBudget int `yaml:"context_token_budget" json:"context_token_budget"`

	// Retry is the base backoff policy for external calls. Per-operation
	// retry counts are derived from it: routing and generation use
	// RouteRetries, similarity search uses SearchRetries.
	Retry         *retry.Policy `yaml:"-" json:"-"`
	RouteRetries  int           `yaml:"route_retries" json:"route_retries"`
	SearchRetries int           `yaml:"search_retries" json:"search_retries"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		RetrievalCheckTopK: 5,
		MinRouteConfidence: 0.5,
		MaxStepRetries:     2,
		PreviewChars:       160,
		ContextTokenBudget: 3000,
		Retry:              retry.DefaultPolicy(),
		RouteRetries:       2,
		SearchRetries:      1,
	}
}

func (c *Config) normalize() {
	if c.RetrievalCheckTopK <= 0 {
		c.RetrievalCheckTopK = 5
	}
	if c.MinRouteConfidence <= 0 {
		c.MinRouteConfidence = 0.5
	}
	if c.MaxStepRetries <= 0 {
		c.MaxStepRetries = 2
	}
	if c.PreviewChars <= 0 {
		c.PreviewChars = 160
	}
	if c.Retry == nil {
		c.Retry = retry.DefaultPolicy()
	}
	if c.RouteRetries <= 0 {
		c.RouteRetries = 2
	}
	if c.SearchRetries <= 0 {
		c.SearchRetries = 1
	}
}

// Dependencies bundles the collaborators injected into the engine.
// No implicit global state: logger, cache and checkpoint writer are all
// explicit constructor inputs.
type Dependencies struct {
	Router    rag.CategoryRouter
	Embedder  rag.EmbeddingService
	Store     rag.VectorStore
	Generator rag.AnswerGenerator

	Retriever *rag.HybridRetriever
	Evaluator *rag.QualityEvaluator
	Reranker  *rag.Reranker
	ConvCache *cache.ConversationCache

	// Checkpoints is optional; nil disables checkpointing.
	Checkpoints *checkpoint.Writer
	// Tokenizer is optional; nil disables the prompt token budget.
	Tokenizer rag.Tokenizer
	// Metrics is optional.
	Metrics *metrics.Collector
}

// stepFunc mutates the state in place. A returned error is accumulated
// into the state and examined by the handle_errors node; it never
// escapes the engine.
type stepFunc func(ctx context.Context, s *State) error

// Engine is the state machine that sequences one question-answer cycle.
// Steps execute strictly sequentially; all branching is explicit in next().
type Engine struct {
	config Config
	deps   Dependencies
	logger *zap.Logger
	steps  map[string]stepFunc
}

// NewEngine creates a workflow engine.
func NewEngine(config Config, deps Dependencies, logger *zap.Logger) *Engine {
	config.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		config: config,
		deps:   deps,
		logger: logger.With(zap.String("component", "workflow_engine")),
	}
	e.steps = map[string]stepFunc{
		stepValidateInput:   e.validateInput,
		stepCheckCache:      e.checkCache,
		stepRetrievalCheck:  e.retrievalCheck,
		stepRouteCategory:   e.routeCategory,
		stepFullRetrieval:   e.fullRetrieval,
		stepEvaluateQuality: e.evaluateQuality,
		stepHandleErrors:    e.handleErrors,
		stepFallbackSearch:  e.fallbackSearch,
		stepDedupe:          e.dedupe,
		stepRerank:          e.rerank,
		stepGenerateAnswer:  e.generateAnswer,
		stepFormatResponse:  e.formatResponse,
	}
	return e
}

// Answer runs the full workflow for one question.
//
// The returned Result is always non-nil and always carries an answer:
// no internal error may terminate a request without one. The error
// return is non-nil only when the caller's context was cancelled before
// the workflow could finish; even then a best-effort final checkpoint
// is attempted for audit purposes.
func (e *Engine) Answer(ctx context.Context, req Request) (*Result, error) {
	state := newState(req)

	e.logger.Info("workflow started",
		zap.String("session_id", req.SessionID),
		zap.String("user_id", req.UserID),
	)

	current := stepValidateInput
	for current != stepDone {
		select {
		case <-ctx.Done():
			return e.abandon(state, current, ctx.Err())
		default:
		}

		fn := e.steps[current]
		started := time.Now()
		err := fn(ctx, state)
		duration := time.Since(started)

		event := StepEvent{
			Name:      current,
			Status:    StepCompleted,
			Detail:    state.stepDetail,
			Timestamp: started,
			Duration:  duration,
		}
		if err != nil {
			event.Status = StepError
			event.Detail = err.Error()
			state.recordError(current, err)
			e.logger.Warn("workflow step failed",
				zap.String("step", current),
				zap.String("session_id", state.SessionID),
				zap.Error(err),
			)
		}
		state.StepLog = append(state.StepLog, event)
		state.stepDetail = ""

		if e.deps.Metrics != nil {
			e.deps.Metrics.ObserveStep(current, string(event.Status), duration)
		}

		e.saveCheckpoint(state, current)
		current = e.next(current, state, err)
	}

	e.finalCheckpoint(state)

	result := e.buildResult(state)
	e.logger.Info("workflow completed",
		zap.String("session_id", state.SessionID),
		zap.String("strategy", string(state.SearchStrategy)),
		zap.Bool("degraded", result.Degraded),
		zap.Bool("fallback", state.FallbackTriggered),
		zap.Int("errors", state.ErrorCount),
		zap.Duration("elapsed", time.Since(state.StartedAt)),
	)
	if e.deps.Metrics != nil {
		e.deps.Metrics.ObserveRequest(outcomeLabel(result), time.Since(state.StartedAt))
	}

	return result, nil
}

// next is the conditional-edge table of the state machine.
func (e *Engine) next(current string, s *State, err error) string {
	if err != nil {
		// Invalid input never retries; everything else is examined by
		// the recovery decision node.
		if current == stepValidateInput {
			return stepFormatResponse
		}
		return stepHandleErrors
	}

	switch current {
	case stepValidateInput:
		return stepCheckCache
	case stepCheckCache:
		if s.CacheHit {
			return stepFormatResponse
		}
		return stepRetrievalCheck
	case stepRetrievalCheck:
		if s.SkipTools {
			// Fast path: the cheap probe sufficed, bypass routing,
			// full retrieval and fallback entirely.
			return stepGenerateAnswer
		}
		return stepRouteCategory
	case stepRouteCategory:
		return stepFullRetrieval
	case stepFullRetrieval:
		return stepEvaluateQuality
	case stepEvaluateQuality:
		return stepHandleErrors
	case stepHandleErrors:
		return e.recoveryRoute(s)
	case stepFallbackSearch:
		return stepDedupe
	case stepDedupe:
		return stepRerank
	case stepRerank:
		return stepGenerateAnswer
	case stepGenerateAnswer:
		return stepFormatResponse
	case stepFormatResponse:
		return stepDone
	default:
		e.logger.Error("unknown workflow step", zap.String("step", current))
		return stepFormatResponse
	}
}

// abandon handles caller cancellation: remaining steps are skipped but a
// final checkpoint is still attempted.
func (e *Engine) abandon(s *State, current string, cause error) (*Result, error) {
	s.ErrorMessages = append(s.ErrorMessages, "cancelled at "+current+": "+cause.Error())
	s.StepLog = append(s.StepLog, StepEvent{
		Name:      current,
		Status:    StepError,
		Detail:    "cancelled",
		Timestamp: time.Now(),
	})
	e.finalCheckpoint(s)

	e.logger.Warn("workflow abandoned",
		zap.String("session_id", s.SessionID),
		zap.String("step", current),
		zap.Error(cause),
	)
	if e.deps.Metrics != nil {
		e.deps.Metrics.ObserveRequest("cancelled", time.Since(s.StartedAt))
	}

	return e.buildResult(s), cause
}

func (e *Engine) buildResult(s *State) *Result {
	answer := ""
	if s.FinalAnswer != nil {
		answer = *s.FinalAnswer
	}
	return &Result{
		FinalAnswer:       answer,
		Degraded:          s.Degraded,
		Citations:         s.Citations,
		SearchStrategy:    s.SearchStrategy,
		FallbackTriggered: s.FallbackTriggered,
		StepLog:           s.StepLog,
		ErrorMessages:     s.ErrorMessages,
	}
}

// saveCheckpoint enqueues one state snapshot. Checkpointing is
// observability, not correctness: failures are logged inside the writer
// and never reach the request path.
func (e *Engine) saveCheckpoint(s *State, stepName string) {
	if e.deps.Checkpoints == nil {
		return
	}
	record, err := checkpoint.NewRecord(s.SessionID, stepName, s)
	if err != nil {
		e.logger.Warn("checkpoint snapshot failed", zap.String("step", stepName), zap.Error(err))
		return
	}
	e.deps.Checkpoints.Enqueue(record)
}

// finalCheckpoint writes the terminal record with aggregate metrics.
func (e *Engine) finalCheckpoint(s *State) {
	if e.deps.Checkpoints == nil {
		return
	}
	record, err := checkpoint.NewRecord(s.SessionID, checkpointFinal, struct {
		*State
		Metrics finalMetrics `json:"metrics"`
	}{
		State: s,
		Metrics: finalMetrics{
			ElapsedMs:         time.Since(s.StartedAt).Milliseconds(),
			ErrorCount:        s.ErrorCount,
			RetryCount:        s.RetryCount,
			FallbackTriggered: s.FallbackTriggered,
			PassageCount:      len(s.CandidatePassages),
			CitationCount:     len(s.Citations),
			SearchStrategy:    s.SearchStrategy,
		},
	})
	if err != nil {
		e.logger.Warn("final checkpoint snapshot failed", zap.Error(err))
		return
	}
	e.deps.Checkpoints.Enqueue(record)
}

func outcomeLabel(r *Result) string {
	switch {
	case r.Degraded:
		return "degraded"
	case r.FallbackTriggered:
		return "fallback"
	default:
		return "completed"
	}
}
