package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/retry"
	"github.com/BaSui01/answerflow/types"
)

// validateInput rejects requests the rest of the pipeline cannot serve.
func (e *Engine) validateInput(ctx context.Context, s *State) error {
	if strings.TrimSpace(s.Question) == "" {
		return types.NewError(types.ErrInvalidInput, "question must not be empty")
	}
	if len(s.AvailableCategories) == 0 {
		return types.NewError(types.ErrInvalidInput, "available categories must not be empty")
	}
	if strings.TrimSpace(s.SessionID) == "" {
		return types.NewError(types.ErrInvalidInput, "session_id must not be empty")
	}
	return nil
}

// checkCache answers from conversation history when a near-identical
// question was already asked in this session.
func (e *Engine) checkCache(ctx context.Context, s *State) error {
	if e.deps.ConvCache == nil {
		s.stepDetail = "cache disabled"
		return nil
	}

	answer := e.deps.ConvCache.Lookup(s.Question, s.History)
	if e.deps.Metrics != nil {
		e.deps.Metrics.ObserveCache(answer != nil)
	}
	if answer == nil {
		s.stepDetail = "miss"
		return nil
	}

	s.FinalAnswer = answer
	s.CacheHit = true
	s.stepDetail = "hit"
	e.logger.Debug("conversation cache hit", zap.String("session_id", s.SessionID))
	return nil
}

// retrievalCheck runs one cheap unscoped semantic probe before any
// category routing. When the probe alone already clears the quality bar,
// the expensive routing and full retrieval path is skipped entirely.
// Probe failures are deliberately swallowed: the full path is the recovery.
func (e *Engine) retrievalCheck(ctx context.Context, s *State) error {
	vector, err := e.deps.Embedder.Embed(ctx, s.Question)
	if err != nil {
		s.stepDetail = "probe embed failed, using full retrieval"
		e.logger.Debug("retrieval check probe failed", zap.Error(err))
		return nil
	}

	passages, err := e.deps.Store.SemanticSearch(ctx, nil, vector, e.config.RetrievalCheckTopK)
	if err != nil {
		s.stepDetail = "probe search failed, using full retrieval"
		e.logger.Debug("retrieval check probe failed", zap.Error(err))
		return nil
	}

	if !e.deps.Evaluator.Evaluate(passages) {
		s.stepDetail = "probe insufficient"
		return nil
	}

	s.CandidatePassages = passages
	s.SkipTools = true
	s.SearchStrategy = StrategySemanticOnly
	s.stepDetail = fmt.Sprintf("probe sufficient, %d passages", len(passages))
	return nil
}

// routeCategory asks the router which category to scope retrieval to.
// Low confidence downgrades to an unscoped hybrid search rather than
// trusting a guess.
func (e *Engine) routeCategory(ctx context.Context, s *State) error {
	policy := e.config.Retry.WithMaxRetries(e.config.RouteRetries)
	type routing struct {
		category   string
		confidence float64
	}
	decided, err := retry.Do(ctx, policy, e.logger, func(ctx context.Context) (routing, error) {
		category, confidence, err := e.deps.Router.Decide(ctx, s.Question, s.AvailableCategories, conversationContext(s.History))
		return routing{category: category, confidence: confidence}, err
	})
	if err != nil {
		return err
	}

	s.CategoryConfidence = decided.confidence
	if decided.confidence < e.config.MinRouteConfidence || !containsCategory(s.AvailableCategories, decided.category) {
		s.SearchStrategy = StrategyHybridSearch
		s.stepDetail = fmt.Sprintf("low confidence %.2f, unscoped search", decided.confidence)
		return nil
	}

	category := decided.category
	s.RoutedCategory = &category
	s.SearchStrategy = StrategyCategoryBased
	s.stepDetail = fmt.Sprintf("category=%s confidence=%.2f", category, decided.confidence)
	return nil
}

// fullRetrieval runs the hybrid search, scoped to the routed category
// when routing produced one.
func (e *Engine) fullRetrieval(ctx context.Context, s *State) error {
	// Routing may have been skipped after a terminal failure; an
	// unscoped search must not report itself as category based.
	if s.RoutedCategory == nil && s.SearchStrategy == StrategyCategoryBased {
		s.SearchStrategy = StrategyHybridSearch
	}

	policy := e.config.Retry.WithMaxRetries(e.config.SearchRetries)
	passages, err := retry.Do(ctx, policy, e.logger, func(ctx context.Context) ([]types.Passage, error) {
		return e.deps.Retriever.Search(ctx, s.Question, s.RoutedCategory)
	})
	if err != nil {
		return err
	}

	s.CandidatePassages = passages
	s.stepDetail = fmt.Sprintf("%d passages", len(passages))
	return nil
}

// evaluateQuality decides whether the retrieved evidence suffices.
// Insufficient evidence arms the one-shot fallback; it is not an error.
func (e *Engine) evaluateQuality(ctx context.Context, s *State) error {
	if e.deps.Evaluator.Evaluate(s.CandidatePassages) {
		s.stepDetail = "sufficient"
		return nil
	}

	if !s.fallbackSearchDone && s.markFallback() {
		if e.deps.Metrics != nil {
			e.deps.Metrics.ObserveFallback()
		}
		s.stepDetail = "insufficient, fallback armed"
		return nil
	}
	s.stepDetail = "insufficient, fallback exhausted"
	return nil
}

// fallbackSearch broadens retrieval to all categories. It runs at most
// once per request; the guard is set before the search so a failing
// fallback can never re-trigger itself.
func (e *Engine) fallbackSearch(ctx context.Context, s *State) error {
	s.fallbackSearchDone = true
	s.SearchStrategy = StrategyFallbackAllCategories

	policy := e.config.Retry.WithMaxRetries(e.config.SearchRetries)
	passages, err := retry.Do(ctx, policy, e.logger, func(ctx context.Context) ([]types.Passage, error) {
		return e.deps.Retriever.Search(ctx, s.Question, nil)
	})
	if err != nil {
		return err
	}

	if len(passages) > 0 {
		s.CandidatePassages = passages
	}
	s.stepDetail = fmt.Sprintf("%d passages", len(passages))
	return nil
}

// dedupe removes passages that reappeared across retrieval rounds,
// keeping the first (higher ranked) occurrence.
func (e *Engine) dedupe(ctx context.Context, s *State) error {
	seen := make(map[string]struct{}, len(s.CandidatePassages))
	unique := s.CandidatePassages[:0]
	removed := 0
	for _, p := range s.CandidatePassages {
		if _, ok := seen[p.ID]; ok {
			removed++
			continue
		}
		seen[p.ID] = struct{}{}
		unique = append(unique, p)
	}
	s.CandidatePassages = unique
	s.stepDetail = fmt.Sprintf("removed %d duplicates", removed)
	return nil
}

// rerank lets the generator reorder the candidates. The reranker
// degrades internally; this step cannot fail.
func (e *Engine) rerank(ctx context.Context, s *State) error {
	if e.deps.Reranker == nil {
		s.stepDetail = "reranker disabled"
		return nil
	}
	s.CandidatePassages = e.deps.Reranker.Rerank(ctx, s.Question, s.CandidatePassages)
	return nil
}

// conversationContext flattens the most recent turns into the plain-text
// block passed to the router and the answer prompt.
func conversationContext(history []types.ConversationTurn) string {
	const maxTurns = 6
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}

	var b strings.Builder
	for _, turn := range history {
		b.WriteString(string(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func containsCategory(categories []string, category string) bool {
	if category == "" {
		return false
	}
	for _, c := range categories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}
