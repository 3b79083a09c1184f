package workflow

import (
	"time"

	"github.com/BaSui01/answerflow/types"
)

// SearchStrategy identifies which retrieval path produced the candidate passages.
type SearchStrategy string

const (
	// StrategyCategoryBased means passages came from a hybrid search scoped to the routed category.
	StrategyCategoryBased SearchStrategy = "category_based"
	// StrategyFallbackAllCategories means the scoped search was insufficient and
	// retrieval was broadened to all categories.
	StrategyFallbackAllCategories SearchStrategy = "fallback_all_categories"
	// StrategyHybridSearch means a hybrid search across all categories was used
	// because category routing produced no usable category.
	StrategyHybridSearch SearchStrategy = "hybrid_search"
	// StrategySemanticOnly means a single cheap semantic search already sufficed
	// and the full retrieval path was skipped.
	StrategySemanticOnly SearchStrategy = "semantic_only"
)

// StepStatus is the outcome of one executed workflow step.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
)

// StepEvent is one entry of the audit trail. The step log grows
// monotonically and is never rewritten.
type StepEvent struct {
	Name      string        `json:"name"`
	Status    StepStatus    `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// State is the mutable context threaded through every step of one request.
// One State exists per request; it is never shared between requests.
type State struct {
	// Immutable inputs.
	Question            string                   `json:"question"`
	UserID              string                   `json:"user_id"`
	SessionID           string                   `json:"session_id"`
	AvailableCategories []string                 `json:"available_categories"`
	History             []types.ConversationTurn `json:"-"`

	// Routing.
	RoutedCategory     *string `json:"routed_category,omitempty"`
	CategoryConfidence float64 `json:"category_confidence"`

	// Retrieval.
	CandidatePassages []types.Passage `json:"candidate_passages"`
	SearchStrategy    SearchStrategy  `json:"search_strategy"`
	SkipTools         bool            `json:"skip_tools"`

	// Error recovery.
	FallbackTriggered bool             `json:"fallback_triggered"`
	ErrorCount        int              `json:"error_count"`
	RetryCount        int              `json:"retry_count"`
	LastErrorKind     *types.ErrorCode `json:"last_error_kind,omitempty"`
	FailedStep        string           `json:"failed_step,omitempty"`
	RecoveryActions   []string         `json:"recovery_actions"`
	ErrorMessages     []string         `json:"error_messages"`

	// Output.
	FinalAnswer *string          `json:"final_answer,omitempty"`
	Degraded    bool             `json:"degraded"`
	CacheHit    bool             `json:"cache_hit"`
	Citations   []types.Citation `json:"citations"`

	// Audit.
	StepLog   []StepEvent `json:"step_log"`
	StartedAt time.Time   `json:"started_at"`

	// fallbackSearchDone guards against cascading fallback searches.
	fallbackSearchDone bool
	// errorPending marks that the most recent step failed and the error
	// has not yet been examined by the handle_errors decision node.
	errorPending bool
	// stepDetail is transient; each step may set it and the engine moves
	// it into the StepEvent for that step.
	stepDetail string
}

// newState creates the per-request state with all counters zeroed.
func newState(req Request) *State {
	return &State{
		Question:            req.Question,
		UserID:              req.UserID,
		SessionID:           req.SessionID,
		AvailableCategories: req.AvailableCategories,
		History:             req.History,
		SearchStrategy:      StrategyCategoryBased,
		RecoveryActions:     []string{},
		ErrorMessages:       []string{},
		Citations:           []types.Citation{},
		StepLog:             []StepEvent{},
		StartedAt:           time.Now(),
	}
}

// recordError accumulates a step failure into the state. Errors never
// escape the engine; they are examined by the handle_errors node.
func (s *State) recordError(step string, err error) {
	s.ErrorCount++
	s.FailedStep = step
	s.ErrorMessages = append(s.ErrorMessages, step+": "+err.Error())
	if code := types.GetErrorCode(err); code != "" {
		s.LastErrorKind = &code
	} else {
		s.LastErrorKind = nil
	}
	s.errorPending = true
}

// markFallback flips FallbackTriggered exactly once. Re-marking is a
// no-op so fallback can never cascade within one request.
func (s *State) markFallback() bool {
	if s.FallbackTriggered {
		return false
	}
	s.FallbackTriggered = true
	return true
}

// addRecoveryAction appends to the retry/fallback audit trail.
func (s *State) addRecoveryAction(action string) {
	s.RecoveryActions = append(s.RecoveryActions, action)
}

// Request carries the immutable inputs of one question-answer cycle.
type Request struct {
	Question            string
	UserID              string
	SessionID           string
	AvailableCategories []string
	History             []types.ConversationTurn
}

// Result is what the engine returns to its caller. A result is always
// produced, even for requests that exhausted every recovery path.
type Result struct {
	FinalAnswer       string           `json:"final_answer"`
	Degraded          bool             `json:"degraded"`
	Citations         []types.Citation `json:"citations"`
	SearchStrategy    SearchStrategy   `json:"search_strategy"`
	FallbackTriggered bool             `json:"fallback_triggered"`
	StepLog           []StepEvent      `json:"step_log"`
	ErrorMessages     []string         `json:"error_messages"`
}

// finalMetrics is the aggregate block attached to the terminal checkpoint.
type finalMetrics struct {
	ElapsedMs         int64          `json:"elapsed_ms"`
	ErrorCount        int            `json:"error_count"`
	RetryCount        int            `json:"retry_count"`
	FallbackTriggered bool           `json:"fallback_triggered"`
	PassageCount      int            `json:"passage_count"`
	CitationCount     int            `json:"citation_count"`
	SearchStrategy    SearchStrategy `json:"search_strategy"`
}
