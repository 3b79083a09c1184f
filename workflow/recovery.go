package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/types"
)

// Recovery actions recorded into State.RecoveryActions. They form the
// audit trail of every retry and degradation decision.
const (
	actionRetryAttempt         = "retry_attempt_%d"
	actionFallbackAfterRetries = "fallback_after_retries"
	actionSkipNonRecoverable   = "skip_non_recoverable"
)

// handleErrors is the recovery decision node. Every post-retrieval path
// converges here; it classifies the pending error (if any) and records
// the chosen recovery action. The actual rerouting happens in
// recoveryRoute so the decision and the edge stay side by side.
func (e *Engine) handleErrors(ctx context.Context, s *State) error {
	if !s.errorPending {
		s.stepDetail = "no pending errors"
		return nil
	}

	retryable := s.LastErrorKind != nil && types.NewError(*s.LastErrorKind, "").Retryable

	switch {
	case retryable && s.RetryCount < e.config.MaxStepRetries:
		s.RetryCount++
		action := fmt.Sprintf(actionRetryAttempt, s.RetryCount)
		s.addRecoveryAction(action)
		s.stepDetail = action
		if e.deps.Metrics != nil {
			e.deps.Metrics.ObserveRetry(s.FailedStep)
		}
		e.logger.Info("retrying failed step",
			zap.String("step", s.FailedStep),
			zap.Int("attempt", s.RetryCount),
			zap.String("session_id", s.SessionID),
		)

	case retryable:
		s.addRecoveryAction(actionFallbackAfterRetries)
		s.stepDetail = actionFallbackAfterRetries
		if s.markFallback() && e.deps.Metrics != nil {
			e.deps.Metrics.ObserveFallback()
		}
		e.logger.Warn("retries exhausted, degrading",
			zap.String("step", s.FailedStep),
			zap.String("session_id", s.SessionID),
		)

	default:
		s.addRecoveryAction(actionSkipNonRecoverable)
		s.stepDetail = actionSkipNonRecoverable
		e.logger.Warn("skipping non-recoverable failure",
			zap.String("step", s.FailedStep),
			zap.String("session_id", s.SessionID),
		)
	}

	return nil
}

// recoveryRoute picks the edge out of the handle_errors node based on
// the decision handleErrors just recorded.
func (e *Engine) recoveryRoute(s *State) string {
	if s.errorPending {
		s.errorPending = false

		last := lastRecoveryAction(s)
		switch last {
		case actionFallbackAfterRetries:
			if !s.fallbackSearchDone {
				return stepFallbackSearch
			}
			return stepDedupe
		case actionSkipNonRecoverable:
			return e.skipForward(s.FailedStep)
		default:
			// retry_attempt_N: re-run the step that failed.
			return s.FailedStep
		}
	}

	// Normal path out of evaluate_quality.
	if s.FallbackTriggered && !s.fallbackSearchDone {
		return stepFallbackSearch
	}
	return stepDedupe
}

// skipForward resumes the workflow past a step that failed terminally.
// A skipped retrieval still flows through quality evaluation so the
// fallback search gets its chance to recover the request.
func (e *Engine) skipForward(failedStep string) string {
	switch failedStep {
	case stepRouteCategory:
		return stepFullRetrieval
	case stepFullRetrieval:
		return stepEvaluateQuality
	default:
		return stepDedupe
	}
}

func lastRecoveryAction(s *State) string {
	if len(s.RecoveryActions) == 0 {
		return ""
	}
	return s.RecoveryActions[len(s.RecoveryActions)-1]
}
