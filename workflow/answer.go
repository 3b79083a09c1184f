package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/retry"
	"github.com/BaSui01/answerflow/types"
)

const answerPromptHeader = `You are a helpful assistant answering questions from an internal knowledge base.
Answer using only the context passages below. If they do not contain the answer, say so.
Reference passages as [1], [2], ... where helpful.`

// generateAnswer produces the final answer text. Generation failures do
// not propagate: after retries are exhausted the step synthesizes a
// degraded extract from the top passages so the request still completes.
func (e *Engine) generateAnswer(ctx context.Context, s *State) error {
	used := s.CandidatePassages
	if e.deps.Tokenizer != nil && e.config.ContextTokenBudget > 0 {
		used = e.trimToBudget(used)
	}
	s.Citations = buildCitations(used, e.config.PreviewChars)

	prompt := e.buildAnswerPrompt(s, used)
	policy := e.config.Retry.WithMaxRetries(e.config.RouteRetries)
	answer, err := retry.Do(ctx, policy, e.logger, func(ctx context.Context) (string, error) {
		return e.deps.Generator.Generate(ctx, prompt)
	})
	if err != nil {
		e.logger.Warn("answer generation failed, returning extract",
			zap.String("session_id", s.SessionID),
			zap.Error(err),
		)
		s.ErrorMessages = append(s.ErrorMessages, "generate_answer: "+err.Error())
		fallback := fallbackAnswer(used, e.config.PreviewChars)
		s.FinalAnswer = &fallback
		s.Degraded = true
		s.stepDetail = "generation failed, extract returned"
		return nil
	}

	s.FinalAnswer = &answer
	return nil
}

// formatResponse is the terminal step: it guarantees an answer exists
// and appends the source list for answers grounded in passages.
func (e *Engine) formatResponse(ctx context.Context, s *State) error {
	if s.FinalAnswer == nil {
		// Reached only when input validation rejected the request.
		msg := "Sorry, I could not process this question. Please rephrase it and try again."
		s.FinalAnswer = &msg
		s.Degraded = true
		s.stepDetail = "invalid input"
		return nil
	}

	if len(s.Citations) > 0 {
		var b strings.Builder
		b.WriteString(*s.FinalAnswer)
		b.WriteString("\n\nSources:\n")
		for _, c := range s.Citations {
			b.WriteString(fmt.Sprintf("  [%d] %s\n", c.Index, c.SourceName))
		}
		formatted := strings.TrimRight(b.String(), "\n")
		s.FinalAnswer = &formatted
	}
	return nil
}

// buildAnswerPrompt assembles the generation prompt: instructions,
// recent conversation, numbered passages, then the question.
func (e *Engine) buildAnswerPrompt(s *State, passages []types.Passage) string {
	var b strings.Builder
	b.WriteString(answerPromptHeader)
	b.WriteString("\n\n")

	if history := conversationContext(s.History); history != "" {
		b.WriteString("Conversation so far:\n")
		b.WriteString(history)
		b.WriteString("\n")
	}

	if len(passages) > 0 {
		b.WriteString("Context passages:\n")
		for i, p := range passages {
			b.WriteString(fmt.Sprintf("[%d] (%s)\n%s\n\n", i+1, p.SourceName(), p.Content))
		}
	} else {
		b.WriteString("No context passages were found for this question.\n\n")
	}

	b.WriteString("Question: ")
	b.WriteString(s.Question)
	b.WriteString("\nAnswer:")
	return b.String()
}

// trimToBudget keeps the highest ranked passages whose cumulative token
// count fits the context budget. The first passage is always kept so a
// single oversized passage cannot empty the prompt.
func (e *Engine) trimToBudget(passages []types.Passage) []types.Passage {
	budget := e.config.ContextTokenBudget
	total := 0
	for i, p := range passages {
		total += e.deps.Tokenizer.CountTokens(p.Content)
		if total > budget && i > 0 {
			e.logger.Debug("context budget reached",
				zap.Int("kept", i),
				zap.Int("dropped", len(passages)-i),
			)
			return passages[:i]
		}
	}
	return passages
}

// buildCitations derives the citation list from the passages that went
// into the prompt, in rank order.
func buildCitations(passages []types.Passage, previewChars int) []types.Citation {
	citations := make([]types.Citation, 0, len(passages))
	for i, p := range passages {
		citations = append(citations, types.Citation{
			Index:      i + 1,
			SourceName: p.SourceName(),
			Distance:   p.Distance,
			Preview:    truncateRunes(p.Content, previewChars),
		})
	}
	return citations
}

// fallbackAnswer builds the degraded answer shown when generation is
// unavailable: a plain extract of the top passages.
func fallbackAnswer(passages []types.Passage, previewChars int) string {
	if len(passages) == 0 {
		return "Sorry, I could not find relevant information for this question right now. Please try again later."
	}

	var b strings.Builder
	b.WriteString("The answer could not be generated right now. The most relevant passages found were:\n")
	limit := 3
	if len(passages) < limit {
		limit = len(passages)
	}
	for i := 0; i < limit; i++ {
		p := passages[i]
		b.WriteString(fmt.Sprintf("\n%d. %s: %s", i+1, p.SourceName(), truncateRunes(p.Content, previewChars)))
	}
	return b.String()
}

// truncateRunes shortens text to n runes without splitting a character.
func truncateRunes(text string, n int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "…"
}
