package types

import "time"

// Passage represents a retrieved unit of text with similarity metadata.
// A Passage is immutable once retrieved, except for RelevanceScore which
// the reranker fills in.
type Passage struct {
	ID             string         `json:"id"`
	Content        string         `json:"content"`
	SourceMetadata map[string]any `json:"source_metadata,omitempty"`
	// Distance is the similarity distance in [0,1]; 0 means identical.
	Distance float64 `json:"distance"`
	// RelevanceScore is set by the reranker. Nil until reranked.
	RelevanceScore *float64 `json:"relevance_score,omitempty"`
}

// Similarity returns 1 - Distance.
func (p *Passage) Similarity() float64 {
	return 1.0 - p.Distance
}

// SourceName extracts a human-readable source name from the metadata.
// Falls back to the passage ID when no source is recorded.
func (p *Passage) SourceName() string {
	for _, key := range []string{"source", "source_name", "file_name", "title"} {
		if v, ok := p.SourceMetadata[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return p.ID
}

// Citation is a reference entry attached to the final answer.
// Citations are derived in the formatting step and never mutated.
type Citation struct {
	Index      int     `json:"index"` // 1-based
	SourceName string  `json:"source_name"`
	Distance   float64 `json:"distance"`
	Preview    string  `json:"preview"`
}

// Role represents the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one turn of prior conversation history.
// Supplied by the external session store and read-only to the engine.
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
