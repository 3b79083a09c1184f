package answerflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/answerflow/types"
	"github.com/BaSui01/answerflow/workflow"
)

type stubRouter struct{}

func (stubRouter) Decide(ctx context.Context, question string, categories []string, conversationContext string) (string, float64, error) {
	return "kb", 0.9, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return []float64{0.1, 0.2}, nil
}

type stubStore struct{}

func (stubStore) SemanticSearch(ctx context.Context, category *string, vector []float64, topK int) ([]types.Passage, error) {
	return []types.Passage{
		{ID: "a", Content: "alpha", Distance: 0.1},
		{ID: "b", Content: "beta", Distance: 0.2},
	}, nil
}

func (stubStore) KeywordSearch(ctx context.Context, category *string, query string, topK int) ([]types.Passage, error) {
	return nil, types.NewError(types.ErrTransientAPI, "no keyword index")
}

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "stub answer", nil
}

func TestNew_RequiresAllServices(t *testing.T) {
	_, err := New(nil, stubEmbedder{}, stubStore{}, stubGenerator{})
	require.Error(t, err)
}

func TestNew_AnswersWithDefaults(t *testing.T) {
	engine, err := New(stubRouter{}, stubEmbedder{}, stubStore{}, stubGenerator{},
		WithoutReranker(),
	)
	require.NoError(t, err)

	result, err := engine.Answer(context.Background(), workflow.Request{
		Question:            "what is alpha?",
		SessionID:           "s1",
		AvailableCategories: []string{"kb"},
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Degraded)
	assert.Contains(t, result.FinalAnswer, "stub answer")
	assert.NotEmpty(t, result.Citations)
}

func TestNew_RejectsRequestWithoutCategories(t *testing.T) {
	engine, err := New(stubRouter{}, stubEmbedder{}, stubStore{}, stubGenerator{},
		WithoutReranker(),
	)
	require.NoError(t, err)

	result, err := engine.Answer(context.Background(), workflow.Request{
		Question:  "what is alpha?",
		SessionID: "s1",
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Degraded)
	assert.NotContains(t, result.FinalAnswer, "stub answer")
}
