package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/answerflow/types"
)

// fakeEmbedder 返回固定向量
type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float64{0.1, 0.2, 0.3}, nil
}

// fakeStore 返回预设的两路检索结果
type fakeStore struct {
	semantic    []types.Passage
	keyword     []types.Passage
	semanticErr error
	keywordErr  error

	semanticCalls int
	keywordCalls  int
}

func (f *fakeStore) SemanticSearch(ctx context.Context, category *string, vector []float64, topK int) ([]types.Passage, error) {
	f.semanticCalls++
	return f.semantic, f.semanticErr
}

func (f *fakeStore) KeywordSearch(ctx context.Context, category *string, query string, topK int) ([]types.Passage, error) {
	f.keywordCalls++
	return f.keyword, f.keywordErr
}

func TestHybridRetriever_MergedScoreFormula(t *testing.T) {
	store := &fakeStore{
		// 语义：similarity = 1 - 0.2 = 0.8
		semantic: []types.Passage{{ID: "p1", Content: "a", Distance: 0.2}},
		// 关键词：raw = 4 → score = 1 - 4/10 = 0.6
		keyword: []types.Passage{{ID: "p1", Content: "a", Distance: 4.0}},
	}
	r := NewHybridRetriever(DefaultHybridConfig(), &fakeEmbedder{}, store, zap.NewNop())

	merged := r.merge(store.semantic, store.keyword)
	require.Len(t, merged, 1)

	// combined = 0.7*0.8 + 0.3*0.6 = 0.74，融合片段保留语义侧的距离
	assert.Equal(t, "p1", merged[0].ID)
	assert.InDelta(t, 0.2, merged[0].Distance, 1e-9)
}

func TestHybridRetriever_SingleListKeepsOwnScore(t *testing.T) {
	store := &fakeStore{
		semantic: []types.Passage{{ID: "sem", Distance: 0.5}},                      // score 0.5
		keyword:  []types.Passage{{ID: "kw", Distance: 1.0}},                       // score 0.9
	}
	r := NewHybridRetriever(DefaultHybridConfig(), &fakeEmbedder{}, store, zap.NewNop())

	merged, err := r.Search(context.Background(), "kérdés", nil)
	require.NoError(t, err)
	require.Len(t, merged, 2)

	// 仅关键词命中的 kw 得分 0.9 高于仅语义命中的 sem 得分 0.5
	assert.Equal(t, "kw", merged[0].ID)
	assert.Equal(t, "sem", merged[1].ID)
}

func TestHybridRetriever_KeywordUnavailableDegrades(t *testing.T) {
	store := &fakeStore{
		semantic:   []types.Passage{{ID: "p1", Distance: 0.1}, {ID: "p2", Distance: 0.2}},
		keywordErr: errors.New("no keyword index for category"),
	}
	r := NewHybridRetriever(DefaultHybridConfig(), &fakeEmbedder{}, store, zap.NewNop())

	merged, err := r.Search(context.Background(), "kérdés", nil)
	require.NoError(t, err, "关键词索引缺失不应报错")
	assert.Len(t, merged, 2)
	assert.Equal(t, "p1", merged[0].ID)
}

func TestHybridRetriever_SemanticErrorPropagates(t *testing.T) {
	store := &fakeStore{semanticErr: types.NewError(types.ErrTimeout, "vector store down")}
	r := NewHybridRetriever(DefaultHybridConfig(), &fakeEmbedder{}, store, zap.NewNop())

	_, err := r.Search(context.Background(), "kérdés", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
}

func TestHybridRetriever_MetadataPreserved(t *testing.T) {
	meta := map[string]any{"source": "munka_torvenykonyve.pdf", "page": 12}
	store := &fakeStore{
		semantic: []types.Passage{{ID: "p1", Distance: 0.3, SourceMetadata: meta}},
		keyword:  []types.Passage{{ID: "p1", Distance: 2.0}},
	}
	r := NewHybridRetriever(DefaultHybridConfig(), &fakeEmbedder{}, store, zap.NewNop())

	merged, err := r.Search(context.Background(), "kérdés", nil)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, meta, merged[0].SourceMetadata)
}

func TestHybridRetriever_TopKTruncation(t *testing.T) {
	var semantic []types.Passage
	for i := 0; i < 12; i++ {
		semantic = append(semantic, types.Passage{
			ID:       fmt.Sprintf("p%d", i),
			Distance: float64(i) / 20.0,
		})
	}
	store := &fakeStore{semantic: semantic}

	cfg := DefaultHybridConfig()
	cfg.TopK = 5
	r := NewHybridRetriever(cfg, &fakeEmbedder{}, store, zap.NewNop())

	merged, err := r.Search(context.Background(), "kérdés", nil)
	require.NoError(t, err)
	assert.Len(t, merged, 5)
	// 距离最小（相似度最高）的排在最前
	assert.Equal(t, "p0", merged[0].ID)
}

func TestNormalizeKeywordScore(t *testing.T) {
	assert.InDelta(t, 1.0, normalizeKeywordScore(0), 1e-9)
	assert.InDelta(t, 0.5, normalizeKeywordScore(5), 1e-9)
	assert.InDelta(t, 0.0, normalizeKeywordScore(10), 1e-9)
	assert.InDelta(t, 0.0, normalizeKeywordScore(25), 1e-9, "超出范围的原始得分被截断")
}

// TestHybridRetriever_DedupProperty 去重后的结果里每个 id 至多出现一次，
// 且每个结果 id 必然来自某一路输入
func TestHybridRetriever_DedupProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		idGen := rapid.SampledFrom([]string{"a", "b", "c", "d", "e", "f"})

		var semantic, keyword []types.Passage
		inputIDs := map[string]bool{}

		n := rapid.IntRange(0, 8).Draw(t, "n_semantic")
		for i := 0; i < n; i++ {
			id := idGen.Draw(t, "sem_id")
			semantic = append(semantic, types.Passage{
				ID:       id,
				Distance: rapid.Float64Range(0, 1).Draw(t, "sem_dist"),
			})
			inputIDs[id] = true
		}
		m := rapid.IntRange(0, 8).Draw(t, "n_keyword")
		for i := 0; i < m; i++ {
			id := idGen.Draw(t, "kw_id")
			keyword = append(keyword, types.Passage{
				ID:       id,
				Distance: rapid.Float64Range(0, 20).Draw(t, "kw_raw"),
			})
			inputIDs[id] = true
		}

		r := NewHybridRetriever(DefaultHybridConfig(), &fakeEmbedder{}, &fakeStore{}, zap.NewNop())
		merged := r.merge(semantic, keyword)

		seen := map[string]bool{}
		for _, p := range merged {
			if seen[p.ID] {
				t.Fatalf("duplicate id %q in merged results", p.ID)
			}
			seen[p.ID] = true
			if !inputIDs[p.ID] {
				t.Fatalf("merged id %q not present in any input", p.ID)
			}
		}
	})
}
