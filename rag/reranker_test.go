package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/answerflow/types"
)

// scriptedGenerator 返回预设响应或错误
type scriptedGenerator struct {
	response string
	err      error
	calls    int
	prompts  []string
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.calls++
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

func rerankInput(n int) []types.Passage {
	out := make([]types.Passage, n)
	for i := range out {
		out[i] = types.Passage{
			ID:       fmt.Sprintf("p%d", i+1),
			Content:  fmt.Sprintf("tartalom %d", i+1),
			Distance: 0.5,
		}
	}
	return out
}

func idsOf(passages []types.Passage) []string {
	ids := make([]string, len(passages))
	for i, p := range passages {
		ids[i] = p.ID
	}
	return ids
}

func TestReranker_ReordersByScore(t *testing.T) {
	gen := &scriptedGenerator{response: "PASSAGE 1: 10\nPASSAGE 2: 95\nPASSAGE 3: 40\n"}
	r := NewReranker(gen, DefaultRerankConfig(), zap.NewNop())

	out := r.Rerank(context.Background(), "Mi a felmondás?", rerankInput(3))

	require.Len(t, out, 3)
	assert.Equal(t, []string{"p2", "p3", "p1"}, idsOf(out))
	require.NotNil(t, out[0].RelevanceScore)
	assert.Equal(t, 95.0, *out[0].RelevanceScore)
}

func TestReranker_EmptyInputSkipped(t *testing.T) {
	gen := &scriptedGenerator{}
	r := NewReranker(gen, DefaultRerankConfig(), zap.NewNop())

	assert.Empty(t, r.Rerank(context.Background(), "kérdés", nil))
	assert.Equal(t, 0, gen.calls, "空输入不应调用 LLM")

	in := rerankInput(2)
	out := r.Rerank(context.Background(), "", in)
	assert.Equal(t, idsOf(in), idsOf(out))
	assert.Equal(t, 0, gen.calls)
}

func TestReranker_GeneratorErrorKeepsOrder(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("provider down")}
	r := NewReranker(gen, DefaultRerankConfig(), zap.NewNop())

	in := rerankInput(3)
	out := r.Rerank(context.Background(), "kérdés", in)

	assert.Equal(t, idsOf(in), idsOf(out), "LLM 出错时保持原序")
}

func TestReranker_UnparseableResponseFallsBack(t *testing.T) {
	gen := &scriptedGenerator{response: "I think passage two is the best one."}
	r := NewReranker(gen, DefaultRerankConfig(), zap.NewNop())

	in := rerankInput(3)
	out := r.Rerank(context.Background(), "kérdés", in)

	assert.Equal(t, idsOf(in), idsOf(out))
}

func TestReranker_PartialScoresKeepUnscoredLast(t *testing.T) {
	gen := &scriptedGenerator{response: "PASSAGE 2: 80"}
	r := NewReranker(gen, DefaultRerankConfig(), zap.NewNop())

	out := r.Rerank(context.Background(), "kérdés", rerankInput(3))

	require.Len(t, out, 3)
	assert.Equal(t, "p2", out[0].ID)
	// 未打分的片段保持相对原序
	assert.Equal(t, []string{"p1", "p3"}, idsOf(out[1:]))
}

func TestReranker_PromptContainsNumberedPassages(t *testing.T) {
	gen := &scriptedGenerator{response: "PASSAGE 1: 50\nPASSAGE 2: 60"}
	r := NewReranker(gen, DefaultRerankConfig(), zap.NewNop())

	r.Rerank(context.Background(), "Mi a próbaidő?", rerankInput(2))

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "Mi a próbaidő?")
	assert.Contains(t, gen.prompts[0], "PASSAGE 1:")
	assert.Contains(t, gen.prompts[0], "PASSAGE 2:")
}

func TestReranker_ScoreOutsideCandidateWindowIgnored(t *testing.T) {
	// 窗口只送入前 2 个片段；编号 3 不在提示词里，打分必须被丢弃
	gen := &scriptedGenerator{response: "PASSAGE 3: 99\nPASSAGE 2: 80"}
	r := NewReranker(gen, RerankConfig{MaxCandidates: 2, MaxContentChars: 800}, zap.NewNop())

	out := r.Rerank(context.Background(), "kérdés", rerankInput(3))

	require.Len(t, out, 3)
	assert.Equal(t, []string{"p2", "p1", "p3"}, idsOf(out))
	for _, p := range out {
		if p.ID == "p3" {
			assert.Nil(t, p.RelevanceScore, "窗口外的片段不应获得分数")
		}
	}
}

func TestReranker_PromptTruncatesOnRuneBoundary(t *testing.T) {
	gen := &scriptedGenerator{response: "PASSAGE 1: 50"}
	r := NewReranker(gen, RerankConfig{MaxCandidates: 20, MaxContentChars: 4}, zap.NewNop())

	in := []types.Passage{{ID: "cjk", Content: "章节一二三四五六", Distance: 0.3}}
	r.Rerank(context.Background(), "第几章?", in)

	require.Len(t, gen.prompts, 1)
	assert.True(t, utf8.ValidString(gen.prompts[0]))
	assert.Contains(t, gen.prompts[0], "章节一二\n")
	assert.NotContains(t, gen.prompts[0], "章节一二三")
}

func TestParseScores(t *testing.T) {
	scores := parseScores("noise\nPASSAGE 1: 12.5\npassage 2 : 40\nPASSAGE 99: 1\nPASSAGE 1: 77\n")

	assert.Equal(t, 12.5, scores[0], "重复编号取首个")
	assert.Equal(t, 40.0, scores[1], "大小写与空白宽容")
	assert.Equal(t, 1.0, scores[98])
}

// TestReranker_PermutationProperty 重排序是输入的置换：
// 片段 id 集合前后一致，只有顺序变化
func TestReranker_PermutationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(t, "n")
		in := rerankInput(n)

		// 随机生成响应：任意子集被打分，分数任意
		var response string
		for i := 1; i <= n; i++ {
			if rapid.Bool().Draw(t, "scored") {
				response += fmt.Sprintf("PASSAGE %d: %d\n", i, rapid.IntRange(0, 100).Draw(t, "score"))
			}
		}

		gen := &scriptedGenerator{response: response}
		r := NewReranker(gen, DefaultRerankConfig(), zap.NewNop())
		out := r.Rerank(context.Background(), "kérdés", in)

		inIDs := idsOf(in)
		outIDs := idsOf(out)
		sort.Strings(inIDs)
		sortedOut := append([]string(nil), outIDs...)
		sort.Strings(sortedOut)
		if len(inIDs) != len(sortedOut) {
			t.Fatalf("passage count changed: %d -> %d", len(inIDs), len(sortedOut))
		}
		for i := range inIDs {
			if inIDs[i] != sortedOut[i] {
				t.Fatalf("passage id sets differ: %v vs %v", inIDs, sortedOut)
			}
		}
	})
}
