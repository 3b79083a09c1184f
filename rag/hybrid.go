package rag

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/answerflow/types"
)

// HybridConfig 混合检索配置
type HybridConfig struct {
	// SemanticWeight 语义检索得分权重
	SemanticWeight float64 `yaml:"semantic_weight" json:"semantic_weight"`

	// KeywordWeight 关键词检索得分权重
	KeywordWeight float64 `yaml:"keyword_weight" json:"keyword_weight"`

	// TopK 融合后保留的片段数
	TopK int `yaml:"top_k" json:"top_k"`

	// FetchK 每路检索各自取回的片段数（融合前）
	FetchK int `yaml:"fetch_k" json:"fetch_k"`
}

// DefaultHybridConfig 返回默认混合检索配置
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		SemanticWeight: 0.7,
		KeywordWeight:  0.3,
		TopK:           5,
		FetchK:         10,
	}
}

// HybridRetriever 混合检索器
// 将语义检索与关键词检索的结果融合为单一排序列表
type HybridRetriever struct {
	config   HybridConfig
	embedder EmbeddingService
	store    VectorStore
	logger   *zap.Logger
}

// NewHybridRetriever 创建混合检索器
func NewHybridRetriever(config HybridConfig, embedder EmbeddingService, store VectorStore, logger *zap.Logger) *HybridRetriever {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if config.FetchK <= 0 {
		config.FetchK = config.TopK * 2
	}
	if config.SemanticWeight <= 0 && config.KeywordWeight <= 0 {
		config.SemanticWeight = 0.7
		config.KeywordWeight = 0.3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridRetriever{
		config:   config,
		embedder: embedder,
		store:    store,
		logger:   logger.With(zap.String("component", "hybrid_retriever")),
	}
}

// scoredPassage 融合过程中的中间结果
type scoredPassage struct {
	passage       types.Passage
	semanticScore float64
	keywordScore  float64
	hasSemantic   bool
	hasKeyword    bool
	combined      float64
}

// Search 混合检索
// category 为 nil 时跨全部类目检索
//
// 两路子检索只读且相互独立，通过 errgroup 并发执行：
//  1. 语义检索：score = 1 - distance
//  2. 关键词检索：score = 1 - min(raw/10, 1)，raw 为存储层返回的原始词法得分
//
// 融合规则：同 id 出现在两路时 combined = 0.7*semantic + 0.3*keyword；
// 仅出现在一路时直接使用该路得分。按 id 去重保留最高 combined，
// 降序排序后截断到 TopK。SourceMetadata 在融合过程中原样保留。
// 关键词索引不可用时降级为纯语义检索，不报错。
func (r *HybridRetriever) Search(ctx context.Context, query string, category *string) ([]types.Passage, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var semanticResults, keywordResults []types.Passage
	var keywordErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		semanticResults, err = r.store.SemanticSearch(gctx, category, vector, r.config.FetchK)
		return err
	})
	g.Go(func() error {
		// 关键词检索失败只记录警告，不取消语义检索
		keywordResults, keywordErr = r.store.KeywordSearch(gctx, category, query, r.config.FetchK)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}

	if keywordErr != nil {
		r.logger.Warn("keyword search unavailable, degrading to semantic-only",
			zap.Error(keywordErr),
			zap.Stringp("category", category),
		)
		keywordResults = nil
	}

	merged := r.merge(semanticResults, keywordResults)

	r.logger.Debug("hybrid search completed",
		zap.Int("semantic", len(semanticResults)),
		zap.Int("keyword", len(keywordResults)),
		zap.Int("merged", len(merged)),
		zap.Stringp("category", category),
	)

	return merged, nil
}

// merge 融合两路检索结果
func (r *HybridRetriever) merge(semantic, keyword []types.Passage) []types.Passage {
	byID := make(map[string]*scoredPassage)
	// 按首次出现顺序收集，保证同分片段排序稳定
	order := make([]*scoredPassage, 0, len(semantic)+len(keyword))

	for _, p := range semantic {
		score := p.Similarity()
		sp, ok := byID[p.ID]
		if !ok {
			sp = &scoredPassage{passage: p, semanticScore: score, hasSemantic: true}
			byID[p.ID] = sp
			order = append(order, sp)
			continue
		}
		// 同路重复 id：保留更高的语义得分
		if !sp.hasSemantic || score > sp.semanticScore {
			sp.semanticScore = score
			sp.hasSemantic = true
			sp.passage = p
		}
	}

	for _, p := range keyword {
		score := normalizeKeywordScore(p.Distance)
		sp, ok := byID[p.ID]
		if !ok {
			// 仅关键词命中的片段，把归一化得分折算回距离语义
			p.Distance = 1.0 - score
			sp = &scoredPassage{passage: p, keywordScore: score, hasKeyword: true}
			byID[p.ID] = sp
			order = append(order, sp)
			continue
		}
		if !sp.hasKeyword || score > sp.keywordScore {
			sp.keywordScore = score
			sp.hasKeyword = true
		}
	}

	results := order
	for _, sp := range results {
		switch {
		case sp.hasSemantic && sp.hasKeyword:
			sp.combined = sp.semanticScore*r.config.SemanticWeight + sp.keywordScore*r.config.KeywordWeight
		case sp.hasSemantic:
			sp.combined = sp.semanticScore
		default:
			sp.combined = sp.keywordScore
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].combined > results[j].combined
	})

	if len(results) > r.config.TopK {
		results = results[:r.config.TopK]
	}

	passages := make([]types.Passage, len(results))
	for i, sp := range results {
		passages[i] = sp.passage
	}
	return passages
}

// normalizeKeywordScore 将原始词法得分归一化到 [0,1]
// raw 越小表示匹配越好（距离语义），归一化为 1 - min(raw/10, 1)
func normalizeKeywordScore(raw float64) float64 {
	scaled := raw / 10.0
	if scaled > 1.0 {
		scaled = 1.0
	}
	if scaled < 0 {
		scaled = 0
	}
	return 1.0 - scaled
}
