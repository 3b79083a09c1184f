package rag

import (
	"context"

	"github.com/BaSui01/answerflow/types"
)

// CategoryRouter 问题分类路由服务
// 根据问题内容与会话上下文决定检索类目
type CategoryRouter interface {
	// Decide 返回路由类目与置信度 [0,1]
	Decide(ctx context.Context, question string, categories []string, conversationContext string) (category string, confidence float64, err error)
}

// EmbeddingService 文本向量化服务
type EmbeddingService interface {
	// Embed 将文本转换为向量
	Embed(ctx context.Context, text string) ([]float64, error)
}

// VectorStore 向量存储的检索端契约
// category 为 nil 时跨全部类目检索
type VectorStore interface {
	// SemanticSearch 相似向量检索，返回的 Passage.Distance 为相似度距离 [0,1]
	SemanticSearch(ctx context.Context, category *string, vector []float64, topK int) ([]types.Passage, error)

	// KeywordSearch 关键词（BM25 类）检索，返回的 Passage.Distance 为原始词法得分
	// 某类目尚未建立关键词索引时应返回错误，由调用方降级为纯语义检索
	KeywordSearch(ctx context.Context, category *string, query string, topK int) ([]types.Passage, error)
}

// AnswerGenerator 文本生成服务
// 回答生成与重排序打分共用此契约
type AnswerGenerator interface {
	// Generate 根据提示词生成文本
	Generate(ctx context.Context, prompt string) (string, error)
}
