package rag

import (
	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/types"
)

// QualityConfig 检索质量评估配置
// 阈值为设计常量而非推导值，通过配置暴露以便调优
type QualityConfig struct {
	// MinPassages 判定充分所需的最少片段数
	MinPassages int `yaml:"min_passages" json:"min_passages"`

	// MinAvgSimilarity 判定充分所需的平均相似度（1 - distance）下限
	MinAvgSimilarity float64 `yaml:"min_avg_similarity" json:"min_avg_similarity"`
}

// DefaultQualityConfig 返回默认质量评估配置
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		MinPassages:      2,
		MinAvgSimilarity: 0.2,
	}
}

// QualityEvaluator 检索质量评估器
// 评估不修改任何片段，纯函数语义
type QualityEvaluator struct {
	config QualityConfig
	logger *zap.Logger
}

// NewQualityEvaluator 创建质量评估器
func NewQualityEvaluator(config QualityConfig, logger *zap.Logger) *QualityEvaluator {
	if config.MinPassages <= 0 {
		config.MinPassages = 2
	}
	if config.MinAvgSimilarity <= 0 {
		config.MinAvgSimilarity = 0.2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QualityEvaluator{
		config: config,
		logger: logger.With(zap.String("component", "quality_evaluator")),
	}
}

// Evaluate 判定片段集合是否足以支撑回答
// 充分条件：片段数 ≥ MinPassages 且平均相似度 ≥ MinAvgSimilarity
func (e *QualityEvaluator) Evaluate(passages []types.Passage) bool {
	if len(passages) < e.config.MinPassages {
		e.logger.Debug("retrieval insufficient: too few passages",
			zap.Int("count", len(passages)),
			zap.Int("min", e.config.MinPassages),
		)
		return false
	}

	avg := AverageSimilarity(passages)
	if avg < e.config.MinAvgSimilarity {
		e.logger.Debug("retrieval insufficient: low average similarity",
			zap.Float64("avg_similarity", avg),
			zap.Float64("min", e.config.MinAvgSimilarity),
		)
		return false
	}

	e.logger.Debug("retrieval sufficient",
		zap.Int("count", len(passages)),
		zap.Float64("avg_similarity", avg),
	)
	return true
}

// AverageSimilarity 计算片段集合的平均相似度（1 - distance）
func AverageSimilarity(passages []types.Passage) float64 {
	if len(passages) == 0 {
		return 0.0
	}
	sum := 0.0
	for i := range passages {
		sum += passages[i].Similarity()
	}
	return sum / float64(len(passages))
}
