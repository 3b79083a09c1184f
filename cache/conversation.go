// Package cache 提供会话内历史问答匹配。
//
// 目的：在发起任何外部调用之前，用历史中已经回答过的问题直接命中，
// 避免整条昂贵的检索-生成流水线。缓存不持有任何跨请求状态，
// 只读调用方提供的不可变历史，因此无需同步。
package cache

import (
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/types"
)

// Config 会话缓存配置
type Config struct {
	// SimilarityThreshold 模糊匹配阈值，基于最长公共子序列的相似度比率
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
}

// DefaultConfig 返回默认会话缓存配置
func DefaultConfig() Config {
	return Config{SimilarityThreshold: 0.85}
}

// ConversationCache 会话缓存
type ConversationCache struct {
	config Config
	logger *zap.Logger
}

// NewConversationCache 创建会话缓存
func NewConversationCache(config Config, logger *zap.Logger) *ConversationCache {
	if config.SimilarityThreshold <= 0 || config.SimilarityThreshold > 1 {
		config.SimilarityThreshold = 0.85
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationCache{
		config: config,
		logger: logger.With(zap.String("component", "conversation_cache")),
	}
}

// Lookup 在会话历史中查找等价的已回答问题
//
// 对每个历史 User 轮次计算：(a) 归一化后精确相等，或 (b) LCS 相似度
// 比率 > 阈值。命中则返回紧随其后的 Assistant 轮次内容。
// 线性扫描 O(n)，首个命中即返回（first match wins，不找最优匹配）。
// 未命中返回 nil，调用方继续完整流水线。
func (c *ConversationCache) Lookup(question string, history []types.ConversationTurn) *string {
	normalized := normalize(question)
	if normalized == "" || len(history) == 0 {
		return nil
	}

	for i, turn := range history {
		if turn.Role != types.RoleUser {
			continue
		}

		prior := normalize(turn.Content)
		if prior == "" {
			continue
		}

		exact := prior == normalized
		if !exact && similarityRatio(normalized, prior) <= c.config.SimilarityThreshold {
			continue
		}

		// 命中：取紧随其后的 Assistant 轮次
		if i+1 < len(history) && history[i+1].Role == types.RoleAssistant {
			answer := history[i+1].Content
			c.logger.Debug("conversation cache hit",
				zap.Bool("exact", exact),
				zap.Int("turn_index", i),
			)
			return &answer
		}
	}

	return nil
}

// normalize 归一化问题文本：去首尾空白 + 转小写
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// similarityRatio 计算两个字符串的相似度比率
// ratio = 2 * LCS(a, b) / (len(a) + len(b))，按 rune 计算
func similarityRatio(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1.0
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}

	lcs := lcsLength(ra, rb)
	return 2.0 * float64(lcs) / float64(len(ra)+len(rb))
}

// lcsLength 最长公共子序列长度，滚动数组实现，O(len(a)*len(b)) 时间 O(len(b)) 空间
func lcsLength(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
