package rag

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/answerflow/types"
)

// RerankConfig LLM 重排序配置
type RerankConfig struct {
	// MaxCandidates 参与重排序的最大候选数（LLM 打分成本高）
	MaxCandidates int `yaml:"max_candidates" json:"max_candidates"`

	// MaxContentChars 每个片段送入打分提示词的最大字符数
	MaxContentChars int `yaml:"max_content_chars" json:"max_content_chars"`
}

// DefaultRerankConfig 返回默认重排序配置
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		MaxCandidates:   20,
		MaxContentChars: 800,
	}
}

// Reranker LLM 重排序器
// 请求语言模型为每个片段打 0-100 的相关性分，按分数重新排序。
// 重排序永远不会丢弃片段：输入输出的片段集合相同，只有顺序变化。
type Reranker struct {
	generator AnswerGenerator
	config    RerankConfig
	logger    *zap.Logger
}

// NewReranker 创建 LLM 重排序器
func NewReranker(generator AnswerGenerator, config RerankConfig, logger *zap.Logger) *Reranker {
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = 20
	}
	if config.MaxContentChars <= 0 {
		config.MaxContentChars = 800
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reranker{
		generator: generator,
		config:    config,
		logger:    logger.With(zap.String("component", "reranker")),
	}
}

// scoreLine 匹配响应中的 "PASSAGE <n>: <score>" 行
var scoreLine = regexp.MustCompile(`(?i)PASSAGE\s+(\d+)\s*:\s*(-?\d+(?:\.\d+)?)`)

// Rerank 重排序
// 失败模式全部降级，绝不让重排序错误导致整个工作流失败：
//   - 问题或片段为空：跳过，原样返回（日志 "skipped"）
//   - LLM 调用出错：原序返回（日志 "error"）
//   - 响应中解析不出任何分数：原序返回（日志 "fallback"）
func (r *Reranker) Rerank(ctx context.Context, question string, passages []types.Passage) []types.Passage {
	if question == "" || len(passages) == 0 {
		r.logger.Debug("rerank skipped",
			zap.Int("passages", len(passages)),
			zap.Bool("empty_question", question == ""),
		)
		return passages
	}

	candidates := passages
	if len(candidates) > r.config.MaxCandidates {
		candidates = candidates[:r.config.MaxCandidates]
	}

	prompt := r.buildPrompt(question, candidates)

	response, err := r.generator.Generate(ctx, prompt)
	if err != nil {
		r.logger.Warn("rerank error, keeping original order", zap.Error(err))
		return passages
	}

	scores := parseScores(response)
	if len(scores) == 0 {
		r.logger.Warn("rerank fallback: no scores parsed",
			zap.Int("response_len", len(response)),
		)
		return passages
	}

	// 在副本上排序，未被打分的片段保持相对原序并排在已打分片段之后。
	// 只接受候选窗口内的下标：窗口外的编号对应从未送入提示词的片段
	reordered := make([]types.Passage, len(passages))
	copy(reordered, passages)
	for i := range candidates {
		if score, ok := scores[i]; ok {
			s := score
			reordered[i].RelevanceScore = &s
		}
	}

	sort.SliceStable(reordered, func(i, j int) bool {
		si, iOK := reordered[i].RelevanceScore, reordered[i].RelevanceScore != nil
		sj, jOK := reordered[j].RelevanceScore, reordered[j].RelevanceScore != nil
		if iOK && jOK {
			return *si > *sj
		}
		return iOK && !jOK
	})

	r.logger.Debug("rerank completed",
		zap.Int("scored", len(scores)),
		zap.Int("total", len(passages)),
	)

	return reordered
}

// buildPrompt 构造打分提示词
// 片段以 1 起始编号，要求模型按固定格式逐行输出
func (r *Reranker) buildPrompt(question string, passages []types.Passage) string {
	var b strings.Builder
	b.WriteString("Rate the relevance of each passage to the question on a scale of 0-100.\n")
	b.WriteString("Respond with one line per passage, exactly in the format:\n")
	b.WriteString("PASSAGE <n>: <score>\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", question)

	for i, p := range passages {
		content := p.Content
		// 按 rune 截断，避免把多字节字符劈成半个
		if runes := []rune(content); len(runes) > r.config.MaxContentChars {
			content = string(runes[:r.config.MaxContentChars])
		}
		fmt.Fprintf(&b, "PASSAGE %d:\n%s\n\n", i+1, content)
	}

	return b.String()
}

// parseScores 解析响应中的分数行
// 返回 0 起始的片段下标到分数的映射；非正编号被忽略，重复编号取首个。
// 下标是否落在候选窗口内由调用方负责检查
func parseScores(response string) map[int]float64 {
	scores := make(map[int]float64)
	for _, match := range scoreLine.FindAllStringSubmatch(response, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil || n < 1 {
			continue
		}
		score, err := strconv.ParseFloat(match[2], 64)
		if err != nil {
			continue
		}
		idx := n - 1
		if _, exists := scores[idx]; !exists {
			scores[idx] = score
		}
	}
	return scores
}
