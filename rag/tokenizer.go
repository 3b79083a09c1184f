package rag

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Tokenizer 提供 token 计数能力，用于回答提示词的上下文预算管理
type Tokenizer interface {
	// CountTokens 返回文本的 token 数
	CountTokens(text string) int
}

// TiktokenTokenizer 基于 tiktoken 的精确计数器
// 编码器懒加载（首次调用时下载/加载编码表），失败时回退到字符估算
type TiktokenTokenizer struct {
	encoding string
	logger   *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktokenTokenizer 创建 tiktoken 计数器
// encoding 为空时使用 cl100k_base
func NewTiktokenTokenizer(encoding string, logger *zap.Logger) *TiktokenTokenizer {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenTokenizer{
		encoding: encoding,
		logger:   logger.With(zap.String("component", "tokenizer")),
	}
}

// CountTokens 返回文本的 token 数
// 编码器初始化失败时回退到 CJK 感知的字符估算并记录警告
func (t *TiktokenTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}

	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("load tiktoken encoding %s: %w", t.encoding, err)
			t.logger.Warn("tiktoken unavailable, falling back to estimation",
				zap.Error(t.initErr))
			return
		}
		t.enc = enc
	})

	if t.enc == nil {
		return estimateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// EstimatorTokenizer 基于字符数的估算器
// 区分 CJK 与 ASCII 字符，无需下载编码数据
type EstimatorTokenizer struct{}

// NewEstimatorTokenizer 创建估算计数器
func NewEstimatorTokenizer() *EstimatorTokenizer {
	return &EstimatorTokenizer{}
}

// CountTokens 返回估算的 token 数
func (e *EstimatorTokenizer) CountTokens(text string) int {
	return estimateTokens(text)
}

// estimateTokens CJK 字符约 1.5 字符/token，ASCII 约 4 字符/token
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}
	estimated := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x3040 && r <= 0x30FF) ||
		(r >= 0xAC00 && r <= 0xD7AF)
}
