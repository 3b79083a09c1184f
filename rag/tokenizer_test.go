package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimatorTokenizer(t *testing.T) {
	e := NewEstimatorTokenizer()

	assert.Equal(t, 0, e.CountTokens(""))

	// 纯 ASCII：约 4 字符/token
	assert.Equal(t, 4, e.CountTokens("sixteen chars ab")) // 16 字符

	// 纯中文：约 1.5 字符/token
	assert.Equal(t, 4, e.CountTokens("员工手册假期")) // 6 字 → 4

	// 非空文本至少计 1 个 token
	assert.Equal(t, 1, e.CountTokens("a"))
}

func TestEstimateTokens_MixedText(t *testing.T) {
	// 4 个中文字 + 8 个 ASCII 字符 → 4/1.5 + 8/4 ≈ 4
	got := estimateTokens("假期政策 policy12")
	assert.Equal(t, 4, got)
}

func TestIsCJK(t *testing.T) {
	assert.True(t, isCJK('中'))
	assert.True(t, isCJK('の'))
	assert.True(t, isCJK('한'))
	assert.False(t, isCJK('a'))
	assert.False(t, isCJK('1'))
}
