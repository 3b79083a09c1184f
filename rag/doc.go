// Copyright (c) AnswerFlow Authors.
// Licensed under the MIT License.

/*
Package rag 提供检索与相关性评估能力。

# 组件

  - HybridRetriever  — 语义检索 + 关键词检索的加权融合（0.7/0.3），按 id 去重取最高分
  - QualityEvaluator — 检索质量评估（数量阈值 + 平均相似度阈值）
  - Reranker         — 基于 LLM 的二次相关性排序，解析 "PASSAGE <n>: <score>" 格式
  - Tokenizer        — token 预算适配器（tiktoken 精确计数 / 字符估算回退）

# 外部服务契约

引擎只消费四个抽象服务：CategoryRouter、EmbeddingService、VectorStore、
AnswerGenerator。它们都是简单的请求/响应契约，具体实现（向量索引、LLM
提供商）不在本仓库范围内。
*/
package rag
