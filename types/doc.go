// Copyright (c) AnswerFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 AnswerFlow 引擎的全局共享类型定义。

# 概述

types 是引擎最底层的公共包，不依赖任何内部包，为 workflow、rag、cache、
checkpoint 等上层模块提供统一的类型契约。所有跨包共享的结构体、枚举和
错误码均定义于此，以避免循环依赖。

# 核心类型

  - Passage           — 检索到的文本片段（相似度距离 + 来源元数据）
  - Citation          — 最终回答中的引用条目
  - ConversationTurn  — 会话历史中的一轮对话（只读输入）
  - Error / ErrorCode — 结构化错误体系，含 Retryable 标记
*/
package types
