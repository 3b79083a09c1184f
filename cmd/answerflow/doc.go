// Copyright (c) AnswerFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 AnswerFlow 服务端程序入口。

# 概述

cmd/answerflow 是检索增强问答编排引擎的可执行入口，提供 HTTP API 服务、
健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap + lumberjack 滚动）以及 Prometheus 指标采集。

# 核心类型

  - Server          — 主服务器，组装工作流引擎及其全部协作组件
  - httpService     — 下游服务（路由/向量化/检索/生成）的通用 JSON 客户端

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - API：POST /v1/answer（问答）、GET /v1/sessions/{id}/checkpoints（审计）、
    GET /health、GET /metrics（Prometheus）
  - 检查点后端：redis / sqlite / none，异步写入不阻塞请求路径
  - 生成服务客户端限流：golang.org/x/time/rate
  - 优雅关闭：信号监听 → 关闭 HTTP → 排空检查点队列 → 关闭存储
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
