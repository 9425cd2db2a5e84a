// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 openai 基于 github.com/sashabaranov/go-openai 提供 OpenAI 及其兼容服务的
适配实现，一个 Provider 同时满足 llm.Provider、llm.Embedder 与
llm.SafetyClassifier 三个接口。

# 支持能力

  - Chat Completions（同步与 SSE 流式，流式末尾携带 usage）
  - JSON 对象响应格式（用于记忆抽取）
  - Embeddings（批量，按 index 还原输入顺序）
  - Moderations（flagged 与命中类别）

# 错误映射

上游错误统一转换为 *llm.Error：429、408、5xx 与网络错误标记为可重试，
401/403/400 不可重试。
*/
package openai
