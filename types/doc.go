// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 Companion 认知核心的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 agent、llm、config 等上层
模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Error / ErrorCode: 结构化错误体系（限流、内容拦截、Agent 不存在、存储失败等）
  - Message / Role   : 面向模型的对话消息
  - ChatMessage      : 已持久化的对话轮次（user / agent）
  - Memory           : 长期记忆条目（FACT / PREFERENCE / EVENT / EMOTION）
  - MemoryCandidate  : 抽取得到、尚未入库的记忆候选
  - Agent / Mood     : Agent 身份、人设、情绪与能量状态
  - AgentContext     : 单轮对话内重建的临时上下文

# 主要能力

  - Context 传播：WithTraceID / WithUserID / WithAgentID
  - 错误判定：IsCode / GetErrorCode / IsRetryable
*/
package types
