// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 companion 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel，
    用于等待后台记忆抽取等异步任务
  - 流式辅助: CollectStreamChunks / CollectStreamContent
  - 存储夹具: NewTestDB（gorm + 内存 SQLite）与 NewTestRedis（miniredis）

# 子包

  - testutil/mocks: MockProvider（llm.Provider）、MockEmbedder（llm.Embedder）、
    MockClassifier（llm.SafetyClassifier），均支持 Builder 模式与错误注入

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewMockProvider().WithResponse("hello")
	resp, err := provider.Completion(ctx, req)
	require.NoError(t, err)
*/
package testutil
