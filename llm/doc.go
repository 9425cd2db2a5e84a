// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供伴侣 Agent 的语言模型接入层：对话补全、流式输出、
向量嵌入、安全分类以及从对话中抽取长期记忆候选。

# 概述

[Client] 组合三个可注入的协作者：[Provider]（补全与流式）、
[Embedder]（向量嵌入）和 [SafetyClassifier]（内容安全分类），
上层组件只依赖 Client，不感知具体模型服务商。

# 重试与限速

除记忆抽取外，所有调用都经过 llm/retry 的指数退避重试，
只有 Retryable 为 true 的 [Error] 会被重试；流式调用只重试连接建立阶段。
可选的 golang.org/x/time/rate 令牌桶在每次尝试前限制请求速率。

# 记忆抽取

[Client.ExtractMemoryCandidates] 以 JSON 对象响应格式请求模型，
解析器对格式错误保持宽容：无法解析时返回空列表，不重试。

# 具体实现

llm/providers/openai 基于 go-openai 实现全部三个接口，
可对接任意 OpenAI 兼容的 BaseURL。
*/
package llm
