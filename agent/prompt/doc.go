/*
包 prompt 将单轮 AgentContext 组装为发送给语言模型的有序消息列表。

# 消息顺序

  - 人设 system 消息：{{name}} 替换、情绪三维档位、精力档位、按名称排序的特质列表
  - 记忆 system 消息：仅在本轮检索到记忆时出现
  - 历史消息：时间正序，受条数与 Token 预算双重约束，保留最新的部分
  - 当前用户消息

记忆与情绪必须位于历史之前，模型才会把它们当作背景而不是最新发言。
*/
package prompt
