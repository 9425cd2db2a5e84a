// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 memory 提供伴侣 Agent 的长期记忆：按语义相似度检索、
从对话中抽取并存储、随时间衰减与过期清理。

# 概述

[Manager] 负责记忆的全生命周期，存储细节通过 [Store] 接口注入：
agent/persistence 提供基于 gorm 的实现，[InMemoryStore] 提供进程内实现。

# 检索

Retrieve 将查询文本向量化，在 Agent（以及可选的用户）范围内搜索未过期记忆，
只保留相似度不低于阈值的结果，按相似度降序、最近访问优先排序并截断，
最后以一次原子操作提升被命中记忆的显著度（salience）并刷新访问时间。

# 存储

Store 丢弃置信度低于阈值的候选，剩余内容一次批量向量化后原子写入。
初始显著度等于置信度，过期提示（如 "2 days"、"never"）解析为绝对时间。

# 衰减

Decay 对 Agent 的全部未过期、显著度高于下限的记忆原子地乘以衰减因子。
[DecayScheduler] 在后台定期对所有 Agent 执行衰减并清理过期记忆，不在请求路径上运行。
*/
package memory
