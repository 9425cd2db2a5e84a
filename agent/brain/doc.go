// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 brain 并发运行多个决策引擎，并将它们产生的意图合并为一致的动作列表。

# 核心概念

  - Engine: 决策单元，Decide 把一个 Event 映射为零或多个 Intent，
    只通过返回的 Intent 产生副作用
  - Intent: 封闭的意图变体集合（reply、delete、warn、timeout、ban 等），
    每个变体只携带自己必需的字段
  - Brain: 注册引擎、并发分发、冲突消解
  - Executor: 外部执行器，Dispatch 对意图做穷尽的类型分派

# 超时与隔离

每个引擎运行在独立的带超时 context 中。超时或失败的引擎只记录日志与
指标，不贡献任何意图，也不影响其他引擎。超时后仍未返回的 goroutine
计入 engines_abandoned_running 指标，返回后递减。

# 冲突消解

只要出现 delete、ban 或 timeout，本轮的所有 reply 都会被丢弃，仅保留
审核来源的意图、logMetric 与 logModeration 意图以及非 reply 的互动意图。
否则同一频道的多个 reply 只保留优先级最高的一个（相同时取最早）。
最终结果按优先级降序稳定排序。
*/
package brain
