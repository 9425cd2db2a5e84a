// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的认知核心指标采集能力，覆盖
对话轮次、限流、内容审核、LLM、决策引擎与长期记忆六大维度。

# 概述

Collector 统一注册并记录指标，Registerer 可注入（测试使用独立 Registry）。
所有记录方法对 nil 接收者安全，组件在未配置指标时无需判空。

# 主要能力

  - 轮次：按结果统计（ok / rate_limited / input_blocked / output_blocked / error）与耗时。
  - 限流：允许、拒绝与存储故障（故障时拒绝）。
  - 审核：按拦截阶段统计（blocklist / classifier / classifier_error）。
  - 引擎：按引擎统计成功、失败、超时，并以 Gauge 暴露超时后仍在运行的引擎数量。
  - 记忆：检索、写入、丢弃、衰减、清理，以及后台抽取失败计数。
*/
package metrics
