// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供基于 GORM 的 Agent、会话、消息与长期记忆持久化实现。

# 概述

Store 同时实现 runtime.Store 与 memory.Store，后端可以是 PostgreSQL、
MySQL 或 SQLite（由 internal/database 打开）。表结构通过 AutoMigrate 维护。

# 原子性

  - 一轮对话的 user/agent 两条消息在同一事务内写入
  - 记忆 touch 与衰减均为单条 UPDATE 语句
  - 会话的获取或创建依赖唯一索引，并发创建时回读已存在的记录

# 向量检索

嵌入以 JSON 序列化存储。相似度在应用侧计算，候选集先按 Agent、用户与
过期时间在 SQL 中过滤。
*/
package persistence
