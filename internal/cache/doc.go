// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 管理 Redis 连接的生命周期，为限流计数等共享状态提供客户端。

# 概述

Manager 负责初始化 go-redis 客户端（连接池、重试）、启动时连通性校验、
后台健康检查与优雅关闭。上层组件通过 Client() 取得 redis.Cmdable，
自身不感知连接管理细节。

# 核心类型

  - Manager：持有 Redis 客户端与配置，提供 Client/Ping/Close。
  - Config：地址、密码、连接池大小、重试次数与健康检查间隔。
*/
package cache
