// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责按配置打开 GORM 数据库并管理连接池。

# 概述

Open 根据驱动类型（postgres / mysql / sqlite）选择方言，sqlite 使用纯 Go 的
glebarez 驱动，无需 CGO。PoolManager 封装连接池参数、后台健康检查与
优雅关闭，持久化层通过 DB() 取得 *gorm.DB。

# 核心类型

  - PoolManager：连接池管理器，提供 DB()、Ping()、Stats()、Close()。
  - PoolConfig：最大空闲/打开连接数、生命周期、空闲超时与健康检查间隔。
*/
package database
