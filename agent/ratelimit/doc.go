/*
包 ratelimit 提供基于 Redis 有序集合的用户级滑动窗口限流。

一次检查由单个 Lua 脚本原子完成：清理窗口外记录、统计窗口内请求数、
记录本次请求、刷新键的过期时间。被拒绝的请求同样计入窗口。
存储不可用时拒绝请求（fail closed）。
*/
package ratelimit
