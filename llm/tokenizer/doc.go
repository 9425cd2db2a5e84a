// Package tokenizer 提供统一的 Token 计数接口，
// 支持 tiktoken 精确计数与 CJK 估算器，用于对话历史的 Token 预算截断。
// tiktoken 编码表在首次使用时加载，加载失败时 Fallback 自动降级为估算器。
package tokenizer
