// Package config 提供 Companion 的配置管理功能。
//
// 配置优先级: 默认值 → YAML 文件 → .env 文件 → 环境变量（前缀 COMPANION_）。
// 各组件的配置段（限流、审核、记忆、Prompt、Brain 等）均在此集中定义，
// 由 cmd/companion 在启动时装配到对应组件。
package config
