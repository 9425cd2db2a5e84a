// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范，该许可可以
// 在 LICENSE 文件中找到。

/*
companion 是陪伴型 Agent 认知核心的命令行入口。

使用方法:

	companion chat --agent <id> --user <id>       # 交互式对话
	companion chat --agent <id> --stream          # 流式输出，绕过引擎层
	companion agent create --name Mira --user u1  # 创建 Agent
	companion memory decay [--agent <id>]         # 执行一轮记忆衰减
	companion memory gc                           # 清理过期记忆
	companion migrate                             # 同步数据库表结构
	companion version                             # 显示版本信息

所有命令共享 --config 参数，配置按 默认值 → YAML → .env → COMPANION_* 环境变量 的顺序叠加。
*/
package main
