/*
包 runtime 实现单条入站消息的处理流水线。

# 状态流转

一轮对话依次经过：

	Admitted → InputChecked → ContextLoaded → MemoryRetrieved → Generated → OutputChecked → Persisted

失败终态为 RateLimited、InputBlocked 与 OutputBlocked。限流与输入审核
失败时不会产生任何写入；输出审核失败时用静态兜底回复替换模型输出，
并且只持久化兜底回复。

# 记忆抽取

持久化成功后，记忆抽取在后台独立执行：并发数由带权信号量约束，饱和时
跳过并计数；抽取有独立超时，失败只记录日志与指标。Close 等待所有
进行中的抽取结束。
*/
package runtime
