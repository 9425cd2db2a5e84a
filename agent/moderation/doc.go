/*
包 moderation 提供两阶段内容审核：大小写不敏感的屏蔽词扫描，
以及外部安全分类器。

屏蔽词命中时不调用分类器。分类器出错时默认拒绝，
ModerationConfig.FailOpen 为 true 时放行。
*/
package moderation
