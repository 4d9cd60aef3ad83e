package service

import "errors"

// 采集链路的错误分类。除启动期配置错误外，任何一类都不允许终止进程：
// 要么按会话窗口重试，要么降级使用旧数据，要么丢弃并计数。
var (
	// ErrCredentialMissing override 文件和静态兜底 token 都不存在
	ErrCredentialMissing = errors.New("auth: session credential missing")

	// ErrAuthRejected 行情源拒绝了当前 token，等待下一个会话窗口
	ErrAuthRejected = errors.New("feed: authentication rejected")

	// ErrDirectoryUnavailable 主文件缓存和远端都不可用
	ErrDirectoryUnavailable = errors.New("directory: master file unavailable")

	// ErrSinkUnavailable 下游推送失败（有限重试后丢弃，不致命）
	ErrSinkUnavailable = errors.New("sink: ingest endpoint unavailable")
)
