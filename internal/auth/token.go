package auth

import (
	"os"
	"strings"

	"equity-bar-ingestor/internal/service"
)

// Manager 负责会话 token 的解析。
// 解析顺序：override 文件（非空即生效）→ 静态兜底 token → ErrCredentialMissing。
// 每次连接尝试都重新读取文件，不做任何跨尝试缓存，
// 因此运维轮换的新 token 在下一次会话开始时自动生效，无需重启进程。
// 文件变更不会回溯影响已建立的会话。
type Manager struct {
	overridePath string
	fallback     string
}

// TokenSource 标记 token 来自哪一级，用于日志
type TokenSource string

const (
	SourceOverride TokenSource = "override_file"
	SourceFallback TokenSource = "static_fallback"
)

// NewManager 创建 token 管理器
func NewManager(cfg *service.FeedConfig) *Manager {
	return &Manager{
		overridePath: cfg.TokenFilePath,
		fallback:     strings.TrimSpace(cfg.SessionToken),
	}
}

// Resolve 返回当前应使用的会话 token。
// override 文件不存在不是错误，只是落到下一级。
func (m *Manager) Resolve() (string, TokenSource, error) {
	if data, err := os.ReadFile(m.overridePath); err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token, SourceOverride, nil
		}
	}

	if m.fallback != "" {
		return m.fallback, SourceFallback, nil
	}

	return "", "", service.ErrCredentialMissing
}
