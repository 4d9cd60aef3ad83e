package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equity-bar-ingestor/internal/service"
)

func managerWith(t *testing.T, fileContent *string, fallback string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session_token.txt")
	if fileContent != nil {
		require.NoError(t, os.WriteFile(path, []byte(*fileContent), 0o600))
	}
	return NewManager(&service.FeedConfig{
		TokenFilePath: path,
		SessionToken:  fallback,
	})
}

func strp(s string) *string { return &s }

func TestOverrideTakesPrecedence(t *testing.T) {
	m := managerWith(t, strp("  tok-from-file\n"), "tok-fallback")

	token, source, err := m.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "tok-from-file", token) // 去掉空白
	assert.Equal(t, SourceOverride, source)
}

func TestFallbackWhenFileMissing(t *testing.T) {
	m := managerWith(t, nil, "tok-fallback")

	token, source, err := m.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "tok-fallback", token)
	assert.Equal(t, SourceFallback, source)
}

func TestEmptyFileFallsThrough(t *testing.T) {
	m := managerWith(t, strp("   \n"), "tok-fallback")

	token, source, err := m.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "tok-fallback", token)
	assert.Equal(t, SourceFallback, source)
}

func TestCredentialMissing(t *testing.T) {
	m := managerWith(t, nil, "")

	_, _, err := m.Resolve()
	assert.ErrorIs(t, err, service.ErrCredentialMissing)
}

func TestNoCachingBetweenResolves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_token.txt")
	m := NewManager(&service.FeedConfig{TokenFilePath: path, SessionToken: "old"})

	token, _, err := m.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "old", token)

	// 运维写入新 token 后，下一次解析立即看到新值
	require.NoError(t, os.WriteFile(path, []byte("rotated"), 0o600))
	token, source, err := m.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "rotated", token)
	assert.Equal(t, SourceOverride, source)
}
