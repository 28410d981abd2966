package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[app]
name = "hive-test"
http_port = "9999"

[storage]
backend = "memory"

[auth]
jwt_secret = "file-secret"

[chat]
page_size = 10
typing_ttl = "8s"
notification_window = "2m"
`), 0o600))

	t.Setenv("HIVE_CONFIG", path)
	t.Setenv("PORT", "7000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "hive-test", cfg.App.Name)
	assert.Equal(t, "7000", cfg.App.HTTPPort)
	assert.Equal(t, "file-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 10, cfg.Chat.PageSize)
	assert.Equal(t, 100, cfg.Chat.MaxPageSize)
	assert.Equal(t, 8*time.Second, cfg.Chat.TypingTTL.Duration)
	assert.Equal(t, 2*time.Minute, cfg.Chat.NotificationWindow.Duration)
	assert.Equal(t, 2*time.Second, cfg.Chat.TypingIdle.Duration)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Setenv("HIVE_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate(), "jwt secret is mandatory")

	cfg.Auth.JWTSecret = "s"
	require.NoError(t, cfg.Validate())

	cfg.Storage.Backend = "postgres"
	require.Error(t, cfg.Validate())

	cfg.Storage.PostgresDSN = "postgres://localhost/hive"
	require.NoError(t, cfg.Validate())

	cfg.Storage.Backend = "mongo"
	require.Error(t, cfg.Validate())
}

func TestValidatePresenceTimings(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecret = "s"
	assert.Equal(t, 90*time.Second, cfg.Presence.TTL.Duration)

	cfg.Presence.Refresh = Duration{2 * time.Minute}
	require.Error(t, cfg.Validate())
}
