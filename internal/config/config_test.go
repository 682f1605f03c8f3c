package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Missing file gives defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "8080", cfg.Server.Port)
		assert.Equal(t, BackendLocal, cfg.Storage.Backend)
		assert.Equal(t, 60, cfg.Upload.PollAttempts)
		assert.Equal(t, 2*time.Second, cfg.Upload.PollInterval)
	})

	t.Run("File overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: "9090"
api:
  base_url: http://localhost:9090/v1
  timeout: 3s
storage:
  backend: remote
upload:
  poll_attempts: 5
  poll_interval: 500ms
log:
  level: debug
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "9090", cfg.Server.Port)
		assert.Equal(t, "http://localhost:9090/v1", cfg.API.BaseURL)
		assert.Equal(t, 3*time.Second, cfg.API.Timeout)
		assert.Equal(t, BackendRemote, cfg.Storage.Backend)
		assert.Equal(t, 5, cfg.Upload.PollAttempts)
		assert.Equal(t, 500*time.Millisecond, cfg.Upload.PollInterval)
		assert.Equal(t, "community.db", cfg.Storage.Path, "Незаданные поля сохраняют значения по умолчанию")
	})

	t.Run("Environment wins", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://user:password@db/posts")
		t.Setenv("JWT_SECRET", "s3cret")
		path := writeConfig(t, "storage:\n  backend: postgres\n")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "postgres://user:password@db/posts", cfg.Postgres.DSN)
		assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	})

	t.Run("Validation", func(t *testing.T) {
		for name, body := range map[string]string{
			"postgres without dsn": "storage:\n  backend: postgres\n",
			"unknown backend":      "storage:\n  backend: sqlite\n",
			"redis without addr":   "session:\n  store: redis\n",
			"bad base url":         "api:\n  base_url: ftp://example\n",
			"bad log level":        "log:\n  level: loud\n",
		} {
			_, err := Load(writeConfig(t, body))
			assert.ErrorIs(t, err, apperr.ErrValidation, name)
		}
	})

	t.Run("Broken yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server: [\n"))
		assert.Error(t, err)
	})
}
