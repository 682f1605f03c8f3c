package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/config"
	"github.com/ButyrinIA/community/internal/localdb"
	"github.com/ButyrinIA/community/internal/models"
	"github.com/ButyrinIA/community/internal/server"
	"github.com/ButyrinIA/community/internal/storage/local"
	"github.com/ButyrinIA/community/internal/storage/memory"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// devServer поднимает сервер разработки на временной базе
func devServer(t *testing.T) string {
	t.Helper()
	db, err := localdb.Open(filepath.Join(t.TempDir(), "server.db"), server.Schema())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	ts := httptest.NewServer(server.New(cfg, local.NewWithDB(db), db, nil).Handler())
	t.Cleanup(ts.Close)
	return ts.URL + "/v1"
}

func clientConfig(t *testing.T, backend, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Backend = backend
	cfg.Storage.Path = filepath.Join(t.TempDir(), "client.db")
	if baseURL != "" {
		cfg.API.BaseURL = baseURL
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func runCmd(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), cfg, &out, args)
	return out.String(), err
}

func TestRemoteFlow(t *testing.T) {
	hook := logtest.NewGlobal()
	t.Cleanup(hook.Reset)
	cfg := clientConfig(t, config.BackendRemote, devServer(t))

	out, err := runCmd(t, cfg, "restore")
	require.NoError(t, err)
	assert.Contains(t, out, "anonymous")

	_, err = runCmd(t, cfg, "post", "-content", "без входа")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	out, err = runCmd(t, cfg, "login", "-phone", "13812345678")
	require.NoError(t, err)
	assert.Contains(t, out, "Код отправлен")

	var code string
	for _, e := range hook.AllEntries() {
		if c, ok := e.Data["code"].(string); ok && e.Data["phone"] == "13812345678" {
			code = c
		}
	}
	require.NotEmpty(t, code, "Сервер пишет код в лог")

	out, err = runCmd(t, cfg, "login", "-phone", "13812345678", "-code", code)
	require.NoError(t, err)
	assert.Contains(t, out, "用户5678")

	out, err = runCmd(t, cfg, "restore")
	require.NoError(t, err)
	assert.Contains(t, out, "authenticated", "Сессия переживает перезапуск")

	out, err = runCmd(t, cfg, "post", "-content", "Привет из консоли", "-tags", "go, cli")
	require.NoError(t, err)
	assert.Contains(t, out, "Опубликовано: 1")

	out, err = runCmd(t, cfg, "feed")
	require.NoError(t, err)
	assert.Contains(t, out, "Привет из консоли")
	assert.NotContains(t, out, "使用离线数据")

	out, err = runCmd(t, cfg, "like", "-id", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "applied: лайков 1")

	out, err = runCmd(t, cfg, "comment", "-id", "1", "-text", "Первый")
	require.NoError(t, err)
	assert.Contains(t, out, "applied: комментариев 1")

	out, err = runCmd(t, cfg, "comment", "-id", "1", "-text", "   ")
	require.NoError(t, err)
	assert.Contains(t, out, "ignored")

	out, err = runCmd(t, cfg, "follow", "-id", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "failed", "На себя подписаться нельзя")

	out, err = runCmd(t, cfg, "tags")
	require.NoError(t, err)
	assert.Contains(t, out, "go")

	_, err = runCmd(t, cfg, "logout")
	require.NoError(t, err)
	out, err = runCmd(t, cfg, "restore")
	require.NoError(t, err)
	assert.Contains(t, out, "anonymous")
}

func TestOfflineFallback(t *testing.T) {
	srv := httptest.NewServer(nil)
	baseURL := srv.URL + "/v1"
	srv.Close()
	cfg := clientConfig(t, config.BackendRemote, baseURL)

	out, err := runCmd(t, cfg, "feed")
	require.NoError(t, err)
	assert.Contains(t, out, "使用离线数据")

	out, err = runCmd(t, cfg, "tags")
	require.NoError(t, err)
	assert.Contains(t, out, memory.FallbackTags[0])
}

func TestLocalBackend(t *testing.T) {
	cfg := clientConfig(t, config.BackendLocal, "")

	out, err := runCmd(t, cfg, "post", "-title", "Локальный", "-content", "Офлайн пост", "-video", "clip.mp4")
	require.NoError(t, err)
	assert.Contains(t, out, "Опубликовано: 1")

	out, err = runCmd(t, cfg, "like", "-id", "1", "-favorite")
	require.NoError(t, err)
	assert.Contains(t, out, "в избранном 1")

	out, err = runCmd(t, cfg, "comment", "-id", "1", "-text", "Сам себе")
	require.NoError(t, err)
	assert.Contains(t, out, "applied")

	out, err = runCmd(t, cfg, "profile", "-author", "匿名用户")
	require.NoError(t, err)
	assert.Contains(t, out, "Локальный")
	assert.Contains(t, out, "▶")

	_, err = runCmd(t, cfg, "follow", "-id", "1")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = runCmd(t, cfg, "like", "-id", "42")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = runCmd(t, cfg, "unknown")
	assert.Error(t, err)
}

func TestStoreActions(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	post, err := store.CreatePost(ctx, models.PostInput{Content: "Пост", Author: models.Author{Nickname: "Аня"}})
	require.NoError(t, err)

	actions := storeActions{store: store}
	require.NoError(t, actions.Like(ctx, post.ID))
	require.NoError(t, actions.Favorite(ctx, post.ID))
	require.NoError(t, actions.Unlike(ctx, post.ID))
	require.NoError(t, actions.Unlike(ctx, post.ID))

	got, err := store.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Likes, "Счетчик не уходит ниже нуля")
	assert.Equal(t, 1, got.Favorites)

	assert.ErrorIs(t, actions.Follow(ctx, "u1"), apperr.ErrValidation)

	comments := storeComments{store: store, author: func() models.Author { return models.Author{Nickname: "Гость"} }}
	c, err := comments.Add(ctx, post.ID, models.CommentInput{Content: "Привет"})
	require.NoError(t, err)
	assert.Equal(t, "Гость", c.Author.Nickname)
}
