package cache

import (
	"context"
	"testing"
	"time"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisKV(t *testing.T) {
	if testing.Short() {
		t.Skip("Тест с контейнером Redis пропущен в режиме -short")
	}

	ctx := context.Background()
	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7.4-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Не удалось запустить контейнер Redis: %v", err)
	}
	defer redisC.Terminate(ctx)

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)

	kv, err := NewRedisKV(ctx, host+":"+port.Port(), "session", time.Hour)
	require.NoError(t, err)
	defer kv.Close()

	t.Run("Get missing key", func(t *testing.T) {
		_, err := kv.Get(ctx, "auth_token")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("Set, Get, Delete", func(t *testing.T) {
		require.NoError(t, kv.Set(ctx, "auth_token", "tok"))
		require.NoError(t, kv.Set(ctx, "auth_user", `{"id":"u1"}`))

		v, err := kv.Get(ctx, "auth_token")
		require.NoError(t, err)
		assert.Equal(t, "tok", v)

		require.NoError(t, kv.Delete(ctx, "auth_token", "auth_user", "missing"))
		_, err = kv.Get(ctx, "auth_user")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("Expiration", func(t *testing.T) {
		short, err := NewRedisKV(ctx, host+":"+port.Port(), "codes", time.Second)
		require.NoError(t, err)
		defer short.Close()

		require.NoError(t, short.Set(ctx, "+79990001122", "123456"))
		assert.Eventually(t, func() bool {
			_, err := short.Get(ctx, "+79990001122")
			return err != nil
		}, 5*time.Second, 100*time.Millisecond)
	})

	t.Run("Unavailable server", func(t *testing.T) {
		_, err := NewRedisKV(ctx, "127.0.0.1:1", "session", 0)
		assert.ErrorIs(t, err, apperr.ErrStorageUnavailable)
	})
}
