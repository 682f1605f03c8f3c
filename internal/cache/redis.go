// Package cache - хранилище ключ-значение в Redis для сессий и одноразовых кодов.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisKV хранит пары в одном хеше. Поля хеша истекают через expiration, если он задан.
type RedisKV struct {
	client     *redis.Client
	hash       string
	expiration time.Duration
}

// NewRedisKV подключается к Redis и проверяет соединение
func NewRedisKV(ctx context.Context, addr, hash string, expiration time.Duration) (*RedisKV, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, errors.Join(apperr.ErrStorageUnavailable, err))
	}
	return &RedisKV{client: client, hash: hash, expiration: expiration}, nil
}

func (kv *RedisKV) Get(ctx context.Context, key string) (string, error) {
	value, err := kv.client.HGet(ctx, kv.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("redis %s: %w", key, apperr.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, errors.Join(apperr.ErrStorageUnavailable, err))
	}
	return value, nil
}

func (kv *RedisKV) Set(ctx context.Context, key, value string) error {
	if err := kv.client.HSet(ctx, kv.hash, key, value).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, errors.Join(apperr.ErrStorageUnavailable, err))
	}
	if kv.expiration > 0 {
		if err := kv.client.HExpire(ctx, kv.hash, kv.expiration, key).Err(); err != nil {
			log.WithError(err).WithField("key", key).Warn("Не удалось задать срок жизни ключа")
		}
	}
	return nil
}

func (kv *RedisKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := kv.client.HDel(ctx, kv.hash, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", errors.Join(apperr.ErrStorageUnavailable, err))
	}
	return nil
}

func (kv *RedisKV) Close() error {
	return kv.client.Close()
}
