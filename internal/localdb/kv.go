package localdb

import (
	"context"
	"fmt"

	"github.com/ButyrinIA/community/internal/apperr"
	bolt "go.etcd.io/bbolt"
)

// KV - строковое хранилище ключ-значение в служебном бакете базы
type KV struct {
	db *DB
}

func (db *DB) KV() *KV {
	return &KV{db: db}
}

// Get возвращает значение или ErrNotFound
func (kv *KV) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var (
		value string
		found bool
	)
	err := kv.db.bolt.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(kvBucket).Get([]byte(key)); v != nil {
			value, found = string(v), true
		}
		return nil
	})
	if err != nil {
		return "", txError("kv get", key, err)
	}
	if !found {
		return "", fmt.Errorf("kv %s: %w", key, apperr.ErrNotFound)
	}
	return value, nil
}

func (kv *KV) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := kv.db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(kvBucket).Put([]byte(key), []byte(value))
	})
	return txError("kv set", key, err)
}

// Delete удаляет ключи; отсутствующие ключи не считаются ошибкой
func (kv *KV) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := kv.db.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(kvBucket)
		for _, key := range keys {
			if err := b.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
	return txError("kv delete", "__kv", err)
}
