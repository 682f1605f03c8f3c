package localdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ButyrinIA/community/internal/apperr"
	bolt "go.etcd.io/bbolt"
)

// Put вставляет или заменяет запись и возвращает ее первичный ключ
func (db *DB) Put(ctx context.Context, collection string, record any) (any, error) {
	return db.put(ctx, collection, record, false)
}

// Add вставляет запись; существующий ключ - ошибка
func (db *DB) Add(ctx context.Context, collection string, record any) (any, error) {
	return db.put(ctx, collection, record, true)
}

func (db *DB) put(ctx context.Context, collection string, record any, mustNotExist bool) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	spec, err := db.spec(collection)
	if err != nil {
		return nil, err
	}
	doc, err := toDoc(record)
	if err != nil {
		return nil, apperr.Validation("encode record: %v", err)
	}

	var key any
	err = db.bolt.Update(func(tx *bolt.Tx) error {
		k, err := putTx(tx, spec, doc, mustNotExist)
		key = k
		return err
	})
	if err != nil {
		return nil, txError("put", collection, err)
	}
	return key, nil
}

// Get декодирует запись с ключом key в dst
func (db *DB) Get(ctx context.Context, collection string, key any, dst any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := db.spec(collection); err != nil {
		return err
	}
	pk, err := encodeKey(key)
	if err != nil {
		return apperr.Validation("bad key: %v", err)
	}

	var raw []byte
	err = db.bolt.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(collection)).Get(pk); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return txError("get", collection, err)
	}
	if raw == nil {
		return fmt.Errorf("%s %v: %w", collection, key, apperr.ErrNotFound)
	}
	return json.Unmarshal(raw, dst)
}

// Delete удаляет запись вместе с ее индексами
func (db *DB) Delete(ctx context.Context, collection string, key any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	spec, err := db.spec(collection)
	if err != nil {
		return err
	}
	pk, err := encodeKey(key)
	if err != nil {
		return apperr.Validation("bad key: %v", err)
	}

	err = db.bolt.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket([]byte(collection))
		old := records.Get(pk)
		if old == nil {
			return fmt.Errorf("%v: %w", key, apperr.ErrNotFound)
		}
		doc, err := decodeDoc(old)
		if err != nil {
			return err
		}
		for _, idx := range spec.Indexes {
			if err := deleteIndexEntry(tx.Bucket(indexBucket(collection, idx.Name)), idx, doc, pk); err != nil {
				return err
			}
		}
		return records.Delete(pk)
	})
	return txError("delete", collection, err)
}

// GetMany читает набор ключей в одной транзакции; отсутствующим ключам соответствует nil
func GetMany[T any](ctx context.Context, db *DB, collection string, keys []any) ([]*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := db.spec(collection); err != nil {
		return nil, err
	}

	out := make([]*T, len(keys))
	err := db.bolt.View(func(tx *bolt.Tx) error {
		records := tx.Bucket([]byte(collection))
		for i, key := range keys {
			pk, err := encodeKey(key)
			if err != nil {
				continue
			}
			raw := records.Get(pk)
			if raw == nil {
				continue
			}
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			out[i] = &v
		}
		return nil
	})
	if err != nil {
		return nil, txError("get many", collection, err)
	}
	return out, nil
}

// Update атомарно читает, изменяет и сохраняет запись в одной транзакции записи.
// Индексы пересчитываются вместе с записью.
func Update[T any](ctx context.Context, db *DB, collection string, key any, mutate func(*T) error) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	spec, err := db.spec(collection)
	if err != nil {
		return nil, err
	}
	pk, err := encodeKey(key)
	if err != nil {
		return nil, apperr.Validation("bad key: %v", err)
	}

	var result T
	err = db.bolt.Update(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(collection)).Get(pk)
		if raw == nil {
			return fmt.Errorf("%v: %w", key, apperr.ErrNotFound)
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return err
		}
		if err := mutate(&result); err != nil {
			return err
		}
		doc, err := toDoc(&result)
		if err != nil {
			return err
		}
		newKey, ok := lookupPath(doc, spec.KeyPath)
		if !ok {
			return apperr.Validation("update removed key %q", spec.KeyPath)
		}
		if enc, err := encodeKey(newKey); err != nil || string(enc) != string(pk) {
			return apperr.Validation("update must not change key %q", spec.KeyPath)
		}
		_, err = putTx(tx, spec, doc, false)
		return err
	})
	if err != nil {
		return nil, txError("update", collection, err)
	}
	return &result, nil
}
