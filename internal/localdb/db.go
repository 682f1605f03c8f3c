// Package localdb - локальное версионированное хранилище записей с вторичными индексами поверх bbolt.
package localdb

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ButyrinIA/community/internal/apperr"
	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var (
	metaBucket = []byte("__meta")
	kvBucket   = []byte("__kv")
	versionKey = []byte("version")
)

var (
	registryMu sync.Mutex
	registry   = make(map[string]*DB)
)

// DB - разделяемое на процесс соединение с локальной базой
type DB struct {
	path   string
	bolt   *bolt.DB
	mu     sync.RWMutex
	schema Schema
	specs  map[string]CollectionSpec
	refs   int
}

// Open открывает (при первом обращении создает) базу по пути. Повторный Open
// того же пути возвращает тот же дескриптор.
func Open(path string, schema Schema) (*DB, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if db, ok := registry[abs]; ok {
		if v := db.version(); schema.Version < v {
			return nil, fmt.Errorf("%w: schema version %d is lower than stored %d", apperr.ErrStorageUnavailable, schema.Version, v)
		}
		if schema.Version > db.version() {
			if err := db.migrate(schema); err != nil {
				return nil, err
			}
		}
		db.refs++
		return db, nil
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	b, err := bolt.Open(abs, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", apperr.ErrStorageUnavailable, abs, err)
	}

	db := &DB{path: abs, bolt: b, refs: 1}
	if err := db.migrate(schema); err != nil {
		b.Close()
		return nil, err
	}
	registry[abs] = db
	return db, nil
}

// Close освобождает ссылку; файл закрывается, когда ссылок не осталось
func (db *DB) Close() error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if db.refs <= 0 {
		return nil
	}
	db.refs--
	if db.refs > 0 {
		return nil
	}
	delete(registry, db.path)
	return db.bolt.Close()
}

func (db *DB) Path() string {
	return db.path
}

func (db *DB) version() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.schema.Version
}

func (db *DB) migrate(schema Schema) error {
	var stored int
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(kvBucket); err != nil {
			return err
		}
		if v := meta.Get(versionKey); len(v) == 8 {
			stored = int(binary.BigEndian.Uint64(v))
		}
		if schema.Version < stored {
			return fmt.Errorf("schema version %d is lower than stored %d", schema.Version, stored)
		}

		for _, spec := range schema.Collections {
			records, err := tx.CreateBucketIfNotExists([]byte(spec.Name))
			if err != nil {
				return err
			}
			for _, idx := range spec.Indexes {
				name := indexBucket(spec.Name, idx.Name)
				if tx.Bucket(name) != nil {
					continue
				}
				bucket, err := tx.CreateBucket(name)
				if err != nil {
					return err
				}
				if err := backfillIndex(records, bucket, idx); err != nil {
					return fmt.Errorf("backfill %s.%s: %w", spec.Name, idx.Name, err)
				}
			}
		}

		if schema.Version > stored {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(schema.Version))
			return meta.Put(versionKey, buf)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: migrate: %v", apperr.ErrStorageUnavailable, err)
	}

	if schema.Version > stored {
		log.WithFields(log.Fields{
			"path": db.path,
			"from": stored,
			"to":   schema.Version,
		}).Info("Обновление схемы локальной базы")
	}

	specs := make(map[string]CollectionSpec, len(schema.Collections))
	for _, spec := range schema.Collections {
		specs[spec.Name] = spec
	}
	db.mu.Lock()
	db.schema = schema
	db.specs = specs
	db.mu.Unlock()
	return nil
}

func backfillIndex(records, bucket *bolt.Bucket, idx IndexSpec) error {
	return records.ForEach(func(pk, raw []byte) error {
		doc, err := decodeDoc(raw)
		if err != nil {
			return err
		}
		return putIndexEntry(bucket, idx, doc, pk)
	})
}

func (db *DB) spec(collection string) (CollectionSpec, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	spec, ok := db.specs[collection]
	if !ok {
		return CollectionSpec{}, fmt.Errorf("%w: unknown collection %q", apperr.ErrNotFound, collection)
	}
	return spec, nil
}

func toDoc(record any) (map[string]any, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	return decodeDoc(raw)
}

func decodeDoc(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// lookupPath поддерживает вложенные пути вида "author.id"
func lookupPath(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

func putIndexEntry(bucket *bolt.Bucket, idx IndexSpec, doc map[string]any, pk []byte) error {
	val, ok := lookupPath(doc, idx.KeyPath)
	if !ok {
		return nil
	}
	enc, err := encodeKey(val)
	if err != nil {
		// значения, которые нельзя использовать как ключ, в индекс не попадают
		return nil
	}
	if idx.Unique {
		c := bucket.Cursor()
		if k, _ := c.Seek(enc); k != nil && bytes.HasPrefix(k, enc) && !bytes.Equal(k[len(enc):], pk) {
			return fmt.Errorf("%w: duplicate value for unique index %q", apperr.ErrConstraint, idx.Name)
		}
	}
	return bucket.Put(indexEntry(enc, pk), pk)
}

func deleteIndexEntry(bucket *bolt.Bucket, idx IndexSpec, doc map[string]any, pk []byte) error {
	val, ok := lookupPath(doc, idx.KeyPath)
	if !ok {
		return nil
	}
	enc, err := encodeKey(val)
	if err != nil {
		return nil
	}
	return bucket.Delete(indexEntry(enc, pk))
}

// putTx пишет запись и все ее индексы в одной транзакции
func putTx(tx *bolt.Tx, spec CollectionSpec, doc map[string]any, mustNotExist bool) (any, error) {
	records := tx.Bucket([]byte(spec.Name))
	if records == nil {
		return nil, fmt.Errorf("%w: collection %q is not created", apperr.ErrTransactionFailed, spec.Name)
	}

	key, ok := lookupPath(doc, spec.KeyPath)
	if !ok || key == "" {
		if !spec.AutoIncrement {
			return nil, apperr.Validation("record has no %q key", spec.KeyPath)
		}
		seq, err := records.NextSequence()
		if err != nil {
			return nil, err
		}
		key = int64(seq)
		doc[spec.KeyPath] = key
	}
	pk, err := encodeKey(key)
	if err != nil {
		return nil, apperr.Validation("bad key: %v", err)
	}

	if old := records.Get(pk); old != nil {
		if mustNotExist {
			return nil, fmt.Errorf("%w: key %v already exists in %q", apperr.ErrConstraint, key, spec.Name)
		}
		oldDoc, err := decodeDoc(old)
		if err != nil {
			return nil, err
		}
		for _, idx := range spec.Indexes {
			if err := deleteIndexEntry(tx.Bucket(indexBucket(spec.Name, idx.Name)), idx, oldDoc, pk); err != nil {
				return nil, err
			}
		}
	}

	for _, idx := range spec.Indexes {
		if err := putIndexEntry(tx.Bucket(indexBucket(spec.Name, idx.Name)), idx, doc, pk); err != nil {
			return nil, err
		}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if err := records.Put(pk, raw); err != nil {
		return nil, err
	}

	decoded, err := decodeKey(pk)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

func txError(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.IsKnown(err) {
		return fmt.Errorf("%s %s: %w", op, collection, err)
	}
	return fmt.Errorf("%s %s: %w: %v", op, collection, apperr.ErrTransactionFailed, err)
}
