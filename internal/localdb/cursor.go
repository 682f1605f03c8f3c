package localdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/ButyrinIA/community/internal/apperr"
	bolt "go.etcd.io/bbolt"
)

type Direction int

const (
	Ascending Direction = iota
	Descending
)

// ScanOptions - параметры обхода индекса. Skip считает только записи,
// прошедшие Filter. Limit <= 0 означает обход до конца индекса.
// Only ограничивает обход записями с этим значением индекса.
type ScanOptions struct {
	Direction Direction
	Skip      int
	Limit     int
	Only      any
	Filter    func(*Record) bool
}

// Record - запись, полученная курсором
type Record struct {
	Key any
	Raw json.RawMessage

	doc map[string]any
}

func (r *Record) Decode(v any) error {
	return json.Unmarshal(r.Raw, v)
}

// Field возвращает значение поля по пути; документ разбирается один раз
func (r *Record) Field(path string) (any, bool) {
	if r.doc == nil {
		doc, err := decodeDoc(r.Raw)
		if err != nil {
			return nil, false
		}
		r.doc = doc
	}
	return lookupPath(r.doc, path)
}

// Cursor - ленивая, конечная, одноразовая последовательность записей в порядке индекса.
// Держит транзакцию чтения до исчерпания, достижения Limit или Close; пока курсор
// открыт, писать в базу из той же горутины нельзя.
type Cursor struct {
	ctx        context.Context
	db         *DB
	collection string
	index      string
	opts       ScanOptions

	tx      *bolt.Tx
	records *bolt.Bucket
	c       *bolt.Cursor
	k, v    []byte
	prefix  []byte

	started   bool
	done      bool
	exhausted bool
	skipped   int
	yielded   int
	cur       *Record
	err       error
}

// ScanByIndex создает курсор по индексу index коллекции; пустое имя индекса - обход по первичному ключу
func (db *DB) ScanByIndex(ctx context.Context, collection, index string, opts ScanOptions) *Cursor {
	cur := &Cursor{ctx: ctx, db: db, collection: collection, index: index, opts: opts}
	spec, err := db.spec(collection)
	if err != nil {
		cur.fail(err)
		return cur
	}
	if index != "" {
		if _, ok := spec.index(index); !ok {
			cur.fail(fmt.Errorf("%w: unknown index %q on %q", apperr.ErrNotFound, index, collection))
			return cur
		}
	}
	if opts.Only != nil {
		if index == "" {
			cur.fail(fmt.Errorf("%w: Only requires an index", apperr.ErrTransactionFailed))
			return cur
		}
		prefix, err := encodeKey(opts.Only)
		if err != nil {
			cur.fail(fmt.Errorf("%w: %v", apperr.ErrTransactionFailed, err))
			return cur
		}
		cur.prefix = prefix
	}
	return cur
}

func (c *Cursor) Next() bool {
	if c.done {
		return false
	}
	if !c.started {
		if !c.start() {
			return false
		}
	} else {
		c.advance()
	}

	for {
		if err := c.ctx.Err(); err != nil {
			c.fail(err)
			return false
		}
		if c.k == nil || !c.inRange() {
			c.exhausted = true
			c.finish()
			return false
		}

		pk, raw := c.entry()
		if raw == nil {
			c.advance()
			continue
		}
		key, err := decodeKey(pk)
		if err != nil {
			c.fail(fmt.Errorf("%w: %v", apperr.ErrTransactionFailed, err))
			return false
		}
		rec := &Record{Key: key, Raw: append(json.RawMessage(nil), raw...)}

		if c.opts.Filter != nil && !c.opts.Filter(rec) {
			c.advance()
			continue
		}
		if c.skipped < c.opts.Skip {
			c.skipped++
			c.advance()
			continue
		}

		c.yielded++
		c.cur = rec
		if c.opts.Limit > 0 && c.yielded >= c.opts.Limit {
			// заглядываем на одну позицию вперед, чтобы знать, исчерпан ли индекс
			c.advance()
			c.exhausted = c.k == nil || !c.inRange()
			c.finish()
		}
		return true
	}
}

func (c *Cursor) start() bool {
	c.started = true
	if err := c.ctx.Err(); err != nil {
		c.fail(err)
		return false
	}
	tx, err := c.db.bolt.Begin(false)
	if err != nil {
		c.fail(fmt.Errorf("%w: %v", apperr.ErrTransactionFailed, err))
		return false
	}
	c.tx = tx
	c.records = tx.Bucket([]byte(c.collection))

	bucket := c.records
	if c.index != "" {
		bucket = tx.Bucket(indexBucket(c.collection, c.index))
	}
	if bucket == nil || c.records == nil {
		c.fail(fmt.Errorf("%w: bucket for %s/%s is missing", apperr.ErrTransactionFailed, c.collection, c.index))
		return false
	}

	c.c = bucket.Cursor()
	switch {
	case c.prefix != nil && c.opts.Direction == Descending:
		// записи значения лежат между prefix и prefix+0xFF
		c.k, c.v = c.c.Seek(append(append([]byte(nil), c.prefix...), 0xFF))
		if c.k == nil {
			c.k, c.v = c.c.Last()
		} else {
			c.k, c.v = c.c.Prev()
		}
	case c.prefix != nil:
		c.k, c.v = c.c.Seek(c.prefix)
	case c.opts.Direction == Descending:
		c.k, c.v = c.c.Last()
	default:
		c.k, c.v = c.c.First()
	}
	return true
}

func (c *Cursor) inRange() bool {
	return c.prefix == nil || bytes.HasPrefix(c.k, c.prefix)
}

func (c *Cursor) advance() {
	if c.c == nil {
		return
	}
	if c.opts.Direction == Descending {
		c.k, c.v = c.c.Prev()
	} else {
		c.k, c.v = c.c.Next()
	}
}

func (c *Cursor) entry() (pk, raw []byte) {
	if c.index == "" {
		return c.k, c.v
	}
	return c.v, c.records.Get(c.v)
}

func (c *Cursor) finish() {
	c.done = true
	c.c = nil
	if c.tx != nil {
		c.tx.Rollback()
		c.tx = nil
	}
}

func (c *Cursor) fail(err error) {
	c.err = err
	c.finish()
}

// Record возвращает текущую запись после успешного Next
func (c *Cursor) Record() *Record {
	return c.cur
}

// Decode декодирует текущую запись
func (c *Cursor) Decode(v any) error {
	if c.cur == nil {
		return fmt.Errorf("%w: cursor has no current record", apperr.ErrNotFound)
	}
	return c.cur.Decode(v)
}

func (c *Cursor) Err() error {
	return c.err
}

// Exhausted сообщает, что обход дошел до конца индекса
func (c *Cursor) Exhausted() bool {
	return c.exhausted
}

// Close прерывает обход и освобождает транзакцию; повторный вызов безопасен
func (c *Cursor) Close() {
	c.finish()
}
