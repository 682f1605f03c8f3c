package localdb

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPost struct {
	ID        int64  `json:"id,omitempty"`
	AuthorID  string `json:"authorId"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Likes     int    `json:"likes"`
}

type testUser struct {
	ID       int64  `json:"id,omitempty"`
	Username string `json:"username"`
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "app.db"), DefaultSchema())
	require.NoError(t, err, "Не удалось открыть локальную базу")
	t.Cleanup(func() { db.Close() })
	return db
}

func collect(t *testing.T, cur *Cursor) []testPost {
	t.Helper()
	var out []testPost
	for cur.Next() {
		var p testPost
		require.NoError(t, cur.Decode(&p))
		out = append(out, p)
	}
	require.NoError(t, cur.Err())
	return out
}

func TestOpen(t *testing.T) {
	t.Run("Same path returns same handle", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.db")
		db1, err := Open(path, DefaultSchema())
		require.NoError(t, err)
		db2, err := Open(path, DefaultSchema())
		require.NoError(t, err)
		assert.Same(t, db1, db2, "Ожидался общий дескриптор")

		assert.NoError(t, db1.Close())
		// после первого Close дескриптор еще жив
		_, err = db2.Put(context.Background(), CollectionPosts, testPost{Title: "x"})
		assert.NoError(t, err)
		assert.NoError(t, db2.Close())
	})

	t.Run("Lower schema version fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.db")
		schema := DefaultSchema()
		schema.Version = 2
		db, err := Open(path, schema)
		require.NoError(t, err)
		require.NoError(t, db.Close())

		_, err = Open(path, DefaultSchema())
		assert.ErrorIs(t, err, apperr.ErrStorageUnavailable)
	})

	t.Run("Lower schema version fails on open handle", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.db")
		schema := DefaultSchema()
		schema.Version = 2
		db, err := Open(path, schema)
		require.NoError(t, err)

		_, err = Open(path, DefaultSchema())
		assert.ErrorIs(t, err, apperr.ErrStorageUnavailable)

		// отказ не добавляет ссылку: один Close закрывает файл
		require.NoError(t, db.Close())
		reopened, err := Open(path, schema)
		require.NoError(t, err)
		assert.NotSame(t, db, reopened)
		require.NoError(t, reopened.Close())
	})

	t.Run("Extra Close is a no-op", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.db")
		db, err := Open(path, DefaultSchema())
		require.NoError(t, err)
		require.NoError(t, db.Close())
		assert.NoError(t, db.Close(), "Повторный Close не должен закрывать файл второй раз")

		again, err := Open(path, DefaultSchema())
		require.NoError(t, err)
		defer again.Close()
		_, err = again.Put(context.Background(), CollectionPosts, testPost{Title: "x"})
		assert.NoError(t, err)
	})

	t.Run("New index is backfilled", func(t *testing.T) {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "app.db")
		db, err := Open(path, DefaultSchema())
		require.NoError(t, err)
		_, err = db.Put(ctx, CollectionPosts, testPost{Title: "b", Likes: 2})
		require.NoError(t, err)
		_, err = db.Put(ctx, CollectionPosts, testPost{Title: "a", Likes: 1})
		require.NoError(t, err)
		require.NoError(t, db.Close())

		schema := DefaultSchema()
		schema.Version = 2
		schema.Collections[0].Indexes = append(schema.Collections[0].Indexes, IndexSpec{Name: "likes", KeyPath: "likes"})
		db, err = Open(path, schema)
		require.NoError(t, err)
		defer db.Close()

		posts := collect(t, db.ScanByIndex(ctx, CollectionPosts, "likes", ScanOptions{}))
		require.Len(t, posts, 2)
		assert.Equal(t, "a", posts[0].Title)
		assert.Equal(t, "b", posts[1].Title)
	})
}

func TestRecords(t *testing.T) {
	ctx := context.Background()

	t.Run("Put assigns keys and Get reads back", func(t *testing.T) {
		db := openTestDB(t)
		key, err := db.Put(ctx, CollectionPosts, testPost{Title: "Первый"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), key)

		var got testPost
		require.NoError(t, db.Get(ctx, CollectionPosts, key, &got))
		assert.Equal(t, "Первый", got.Title)
		assert.Equal(t, int64(1), got.ID)
	})

	t.Run("Get missing key", func(t *testing.T) {
		db := openTestDB(t)
		var got testPost
		err := db.Get(ctx, CollectionPosts, int64(42), &got)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("Add rejects existing key", func(t *testing.T) {
		db := openTestDB(t)
		key, err := db.Add(ctx, CollectionPosts, testPost{Title: "a"})
		require.NoError(t, err)
		_, err = db.Add(ctx, CollectionPosts, testPost{ID: key.(int64), Title: "b"})
		assert.ErrorIs(t, err, apperr.ErrConstraint)
		assert.ErrorIs(t, err, apperr.ErrTransactionFailed)
	})

	t.Run("Unique index conflict aborts write", func(t *testing.T) {
		db := openTestDB(t)
		_, err := db.Put(ctx, CollectionUsers, testUser{Username: "anna"})
		require.NoError(t, err)
		_, err = db.Put(ctx, CollectionUsers, testUser{Username: "anna"})
		assert.ErrorIs(t, err, apperr.ErrConstraint)

		// база остается рабочей после неудачной транзакции
		_, err = db.Put(ctx, CollectionUsers, testUser{Username: "boris"})
		assert.NoError(t, err)
	})

	t.Run("Replace keeps index consistent", func(t *testing.T) {
		db := openTestDB(t)
		key, err := db.Put(ctx, CollectionPosts, testPost{Type: "article", Title: "a"})
		require.NoError(t, err)
		_, err = db.Put(ctx, CollectionPosts, testPost{ID: key.(int64), Type: "video", Title: "a"})
		require.NoError(t, err)

		articles := collect(t, db.ScanByIndex(ctx, CollectionPosts, "type", ScanOptions{
			Filter: func(r *Record) bool {
				v, _ := r.Field("type")
				return v == "article"
			},
		}))
		assert.Empty(t, articles)
	})

	t.Run("Delete removes record", func(t *testing.T) {
		db := openTestDB(t)
		key, err := db.Put(ctx, CollectionPosts, testPost{Title: "a", Timestamp: 1})
		require.NoError(t, err)
		require.NoError(t, db.Delete(ctx, CollectionPosts, key))
		assert.Empty(t, collect(t, db.ScanByIndex(ctx, CollectionPosts, "timestamp", ScanOptions{})))
		assert.ErrorIs(t, db.Delete(ctx, CollectionPosts, key), apperr.ErrNotFound)
	})

	t.Run("GetMany reports missing keys", func(t *testing.T) {
		db := openTestDB(t)
		k1, _ := db.Put(ctx, CollectionUsers, testUser{Username: "a"})
		k2, _ := db.Put(ctx, CollectionUsers, testUser{Username: "b"})

		users, err := GetMany[testUser](ctx, db, CollectionUsers, []any{k2, int64(99), k1})
		require.NoError(t, err)
		require.Len(t, users, 3)
		assert.Equal(t, "b", users[0].Username)
		assert.Nil(t, users[1])
		assert.Equal(t, "a", users[2].Username)
	})

	t.Run("Unknown collection", func(t *testing.T) {
		db := openTestDB(t)
		_, err := db.Put(ctx, "orders", testPost{})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("Cancelled context", func(t *testing.T) {
		db := openTestDB(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := db.Put(cctx, CollectionPosts, testPost{})
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("Concurrent increments are not lost", func(t *testing.T) {
		db := openTestDB(t)
		key, err := db.Put(ctx, CollectionPosts, testPost{Title: "a"})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := Update(ctx, db, CollectionPosts, key, func(p *testPost) error {
					p.Likes++
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		var got testPost
		require.NoError(t, db.Get(ctx, CollectionPosts, key, &got))
		assert.Equal(t, 20, got.Likes)
	})

	t.Run("Mutation error leaves record unchanged", func(t *testing.T) {
		db := openTestDB(t)
		key, _ := db.Put(ctx, CollectionPosts, testPost{Title: "a", Likes: 3})
		_, err := Update(ctx, db, CollectionPosts, key, func(p *testPost) error {
			p.Likes = 100
			return apperr.Validation("stop")
		})
		assert.ErrorIs(t, err, apperr.ErrValidation)

		var got testPost
		require.NoError(t, db.Get(ctx, CollectionPosts, key, &got))
		assert.Equal(t, 3, got.Likes)
	})

	t.Run("Key change is rejected", func(t *testing.T) {
		db := openTestDB(t)
		key, _ := db.Put(ctx, CollectionPosts, testPost{Title: "a"})
		_, err := Update(ctx, db, CollectionPosts, key, func(p *testPost) error {
			p.ID = 77
			return nil
		})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("Missing record", func(t *testing.T) {
		db := openTestDB(t)
		_, err := Update(ctx, db, CollectionPosts, int64(5), func(p *testPost) error { return nil })
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestScanByIndex(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, db *DB) {
		for i, p := range []testPost{
			{Title: "t1", Timestamp: 100, Type: "article", AuthorID: "u1"},
			{Title: "t2", Timestamp: 200, Type: "video", AuthorID: "u2"},
			{Title: "t3", Timestamp: 300, Type: "article", AuthorID: "u1"},
			{Title: "t3b", Timestamp: 300, Type: "article", AuthorID: "u2"},
		} {
			_, err := db.Put(ctx, CollectionPosts, p)
			require.NoError(t, err, "запись %d", i)
		}
	}

	t.Run("Descending with ties by primary key", func(t *testing.T) {
		db := openTestDB(t)
		seed(t, db)
		posts := collect(t, db.ScanByIndex(ctx, CollectionPosts, "timestamp", ScanOptions{Direction: Descending}))
		var titles []string
		for _, p := range posts {
			titles = append(titles, p.Title)
		}
		assert.Equal(t, []string{"t3b", "t3", "t2", "t1"}, titles)
	})

	t.Run("Ascending primary order", func(t *testing.T) {
		db := openTestDB(t)
		seed(t, db)
		posts := collect(t, db.ScanByIndex(ctx, CollectionPosts, "", ScanOptions{}))
		require.Len(t, posts, 4)
		assert.Equal(t, "t1", posts[0].Title)
		assert.Equal(t, "t3b", posts[3].Title)
	})

	t.Run("Skip counts matching records", func(t *testing.T) {
		db := openTestDB(t)
		seed(t, db)
		cur := db.ScanByIndex(ctx, CollectionPosts, "timestamp", ScanOptions{
			Direction: Descending,
			Skip:      1,
			Limit:     1,
			Filter: func(r *Record) bool {
				v, _ := r.Field("authorId")
				return v == "u1"
			},
		})
		posts := collect(t, cur)
		require.Len(t, posts, 1)
		assert.Equal(t, "t1", posts[0].Title)
		assert.True(t, cur.Exhausted(), "Последняя запись индекса должна исчерпать курсор")
	})

	t.Run("Limit with more entries left", func(t *testing.T) {
		db := openTestDB(t)
		seed(t, db)
		cur := db.ScanByIndex(ctx, CollectionPosts, "timestamp", ScanOptions{Direction: Descending, Limit: 2})
		posts := collect(t, cur)
		assert.Len(t, posts, 2)
		assert.False(t, cur.Exhausted())
		assert.False(t, cur.Next(), "Курсор не перезапускается")
	})

	t.Run("Only one index value", func(t *testing.T) {
		db := openTestDB(t)
		seed(t, db)

		asc := collect(t, db.ScanByIndex(ctx, CollectionPosts, "authorId", ScanOptions{Only: "u1"}))
		require.Len(t, asc, 2)
		assert.Equal(t, "t1", asc[0].Title)
		assert.Equal(t, "t3", asc[1].Title)

		cur := db.ScanByIndex(ctx, CollectionPosts, "authorId", ScanOptions{Only: "u1", Direction: Descending, Limit: 2})
		desc := collect(t, cur)
		require.Len(t, desc, 2)
		assert.Equal(t, "t3", desc[0].Title)
		assert.True(t, cur.Exhausted(), "Следующее значение индекса не входит в диапазон")

		last := collect(t, db.ScanByIndex(ctx, CollectionPosts, "authorId", ScanOptions{Only: "u2", Direction: Descending}))
		require.Len(t, last, 2)
		assert.Equal(t, "t3b", last[0].Title)

		assert.Empty(t, collect(t, db.ScanByIndex(ctx, CollectionPosts, "authorId", ScanOptions{Only: "u9"})))
		assert.Len(t, collect(t, db.ScanByIndex(ctx, CollectionPosts, "timestamp", ScanOptions{Only: 300})), 2)

		bad := db.ScanByIndex(ctx, CollectionPosts, "", ScanOptions{Only: "u1"})
		assert.False(t, bad.Next())
		assert.Error(t, bad.Err())
	})

	t.Run("Empty collection", func(t *testing.T) {
		db := openTestDB(t)
		cur := db.ScanByIndex(ctx, CollectionPosts, "timestamp", ScanOptions{Limit: 10})
		assert.Empty(t, collect(t, cur))
		assert.True(t, cur.Exhausted())
	})

	t.Run("Unknown index", func(t *testing.T) {
		db := openTestDB(t)
		cur := db.ScanByIndex(ctx, CollectionPosts, "likes", ScanOptions{})
		assert.False(t, cur.Next())
		assert.ErrorIs(t, cur.Err(), apperr.ErrNotFound)
	})

	t.Run("Close releases the read transaction", func(t *testing.T) {
		db := openTestDB(t)
		seed(t, db)
		cur := db.ScanByIndex(ctx, CollectionPosts, "timestamp", ScanOptions{})
		require.True(t, cur.Next())
		cur.Close()
		_, err := db.Put(ctx, CollectionPosts, testPost{Title: "после"})
		assert.NoError(t, err)
	})

	t.Run("Cancelled between steps", func(t *testing.T) {
		db := openTestDB(t)
		seed(t, db)
		cctx, cancel := context.WithCancel(ctx)
		cur := db.ScanByIndex(cctx, CollectionPosts, "timestamp", ScanOptions{})
		require.True(t, cur.Next())
		cancel()
		assert.False(t, cur.Next())
		assert.ErrorIs(t, cur.Err(), context.Canceled)
	})
}

func TestKV(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	kv := db.KV()

	_, err := kv.Get(ctx, "auth_token")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, kv.Set(ctx, "auth_token", "abc"))
	require.NoError(t, kv.Set(ctx, "auth_user", `{"id":"1"}`))
	v, err := kv.Get(ctx, "auth_token")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	require.NoError(t, kv.Delete(ctx, "auth_token", "auth_user", "missing"))
	_, err = kv.Get(ctx, "auth_user")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
