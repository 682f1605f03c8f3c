package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ButyrinIA/community/internal/api"
	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/models"
	"github.com/ButyrinIA/community/internal/service"
	"github.com/ButyrinIA/community/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ storage.Storage = (*RemoteStorage)(nil)

func ok(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

// fakeBackend - минимальный сервер с одним постом и постами автора на трех страницах
type fakeBackend struct {
	mu    sync.Mutex
	likes int
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /posts/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "p1" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "Post not found"})
			return
		}
		b.mu.Lock()
		likes := b.likes
		b.mu.Unlock()
		ok(w, service.PostDto{ID: "p1", Content: "текст", LikesCount: likes})
	})
	mux.HandleFunc("POST /posts/{id}/like", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.likes++
		b.mu.Unlock()
		ok(w, nil)
	})
	mux.HandleFunc("GET /users/{id}/posts", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		const total = 3
		var data []service.PostDto
		if page < total {
			data = []service.PostDto{{ID: "a" + strconv.Itoa(page), Author: service.UserDto{ID: r.PathValue("id")}}}
		}
		res := service.NewPage(data, page, 1, total)
		res.Limit = limit
		ok(w, res)
	})
	mux.HandleFunc("GET /posts", func(w http.ResponseWriter, r *http.Request) {
		ok(w, service.NewPage([]service.PostDto{{ID: "p1"}}, 0, 10, 1))
	})
	mux.HandleFunc("POST /posts/{id}/comments", func(w http.ResponseWriter, r *http.Request) {
		var req service.CreateCommentRequest
		json.NewDecoder(r.Body).Decode(&req)
		ok(w, service.CommentDto{ID: "c1", Content: req.Content, ParentID: req.ParentID})
	})
	return mux
}

func newStorage(t *testing.T) (*RemoteStorage, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{likes: 4}
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)
	return New(service.New(api.New(srv.URL, time.Second, nil))), backend
}

func TestRemoteStorage(t *testing.T) {
	ctx := context.Background()
	store, _ := newStorage(t)
	defer store.Close()

	t.Run("LikePost returns server counter", func(t *testing.T) {
		post, err := store.LikePost(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 5, post.Likes)
		assert.Equal(t, models.SourceRemote, post.Source)

		post, err = store.LikePost(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 6, post.Likes)
	})

	t.Run("GetPost missing", func(t *testing.T) {
		_, err := store.GetPost(ctx, "nope")
		assert.ErrorIs(t, err, apperr.ErrRemote)
	})

	t.Run("ListPostsByAuthor walks all pages", func(t *testing.T) {
		posts, err := store.ListPostsByAuthor(ctx, "u7")
		require.NoError(t, err)
		require.Len(t, posts, 3)
		assert.Equal(t, []string{"a0", "a1", "a2"}, []string{posts[0].ID, posts[1].ID, posts[2].ID})
		assert.Equal(t, "u7", posts[0].Author.ID)
	})

	t.Run("ListPosts", func(t *testing.T) {
		res, err := store.ListPosts(ctx, models.ListParams{})
		require.NoError(t, err)
		require.Len(t, res.Posts, 1)
		assert.False(t, res.HasMore)

		res, err = store.ListPosts(ctx, models.ListParams{AuthorID: "u7", Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, "a0", res.Posts[0].ID)
		assert.True(t, res.HasMore)
	})

	t.Run("AddComment", func(t *testing.T) {
		parent := "c0"
		c, err := store.AddComment(ctx, "p1", models.CommentInput{Content: "ответ", ParentID: &parent})
		require.NoError(t, err)
		assert.Equal(t, "p1", c.PostID)
		require.NotNil(t, c.ParentID)
		assert.Equal(t, "c0", *c.ParentID)

		_, err = store.AddComment(ctx, "p1", models.CommentInput{Content: "  "})
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})
}
