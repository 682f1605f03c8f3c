package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	t.Run("Default base URL", func(t *testing.T) {
		c := New("", 0, nil)
		assert.Equal(t, DefaultBaseURL, c.BaseURL())
	})

	t.Run("Unwraps envelope and sends bearer", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/posts", r.URL.Path)
			assert.Equal(t, "0", r.URL.Query().Get("page"))
			assert.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"id": "p1"}})
		}))
		defer srv.Close()

		c := New(srv.URL, time.Second, nil)
		c.SetToken("tkn")
		var out struct{ ID string }
		require.NoError(t, c.Get(ctx, "/posts", url.Values{"page": {"0"}}, &out))
		assert.Equal(t, "p1", out.ID)
	})

	t.Run("ClearToken removes header", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		}))
		defer srv.Close()

		c := New(srv.URL, time.Second, nil)
		c.SetToken("tkn")
		c.ClearToken()
		assert.NoError(t, c.Post(ctx, "/auth/logout", nil, nil))
	})

	t.Run("Success false is a remote error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "13800138000", body["phone"])
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "Invalid code"})
		}))
		defer srv.Close()

		c := New(srv.URL, time.Second, nil)
		err := c.Post(ctx, "/auth/sms/verify", map[string]string{"phone": "13800138000"}, nil)
		require.ErrorIs(t, err, apperr.ErrRemote)
		var remote *apperr.RemoteError
		require.True(t, errors.As(err, &remote))
		assert.Equal(t, "Invalid code", remote.Message)
	})

	t.Run("Non 2xx is a remote error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Post not found"})
		}))
		defer srv.Close()

		c := New(srv.URL, time.Second, nil)
		err := c.Delete(ctx, "/posts/1", nil)
		var remote *apperr.RemoteError
		require.True(t, errors.As(err, &remote))
		assert.Equal(t, http.StatusNotFound, remote.Status)
	})

	t.Run("401 publishes unauthorized", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		bus := events.New()
		defer bus.Close()
		var got atomic.Int32
		bus.Subscribe(events.TopicUnauthorized, func(events.Event) { got.Add(1) })

		c := New(srv.URL, time.Second, bus)
		err := c.Get(ctx, "/auth/me", nil, nil)
		assert.ErrorIs(t, err, apperr.ErrUnauthorized)
		assert.Eventually(t, func() bool { return got.Load() == 1 }, time.Second, 10*time.Millisecond)
	})

	t.Run("Upload reports progress", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			file, header, err := r.FormFile("video")
			if !assert.NoError(t, err) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			defer file.Close()
			data, _ := io.ReadAll(file)
			assert.Equal(t, "clip.mp4", header.Filename)
			assert.Len(t, data, 4096)
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"upload_id": "u1"}})
		}))
		defer srv.Close()

		var (
			mu       sync.Mutex
			progress []int
		)
		c := New(srv.URL, time.Second, nil)
		var out struct {
			UploadID string `json:"upload_id"`
		}
		err := c.Upload(ctx, "/upload/video", "video", "clip.mp4", strings.NewReader(strings.Repeat("x", 4096)), 4096, func(p int) {
			mu.Lock()
			progress = append(progress, p)
			mu.Unlock()
		}, &out)
		require.NoError(t, err)
		assert.Equal(t, "u1", out.UploadID)
		mu.Lock()
		defer mu.Unlock()
		require.NotEmpty(t, progress)
		assert.Equal(t, 100, progress[len(progress)-1])
	})
}
