// Package server - REST API для локальной разработки клиента: тот же контракт,
// что у боевого сервера, поверх локальной базы и репозитория постов.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ButyrinIA/community/internal/config"
	"github.com/ButyrinIA/community/internal/events"
	"github.com/ButyrinIA/community/internal/localdb"
	"github.com/ButyrinIA/community/internal/monitoring"
	"github.com/ButyrinIA/community/internal/session"
	"github.com/ButyrinIA/community/internal/storage"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	CollectionRelations     = "relations"
	CollectionNotifications = "notifications"

	apiPrefix = "/v1"
)

// Schema расширяет клиентскую схему коллекциями сервера
func Schema() localdb.Schema {
	schema := localdb.DefaultSchema()
	schema.Version = localdb.SchemaVersion + 1
	schema.Collections = append(schema.Collections,
		localdb.CollectionSpec{
			Name:    CollectionRelations,
			KeyPath: "id",
			Indexes: []localdb.IndexSpec{
				{Name: "target", KeyPath: "target"},
				{Name: "owner", KeyPath: "owner"},
			},
		},
		localdb.CollectionSpec{
			Name:          CollectionNotifications,
			KeyPath:       "id",
			AutoIncrement: true,
			Indexes: []localdb.IndexSpec{
				{Name: "userId", KeyPath: "userId"},
			},
		},
	)
	return schema
}

type Server struct {
	cfg      *config.Config
	store    storage.Storage
	db       *localdb.DB
	bus      *events.Bus
	codes    session.Store
	secret   []byte
	now      func() time.Time
	uploads  *uploadTracker
	upgrader websocket.Upgrader
	handler  http.Handler
}

type Option func(*Server)

// WithCodeStore задает хранилище SMS-кодов (по умолчанию KV локальной базы)
func WithCodeStore(codes session.Store) Option {
	return func(s *Server) { s.codes = codes }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New - db должна быть открыта со схемой Schema()
func New(cfg *config.Config, store storage.Storage, db *localdb.DB, bus *events.Bus, opts ...Option) *Server {
	if bus == nil {
		bus = events.New()
	}
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		log.Warn("JWT_SECRET не задан, используется ключ для разработки")
		secret = "dev-secret-key"
	}
	c := *cfg
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = config.Default().Auth.TokenTTL
	}
	if c.Auth.CodeTTL <= 0 {
		c.Auth.CodeTTL = config.Default().Auth.CodeTTL
	}
	s := &Server{
		cfg:     &c,
		store:   store,
		db:      db,
		bus:     bus,
		codes:   db.KV(),
		secret:  []byte(secret),
		now:     time.Now,
		uploads: newUploadTracker(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	p := func(pattern string) string {
		method, path, _ := strings.Cut(pattern, " ")
		return method + " " + apiPrefix + path
	}

	mux.HandleFunc(p("POST /auth/sms/send"), s.handleSendCode)
	mux.HandleFunc(p("POST /auth/sms/verify"), s.handleVerifyCode)
	mux.HandleFunc(p("GET /auth/me"), s.required(s.handleMe))
	mux.HandleFunc(p("POST /auth/logout"), s.required(s.handleLogout))

	mux.HandleFunc(p("GET /posts"), s.optional(s.handleListPosts))
	mux.HandleFunc(p("POST /posts"), s.required(s.handleCreatePost))
	mux.HandleFunc(p("GET /posts/{id}"), s.optional(s.handleGetPost))
	mux.HandleFunc(p("PUT /posts/{id}"), s.required(s.handleNotSupported))
	mux.HandleFunc(p("DELETE /posts/{id}"), s.required(s.handleNotSupported))
	mux.HandleFunc(p("POST /posts/{id}/like"), s.required(s.handleReaction(kindLike, true)))
	mux.HandleFunc(p("DELETE /posts/{id}/like"), s.required(s.handleReaction(kindLike, false)))
	mux.HandleFunc(p("POST /posts/{id}/favorite"), s.required(s.handleReaction(kindFavorite, true)))
	mux.HandleFunc(p("DELETE /posts/{id}/favorite"), s.required(s.handleReaction(kindFavorite, false)))
	mux.HandleFunc(p("GET /tags"), s.handleTags)

	mux.HandleFunc(p("GET /posts/{id}/comments"), s.optional(s.handleListComments))
	mux.HandleFunc(p("POST /posts/{id}/comments"), s.required(s.handleAddComment))
	mux.HandleFunc(p("GET /posts/{id}/comments/ws"), s.handleCommentStream)
	mux.HandleFunc(p("DELETE /comments/{id}"), s.required(s.handleNotSupported))
	mux.HandleFunc(p("POST /comments/{id}/like"), s.required(s.handleCommentLike(true)))
	mux.HandleFunc(p("DELETE /comments/{id}/like"), s.required(s.handleCommentLike(false)))

	mux.HandleFunc(p("GET /users/search"), s.optional(s.handleSearchUsers))
	mux.HandleFunc(p("PUT /users/me"), s.required(s.handleUpdateProfile))
	mux.HandleFunc(p("GET /users/me/favorites"), s.required(s.handleMyFavorites))
	mux.HandleFunc(p("GET /users/{id}"), s.optional(s.handleGetUser))
	mux.HandleFunc(p("GET /users/{id}/posts"), s.optional(s.handleUserPosts))
	mux.HandleFunc(p("GET /users/{id}/followers"), s.optional(s.handleFollowList(true)))
	mux.HandleFunc(p("GET /users/{id}/following"), s.optional(s.handleFollowList(false)))
	mux.HandleFunc(p("POST /users/{id}/follow"), s.required(s.handleFollow(kindFollow, true)))
	mux.HandleFunc(p("DELETE /users/{id}/follow"), s.required(s.handleFollow(kindFollow, false)))
	mux.HandleFunc(p("POST /users/{id}/block"), s.required(s.handleFollow(kindBlock, true)))
	mux.HandleFunc(p("DELETE /users/{id}/block"), s.required(s.handleFollow(kindBlock, false)))

	mux.HandleFunc(p("GET /notifications"), s.required(s.handleListNotifications))
	mux.HandleFunc(p("GET /notifications/unread-count"), s.required(s.handleUnreadCount))
	mux.HandleFunc(p("PUT /notifications/read-all"), s.required(s.handleReadAll))
	mux.HandleFunc(p("PUT /notifications/{id}/read"), s.required(s.handleMarkRead))

	mux.HandleFunc(p("POST /upload/image"), s.required(s.handleUpload("image")))
	mux.HandleFunc(p("POST /upload/video"), s.required(s.handleUpload("video")))
	mux.HandleFunc(p("GET /upload/video/{id}/status"), s.handleVideoStatus)
	mux.HandleFunc(p("GET /files/{name}"), s.handleFile)

	mux.Handle("GET /metrics", promhttp.Handler())

	return s.withLoaders(monitoring.NewPrometheusMiddleware(mux))
}

// Run слушает порт из конфигурации до отмены ctx
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Server.Port,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("Сервер запущен")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("Остановка сервера")
		return srv.Shutdown(shutdownCtx)
	}
}
