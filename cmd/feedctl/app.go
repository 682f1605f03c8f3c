package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ButyrinIA/community/internal/api"
	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/cache"
	"github.com/ButyrinIA/community/internal/config"
	"github.com/ButyrinIA/community/internal/events"
	"github.com/ButyrinIA/community/internal/feed"
	"github.com/ButyrinIA/community/internal/interaction"
	"github.com/ButyrinIA/community/internal/localdb"
	"github.com/ButyrinIA/community/internal/models"
	"github.com/ButyrinIA/community/internal/service"
	"github.com/ButyrinIA/community/internal/session"
	"github.com/ButyrinIA/community/internal/storage"
	"github.com/ButyrinIA/community/internal/storage/local"
	"github.com/ButyrinIA/community/internal/storage/memory"
	"github.com/ButyrinIA/community/internal/storage/postgres"
	"github.com/ButyrinIA/community/internal/storage/remote"
	log "github.com/sirupsen/logrus"
)

// app связывает клиентское ядро: API-клиент, сессию, ленту и хранилище постов
type app struct {
	cfg     *config.Config
	out     io.Writer
	bus     *events.Bus
	client  *api.Client
	svc     *service.Services
	db      *localdb.DB
	session *session.Manager
	store   storage.Storage
	feed    *feed.Feed
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, out io.Writer) (a *app, err error) {
	a = &app{cfg: cfg, out: out, bus: events.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.client = api.New(cfg.API.BaseURL, cfg.API.Timeout, a.bus)
	a.svc = service.New(a.client)

	if cfg.Storage.Backend == config.BackendLocal || cfg.Session.Store == config.SessionStoreLocal {
		a.db, err = localdb.Open(cfg.Storage.Path, localdb.DefaultSchema())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.db.Close)
	}

	var store session.Store
	switch cfg.Session.Store {
	case config.SessionStoreRedis:
		kv, err := cache.NewRedisKV(ctx, cfg.Redis.Addr, cfg.Redis.Hash, 0)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, kv.Close)
		store = kv
	default:
		store = a.db.KV()
	}
	a.session = session.NewManager(store, a.svc.Auth, a.client, a.bus)
	a.closers = append(a.closers, func() error { a.session.Close(); return nil })

	switch cfg.Storage.Backend {
	case config.BackendLocal:
		// дескриптор общий с сессией, закрывается через a.db
		a.store = local.NewWithDB(a.db)
	case config.BackendPostgres:
		pg, err := postgres.New(cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		a.store = pg
	case config.BackendMemory:
		a.store = memory.New()
	case config.BackendRemote:
		a.store = remote.New(a.svc)
	default:
		return nil, apperr.Validation("unknown storage backend %q", cfg.Storage.Backend)
	}
	a.feed = feed.New(a.store, a.svc.Posts)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.WithError(err).Warn("Ошибка при освобождении ресурса")
		}
	}
	a.closers = nil
	a.bus.Close()
}

func (a *app) remote() bool {
	return a.cfg.Storage.Backend == config.BackendRemote
}

// author - автор новых постов и комментариев для не удаленных хранилищ
func (a *app) author() models.Author {
	if u := a.session.User(); u != nil {
		return u.AsAuthor()
	}
	return models.Author{Nickname: "匿名用户"}
}

// controller собирает контроллер действий поста поверх выбранного хранилища
func (a *app) controller(post *models.Post, following bool) *interaction.Controller {
	deps := interaction.Deps{
		Posts:    a.svc.Posts,
		Users:    a.svc.Users,
		Comments: a.svc.Comments,
		Bus:      a.bus,
		OnError: func(action interaction.Action, err error) {
			fmt.Fprintf(a.out, "%s: %v\n", action, err)
		},
	}
	if !a.remote() {
		deps.Posts = storeActions{store: a.store}
		deps.Users = storeActions{store: a.store}
		deps.Comments = storeComments{store: a.store, author: a.author}
	}
	return interaction.NewController(post, following, deps)
}

// storeActions выполняет действия над постом в локальном хранилище.
// Снятие отметок требует хранилища с CounterAdjuster.
type storeActions struct {
	store storage.Storage
}

func (s storeActions) Like(ctx context.Context, id string) error {
	_, err := s.store.LikePost(ctx, id)
	return err
}

func (s storeActions) Unlike(ctx context.Context, id string) error {
	return s.adjust(ctx, id, -1, 0)
}

func (s storeActions) Favorite(ctx context.Context, id string) error {
	return s.adjust(ctx, id, 0, 1)
}

func (s storeActions) Unfavorite(ctx context.Context, id string) error {
	return s.adjust(ctx, id, 0, -1)
}

func (s storeActions) adjust(ctx context.Context, id string, likes, favorites int) error {
	adjuster, ok := s.store.(storage.CounterAdjuster)
	if !ok {
		return errors.New("storage backend cannot change counters")
	}
	_, err := adjuster.AdjustCounters(ctx, id, likes, favorites)
	return err
}

func (s storeActions) Follow(context.Context, string) error {
	return apperr.Validation("follow requires the remote backend")
}

func (s storeActions) Unfollow(context.Context, string) error {
	return apperr.Validation("follow requires the remote backend")
}

type storeComments struct {
	store  storage.Storage
	author func() models.Author
}

func (s storeComments) Add(ctx context.Context, postID string, input models.CommentInput) (*models.Comment, error) {
	input.Author = s.author()
	return s.store.AddComment(ctx, postID, input)
}
