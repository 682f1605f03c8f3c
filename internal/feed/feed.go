// Package feed собирает ленту для экранов: основной источник постов,
// откат на офлайн-данные и посты профиля.
package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/models"
	"github.com/ButyrinIA/community/internal/service"
	"github.com/ButyrinIA/community/internal/storage"
	"github.com/ButyrinIA/community/internal/storage/memory"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// OfflineNotice показывается вместе с офлайн-лентой
const OfflineNotice = "使用离线数据"

type TagSource interface {
	Tags(ctx context.Context, limit int) ([]service.TagDto, error)
}

// Page - результат загрузки ленты
type Page struct {
	Posts   []*models.Post
	HasMore bool
	Total   int
	Offline bool
	Notice  string
}

type Feed struct {
	primary storage.Storage
	offline *memory.MemoryStorage
	tags    TagSource

	mu   sync.Mutex
	last models.ListParams
}

// New - tags может быть nil, тогда используется встроенный список тегов
func New(primary storage.Storage, tags TagSource) *Feed {
	return &Feed{
		primary: primary,
		offline: memory.NewOffline(),
		tags:    tags,
	}
}

func (f *Feed) Storage() storage.Storage {
	return f.primary
}

// Load читает ленту из основного хранилища. При сбое (кроме ошибок ввода и отмены)
// возвращает офлайн-данные с Offline=true, отфильтрованные по тегу и поиску.
func (f *Feed) Load(ctx context.Context, params models.ListParams) (*Page, error) {
	params = params.Normalize()
	f.mu.Lock()
	f.last = params
	f.mu.Unlock()

	res, err := f.primary.ListPosts(ctx, params)
	if err == nil {
		return &Page{Posts: res.Posts, HasMore: res.HasMore, Total: res.TotalCount}, nil
	}
	if errors.Is(err, apperr.ErrValidation) || ctx.Err() != nil {
		return nil, err
	}

	log.WithError(err).Warn("Лента недоступна, показываем офлайн-данные")
	fallback, ferr := f.offline.ListPosts(ctx, params)
	if ferr != nil {
		return nil, errors.Join(err, ferr)
	}
	return &Page{
		Posts:   fallback.Posts,
		HasMore: fallback.HasMore,
		Total:   fallback.TotalCount,
		Offline: true,
		Notice:  OfflineNotice,
	}, nil
}

// Retry повторяет последнюю загрузку
func (f *Feed) Retry(ctx context.Context) (*Page, error) {
	f.mu.Lock()
	params := f.last
	f.mu.Unlock()
	return f.Load(ctx, params)
}

// Tags возвращает имена популярных тегов или встроенный список при ошибке
func (f *Feed) Tags(ctx context.Context) []string {
	if f.tags == nil {
		return append([]string(nil), memory.FallbackTags...)
	}
	tags, err := f.tags.Tags(ctx, 0)
	if err != nil {
		log.WithError(err).Debug("Теги недоступны")
		return append([]string(nil), memory.FallbackTags...)
	}
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return names
}

// Profile загружает посты нескольких авторов параллельно и объединяет их без повторов.
// Порядок: по авторам в порядке аргументов, внутри автора от новых к старым.
func (f *Feed) Profile(ctx context.Context, authors ...string) ([]*models.Post, error) {
	seen := make(map[string]bool)
	var targets []string
	for _, a := range authors {
		if a != "" && !seen[a] {
			seen[a] = true
			targets = append(targets, a)
		}
	}

	results := make([][]*models.Post, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, author := range targets {
		g.Go(func() error {
			posts, err := f.primary.ListPostsByAuthor(gctx, author)
			if err != nil {
				return err
			}
			results[i] = posts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Не удалось загрузить посты профиля")
		return nil, err
	}

	ids := make(map[string]bool)
	var merged []*models.Post
	for _, posts := range results {
		for _, p := range posts {
			if ids[p.ID] {
				continue
			}
			ids[p.ID] = true
			merged = append(merged, p)
		}
	}
	return merged, nil
}
