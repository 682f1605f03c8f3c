// Package local - репозиторий постов поверх локальной базы localdb.
package local

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/localdb"
	"github.com/ButyrinIA/community/internal/models"
	"github.com/ButyrinIA/community/internal/storage"
)

const timestampIndex = "timestamp"

// postRecord - форма поста в локальной базе: автор хранится строкой, комментарии встроены
type postRecord struct {
	ID          int64           `json:"id,omitempty"`
	AuthorID    string          `json:"authorId"`
	Author      string          `json:"author"`
	Avatar      string          `json:"avatar,omitempty"`
	Title       string          `json:"title"`
	Content     string          `json:"content"`
	Images      []string        `json:"images"`
	Tags        []string        `json:"tags"`
	Likes       int             `json:"likes"`
	Favorites   int             `json:"favorites"`
	Comments    []commentRecord `json:"comments"`
	Timestamp   int64           `json:"timestamp"`
	Status      string          `json:"status"`
	Type        string          `json:"type"`
	VideoURL    string          `json:"videoUrl,omitempty"`
	VideoPoster string          `json:"videoPoster,omitempty"`
}

type commentRecord struct {
	ID        int64    `json:"id"`
	AuthorID  string   `json:"authorId,omitempty"`
	Author    string   `json:"author"`
	Avatar    string   `json:"avatar,omitempty"`
	Content   string   `json:"content"`
	ParentID  *string  `json:"parentId,omitempty"`
	Mentions  []string `json:"mentions,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

func (r *postRecord) toModel() *models.Post {
	id := strconv.FormatInt(r.ID, 10)
	p := &models.Post{
		ID:     id,
		Source: models.SourceLocal,
		Author: models.Author{
			ID:        r.AuthorID,
			Nickname:  r.Author,
			AvatarURL: r.Avatar,
		},
		Title:         r.Title,
		Content:       r.Content,
		Type:          r.Type,
		MediaURLs:     r.Images,
		VideoURL:      r.VideoURL,
		VideoPoster:   r.VideoPoster,
		Tags:          r.Tags,
		Likes:         r.Likes,
		Favorites:     r.Favorites,
		CommentsCount: len(r.Comments),
		Status:        r.Status,
		CreatedAt:     time.UnixMilli(r.Timestamp),
	}
	if p.Type == "" {
		p.Type = models.TypeArticle
	}
	p.Comments = make([]models.Comment, len(r.Comments))
	for i, c := range r.Comments {
		p.Comments[i] = c.toModel(id)
	}
	return p
}

func (c commentRecord) toModel(postID string) models.Comment {
	return models.Comment{
		ID:        strconv.FormatInt(c.ID, 10),
		PostID:    postID,
		ParentID:  c.ParentID,
		Author:    models.Author{ID: c.AuthorID, Nickname: c.Author, AvatarURL: c.Avatar},
		Content:   c.Content,
		Mentions:  c.Mentions,
		CreatedAt: time.UnixMilli(c.Timestamp),
	}
}

type LocalStorage struct {
	db  *localdb.DB
	now func() time.Time
}

type Option func(*LocalStorage)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(s *LocalStorage) { s.now = now }
}

// New открывает локальную базу по пути со схемой по умолчанию
func New(path string, opts ...Option) (*LocalStorage, error) {
	db, err := localdb.Open(path, localdb.DefaultSchema())
	if err != nil {
		return nil, err
	}
	return NewWithDB(db, opts...), nil
}

// NewWithDB использует уже открытый дескриптор; Close освобождает одну ссылку на него
func NewWithDB(db *localdb.DB, opts ...Option) *LocalStorage {
	s := &LocalStorage{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("post %q: %w", id, apperr.ErrNotFound)
	}
	return n, nil
}

func (s *LocalStorage) CreatePost(ctx context.Context, input models.PostInput) (*models.Post, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	rec := &postRecord{
		AuthorID:    input.Author.ID,
		Author:      input.Author.Nickname,
		Avatar:      input.Author.AvatarURL,
		Title:       input.Title,
		Content:     input.Content,
		Images:      nonNil(input.MediaURLs),
		Tags:        nonNil(input.Tags),
		Comments:    []commentRecord{},
		Timestamp:   s.now().UnixMilli(),
		Status:      input.Status,
		Type:        input.Type,
		VideoURL:    input.VideoURL,
		VideoPoster: input.VideoPoster,
	}
	key, err := s.db.Add(ctx, localdb.CollectionPosts, rec)
	if err != nil {
		return nil, err
	}
	id, ok := key.(int64)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected post key %v", apperr.ErrTransactionFailed, key)
	}
	rec.ID = id
	return rec.toModel(), nil
}

func (s *LocalStorage) GetPost(ctx context.Context, id string) (*models.Post, error) {
	key, err := parseID(id)
	if err != nil {
		return nil, err
	}
	var rec postRecord
	if err := s.db.Get(ctx, localdb.CollectionPosts, key, &rec); err != nil {
		return nil, err
	}
	return rec.toModel(), nil
}

// ListPosts обходит индекс timestamp от новых к старым. TotalCount - нижняя оценка:
// число возвращенных плюс пропущенных.
func (s *LocalStorage) ListPosts(ctx context.Context, params models.ListParams) (*models.PaginatedPosts, error) {
	params = params.Normalize()

	cur := s.db.ScanByIndex(ctx, localdb.CollectionPosts, timestampIndex, localdb.ScanOptions{
		Direction: localdb.Descending,
		Skip:      params.Skip(),
		Limit:     params.Limit,
		Filter: func(r *localdb.Record) bool {
			var rec postRecord
			if err := r.Decode(&rec); err != nil {
				return false
			}
			return params.Matches(rec.toModel())
		},
	})
	defer cur.Close()

	posts := make([]*models.Post, 0, params.Limit)
	for cur.Next() {
		var rec postRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode post: %w", err)
		}
		posts = append(posts, rec.toModel())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	return &models.PaginatedPosts{
		Posts:      posts,
		TotalCount: len(posts) + params.Skip(),
		HasMore:    len(posts) == params.Limit && !cur.Exhausted(),
		Page:       params.Page,
	}, nil
}

func (s *LocalStorage) ListPostsByAuthor(ctx context.Context, author string) ([]*models.Post, error) {
	cur := s.db.ScanByIndex(ctx, localdb.CollectionPosts, timestampIndex, localdb.ScanOptions{
		Direction: localdb.Descending,
		Filter: func(r *localdb.Record) bool {
			id, _ := r.Field("authorId")
			name, _ := r.Field("author")
			return author != "" && (id == author || name == author)
		},
	})
	defer cur.Close()

	var posts []*models.Post
	for cur.Next() {
		var rec postRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode post: %w", err)
		}
		posts = append(posts, rec.toModel())
	}
	return posts, cur.Err()
}

// LikePost увеличивает счетчик ровно на 1 в одной транзакции записи
func (s *LocalStorage) LikePost(ctx context.Context, id string) (*models.Post, error) {
	key, err := parseID(id)
	if err != nil {
		return nil, err
	}
	rec, err := localdb.Update(ctx, s.db, localdb.CollectionPosts, key, func(r *postRecord) error {
		r.Likes++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec.toModel(), nil
}

func (s *LocalStorage) AdjustCounters(ctx context.Context, id string, likes, favorites int) (*models.Post, error) {
	key, err := parseID(id)
	if err != nil {
		return nil, err
	}
	rec, err := localdb.Update(ctx, s.db, localdb.CollectionPosts, key, func(r *postRecord) error {
		r.Likes = max(r.Likes+likes, 0)
		r.Favorites = max(r.Favorites+favorites, 0)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec.toModel(), nil
}

// AddComment дописывает комментарий в конец списка поста. Id комментария - текущее
// время в миллисекундах, увеличенное при совпадении с последним id поста.
func (s *LocalStorage) AddComment(ctx context.Context, postID string, input models.CommentInput) (*models.Comment, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	key, err := parseID(postID)
	if err != nil {
		return nil, err
	}

	var added commentRecord
	_, err = localdb.Update(ctx, s.db, localdb.CollectionPosts, key, func(r *postRecord) error {
		now := s.now().UnixMilli()
		id := now
		if n := len(r.Comments); n > 0 && r.Comments[n-1].ID >= id {
			id = r.Comments[n-1].ID + 1
		}
		added = commentRecord{
			ID:        id,
			AuthorID:  input.Author.ID,
			Author:    input.Author.Nickname,
			Avatar:    input.Author.AvatarURL,
			Content:   input.Content,
			ParentID:  input.ParentID,
			Mentions:  input.Mentions,
			Timestamp: now,
		}
		r.Comments = append(r.Comments, added)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c := added.toModel(postID)
	return &c, nil
}

func (s *LocalStorage) Close() error {
	return s.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var (
	_ storage.Storage         = (*LocalStorage)(nil)
	_ storage.CounterAdjuster = (*LocalStorage)(nil)
)
