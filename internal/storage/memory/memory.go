package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/models"
	"github.com/ButyrinIA/community/internal/storage"
)

type MemoryStorage struct {
	posts  map[string]*models.Post
	seq    int
	source models.Source
	now    func() time.Time
	mu     sync.RWMutex
}

func New() *MemoryStorage {
	return &MemoryStorage{
		posts:  make(map[string]*models.Post),
		source: models.SourceOffline,
		now:    time.Now,
	}
}

// NewOffline создает хранилище с резервным набором постов для работы без сети
func NewOffline() *MemoryStorage {
	s := New()
	now := s.now()
	for i, p := range fallbackPosts() {
		p.CreatedAt = now.Add(-time.Duration(2*(i+1)) * time.Hour)
		s.insert(p)
	}
	return s
}

func (s *MemoryStorage) insert(p *models.Post) {
	s.seq++
	if p.ID == "" {
		p.ID = strconv.Itoa(s.seq)
	}
	p.Source = s.source
	if p.Type == "" {
		p.Type = models.TypeArticle
	}
	if p.Status == "" {
		p.Status = models.StatusPublished
	}
	s.posts[p.ID] = p
}

// copyPost защищает внутреннее состояние от изменений вызывающей стороной
func copyPost(p *models.Post) *models.Post {
	c := *p
	c.MediaURLs = append([]string(nil), p.MediaURLs...)
	c.Tags = append([]string(nil), p.Tags...)
	c.Comments = append([]models.Comment(nil), p.Comments...)
	return &c
}

func (s *MemoryStorage) CreatePost(ctx context.Context, input models.PostInput) (*models.Post, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	post := &models.Post{
		Author:      input.Author,
		Title:       input.Title,
		Content:     input.Content,
		Type:        input.Type,
		MediaURLs:   input.MediaURLs,
		VideoURL:    input.VideoURL,
		VideoPoster: input.VideoPoster,
		Tags:        input.Tags,
		Status:      input.Status,
		CreatedAt:   s.now(),
	}
	s.insert(post)
	return copyPost(post), nil
}

func (s *MemoryStorage) GetPost(ctx context.Context, id string) (*models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	post, exists := s.posts[id]
	if !exists {
		return nil, fmt.Errorf("post %q: %w", id, apperr.ErrNotFound)
	}
	return copyPost(post), nil
}

// sorted возвращает посты от новых к старым; при равном времени больший id раньше
func (s *MemoryStorage) sorted() []*models.Post {
	posts := make([]*models.Post, 0, len(s.posts))
	for _, post := range s.posts {
		posts = append(posts, post)
	}
	sort.Slice(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].CreatedAt.After(posts[j].CreatedAt)
		}
		a, _ := strconv.Atoi(posts[i].ID)
		b, _ := strconv.Atoi(posts[j].ID)
		return a > b
	})
	return posts
}

func (s *MemoryStorage) ListPosts(ctx context.Context, params models.ListParams) (*models.PaginatedPosts, error) {
	params = params.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Post
	for _, post := range s.sorted() {
		if params.Matches(post) {
			matched = append(matched, post)
		}
	}

	// Применение смещения
	startIdx := params.Skip()
	if startIdx > len(matched) {
		startIdx = len(matched)
	}

	// Ограничение количества
	endIdx := startIdx + params.Limit
	if endIdx > len(matched) {
		endIdx = len(matched)
	}

	result := make([]*models.Post, 0, endIdx-startIdx)
	for _, post := range matched[startIdx:endIdx] {
		result = append(result, copyPost(post))
	}

	return &models.PaginatedPosts{
		Posts:      result,
		TotalCount: len(matched),
		HasMore:    endIdx < len(matched),
		Page:       params.Page,
	}, nil
}

func (s *MemoryStorage) ListPostsByAuthor(ctx context.Context, author string) ([]*models.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Post
	for _, post := range s.sorted() {
		if storage.MatchesAuthor(post, author) {
			result = append(result, copyPost(post))
		}
	}
	return result, nil
}

func (s *MemoryStorage) LikePost(ctx context.Context, id string) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, exists := s.posts[id]
	if !exists {
		return nil, fmt.Errorf("post %q: %w", id, apperr.ErrNotFound)
	}
	post.Likes++
	return copyPost(post), nil
}

func (s *MemoryStorage) AdjustCounters(ctx context.Context, id string, likes, favorites int) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, exists := s.posts[id]
	if !exists {
		return nil, fmt.Errorf("post %q: %w", id, apperr.ErrNotFound)
	}
	post.Likes = max(post.Likes+likes, 0)
	post.Favorites = max(post.Favorites+favorites, 0)
	return copyPost(post), nil
}

func (s *MemoryStorage) AddComment(ctx context.Context, postID string, input models.CommentInput) (*models.Comment, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	post, exists := s.posts[postID]
	if !exists {
		return nil, fmt.Errorf("post %q: %w", postID, apperr.ErrNotFound)
	}

	now := s.now()
	id := now.UnixMilli()
	if n := len(post.Comments); n > 0 {
		if last, _ := strconv.ParseInt(post.Comments[n-1].ID, 10, 64); last >= id {
			id = last + 1
		}
	}
	comment := models.Comment{
		ID:        strconv.FormatInt(id, 10),
		PostID:    postID,
		ParentID:  input.ParentID,
		Author:    input.Author,
		Content:   input.Content,
		Mentions:  input.Mentions,
		CreatedAt: now,
	}
	post.Comments = append(post.Comments, comment)
	post.CommentsCount++
	return &comment, nil
}

// Tags возвращает теги резервного набора в порядке первого появления
func (s *MemoryStorage) Tags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var tags []string
	for _, post := range s.sorted() {
		for _, tag := range post.Tags {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	return tags
}

// Close очищает хранилище
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.posts = make(map[string]*models.Post)
	return nil
}

var (
	_ storage.Storage         = (*MemoryStorage)(nil)
	_ storage.CounterAdjuster = (*MemoryStorage)(nil)
)
