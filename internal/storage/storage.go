package storage

import (
	"context"

	"github.com/ButyrinIA/community/internal/models"
)

// Storage - репозиторий постов. Все реализации возвращают каноническую форму models.Post.
type Storage interface {
	CreatePost(ctx context.Context, input models.PostInput) (*models.Post, error)
	GetPost(ctx context.Context, id string) (*models.Post, error)
	ListPosts(ctx context.Context, params models.ListParams) (*models.PaginatedPosts, error)
	// ListPostsByAuthor возвращает все посты автора (по id или отображаемому имени) от новых к старым
	ListPostsByAuthor(ctx context.Context, author string) ([]*models.Post, error)
	LikePost(ctx context.Context, id string) (*models.Post, error)
	AddComment(ctx context.Context, postID string, input models.CommentInput) (*models.Comment, error)
	Close() error
}

// CounterAdjuster - хранилища, умеющие атомарно менять счетчики лайков и избранного
// на произвольную величину. Счетчики не опускаются ниже нуля.
type CounterAdjuster interface {
	AdjustCounters(ctx context.Context, id string, likes, favorites int) (*models.Post, error)
}

// MatchesAuthor - общее правило сравнения автора для ListPostsByAuthor
func MatchesAuthor(p *models.Post, author string) bool {
	return author != "" && (p.Author.ID == author || p.Author.Nickname == author)
}
