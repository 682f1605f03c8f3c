// Package remote - репозиторий постов поверх REST API. Счетчики берутся с сервера.
package remote

import (
	"context"
	"fmt"

	"github.com/ButyrinIA/community/internal/models"
	"github.com/ButyrinIA/community/internal/service"
	log "github.com/sirupsen/logrus"
)

// maxAuthorPages ограничивает полную выборку постов автора
const maxAuthorPages = 50

type RemoteStorage struct {
	svc *service.Services
}

func New(svc *service.Services) *RemoteStorage {
	return &RemoteStorage{svc: svc}
}

func (s *RemoteStorage) CreatePost(ctx context.Context, input models.PostInput) (*models.Post, error) {
	return s.svc.Posts.Create(ctx, input)
}

func (s *RemoteStorage) GetPost(ctx context.Context, id string) (*models.Post, error) {
	return s.svc.Posts.Get(ctx, id)
}

// ListPosts с AuthorID читает ленту пользователя, иначе общую ленту
func (s *RemoteStorage) ListPosts(ctx context.Context, params models.ListParams) (*models.PaginatedPosts, error) {
	params = params.Normalize()
	if params.AuthorID != "" {
		return s.svc.Users.Posts(ctx, params.AuthorID, service.Page{Page: params.Page, Limit: params.Limit})
	}
	return s.svc.Posts.List(ctx, params)
}

// ListPostsByAuthor проходит все страницы постов пользователя; author - id пользователя
func (s *RemoteStorage) ListPostsByAuthor(ctx context.Context, author string) ([]*models.Post, error) {
	var posts []*models.Post
	for page := 1; page <= maxAuthorPages; page++ {
		res, err := s.svc.Users.Posts(ctx, author, service.Page{Page: page, Limit: models.DefaultPageSize * 5})
		if err != nil {
			return nil, err
		}
		posts = append(posts, res.Posts...)
		if !res.HasMore {
			return posts, nil
		}
	}
	log.WithField("author", author).Warn("Выборка постов автора обрезана")
	return posts, nil
}

// LikePost ставит лайк и перечитывает пост, чтобы вернуть счетчик сервера
func (s *RemoteStorage) LikePost(ctx context.Context, id string) (*models.Post, error) {
	if err := s.svc.Posts.Like(ctx, id); err != nil {
		return nil, fmt.Errorf("like post %s: %w", id, err)
	}
	return s.svc.Posts.Get(ctx, id)
}

func (s *RemoteStorage) AddComment(ctx context.Context, postID string, input models.CommentInput) (*models.Comment, error) {
	return s.svc.Comments.Add(ctx, postID, input)
}

func (s *RemoteStorage) Close() error {
	return nil
}
