package service

import (
	"context"
	"net/url"

	"github.com/ButyrinIA/community/internal/api"
	"github.com/ButyrinIA/community/internal/models"
	log "github.com/sirupsen/logrus"
)

type Comments struct {
	c *api.Client
}

func (s *Comments) List(ctx context.Context, postID string, page Page) (*models.PaginatedComments, error) {
	var res PageResponse[CommentDto]
	if err := s.c.Get(ctx, "/posts/"+url.PathEscape(postID)+"/comments", page.query(), &res); err != nil {
		return nil, err
	}
	comments := make([]models.Comment, len(res.Data))
	for i, c := range res.Data {
		comments[i] = c.ToModel()
	}
	return &models.PaginatedComments{
		Comments:   comments,
		TotalCount: int(res.Total),
		HasMore:    res.HasMore(),
	}, nil
}

func (s *Comments) Add(ctx context.Context, postID string, input models.CommentInput) (*models.Comment, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	req := CreateCommentRequest{Content: input.Content, ParentID: input.ParentID, Mentions: input.Mentions}
	var dto CommentDto
	if err := s.c.Post(ctx, "/posts/"+url.PathEscape(postID)+"/comments", req, &dto); err != nil {
		return nil, err
	}
	comment := dto.ToModel()
	if comment.PostID == "" {
		comment.PostID = postID
	}
	return &comment, nil
}

func (s *Comments) Delete(ctx context.Context, id string) error {
	return s.c.Delete(ctx, "/comments/"+url.PathEscape(id), nil)
}

func (s *Comments) Like(ctx context.Context, id string) error {
	return s.c.Post(ctx, "/comments/"+url.PathEscape(id)+"/like", nil, nil)
}

func (s *Comments) Unlike(ctx context.Context, id string) error {
	return s.c.Delete(ctx, "/comments/"+url.PathEscape(id)+"/like", nil)
}

// Subscribe открывает поток новых комментариев поста. Канал закрывается при
// завершении ctx или разрыве соединения.
func (s *Comments) Subscribe(ctx context.Context, postID string) (<-chan models.Comment, error) {
	conn, err := s.c.Dial(ctx, "/posts/"+url.PathEscape(postID)+"/comments/ws")
	if err != nil {
		return nil, err
	}

	out := make(chan models.Comment, 8)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()

	go func() {
		defer close(out)
		defer close(done)
		for {
			var dto CommentDto
			if err := conn.ReadJSON(&dto); err != nil {
				if ctx.Err() == nil {
					log.WithError(err).WithField("post_id", postID).Debug("Поток комментариев закрыт")
				}
				return
			}
			select {
			case out <- dto.ToModel():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
