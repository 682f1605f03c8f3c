package service

import (
	"context"
	"net/url"
	"unicode/utf8"

	"github.com/ButyrinIA/community/internal/api"
	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/models"
)

type Users struct {
	c *api.Client
}

type UpdateProfileRequest struct {
	Nickname  *string `json:"nickname,omitempty"`
	AvatarURL *string `json:"avatarUrl,omitempty"`
	Bio       *string `json:"bio,omitempty"`
}

func (r UpdateProfileRequest) Validate() error {
	if r.Nickname != nil {
		if n := utf8.RuneCountInString(*r.Nickname); n < 1 || n > 50 {
			return apperr.Validation("nickname must be between 1 and 50 characters")
		}
	}
	if r.Bio != nil && utf8.RuneCountInString(*r.Bio) > 200 {
		return apperr.Validation("bio must not exceed 200 characters")
	}
	return nil
}

func (s *Users) Get(ctx context.Context, id string) (*models.User, error) {
	var dto UserDto
	if err := s.c.Get(ctx, "/users/"+url.PathEscape(id), nil, &dto); err != nil {
		return nil, err
	}
	user := dto.ToModel()
	return &user, nil
}

func (s *Users) UpdateProfile(ctx context.Context, req UpdateProfileRequest) (*models.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var dto UserDto
	if err := s.c.Put(ctx, "/users/me", req, &dto); err != nil {
		return nil, err
	}
	user := dto.ToModel()
	return &user, nil
}

func (s *Users) Follow(ctx context.Context, id string) error {
	return s.c.Post(ctx, "/users/"+url.PathEscape(id)+"/follow", nil, nil)
}

func (s *Users) Unfollow(ctx context.Context, id string) error {
	return s.c.Delete(ctx, "/users/"+url.PathEscape(id)+"/follow", nil)
}

func (s *Users) listUsers(ctx context.Context, path string, q url.Values) ([]models.User, bool, error) {
	var res PageResponse[UserDto]
	if err := s.c.Get(ctx, path, q, &res); err != nil {
		return nil, false, err
	}
	return toUsers(res.Data), res.HasMore(), nil
}

func (s *Users) Followers(ctx context.Context, id string, page Page) ([]models.User, bool, error) {
	return s.listUsers(ctx, "/users/"+url.PathEscape(id)+"/followers", page.query())
}

func (s *Users) Following(ctx context.Context, id string, page Page) ([]models.User, bool, error) {
	return s.listUsers(ctx, "/users/"+url.PathEscape(id)+"/following", page.query())
}

func (s *Users) Search(ctx context.Context, query string, page Page) ([]models.User, bool, error) {
	q := page.query()
	q.Set("q", query)
	return s.listUsers(ctx, "/users/search", q)
}

func (s *Users) Posts(ctx context.Context, id string, page Page) (*models.PaginatedPosts, error) {
	var res PageResponse[PostDto]
	if err := s.c.Get(ctx, "/users/"+url.PathEscape(id)+"/posts", page.query(), &res); err != nil {
		return nil, err
	}
	return toPosts(res), nil
}

func (s *Users) MyFavorites(ctx context.Context, page Page) (*models.PaginatedPosts, error) {
	var res PageResponse[PostDto]
	if err := s.c.Get(ctx, "/users/me/favorites", page.query(), &res); err != nil {
		return nil, err
	}
	return toPosts(res), nil
}

func (s *Users) Block(ctx context.Context, id string) error {
	return s.c.Post(ctx, "/users/"+url.PathEscape(id)+"/block", nil, nil)
}

func (s *Users) Unblock(ctx context.Context, id string) error {
	return s.c.Delete(ctx, "/users/"+url.PathEscape(id)+"/block", nil)
}
