package service

import (
	"context"
	"net/url"
	"strconv"

	"github.com/ButyrinIA/community/internal/api"
	"github.com/ButyrinIA/community/internal/models"
)

type Posts struct {
	c *api.Client
}

func (s *Posts) List(ctx context.Context, params models.ListParams) (*models.PaginatedPosts, error) {
	params = params.Normalize()
	q := Page{Page: params.Page, Limit: params.Limit}.query()
	q.Set("feedType", params.FeedType)
	if params.Tag != "" {
		q.Set("tag", params.Tag)
	}
	if params.Search != "" {
		q.Set("search", params.Search)
	}
	if params.Type != models.TypeAll {
		q.Set("type", params.Type)
	}

	var page PageResponse[PostDto]
	if err := s.c.Get(ctx, "/posts", q, &page); err != nil {
		return nil, err
	}
	return toPosts(page), nil
}

func (s *Posts) Get(ctx context.Context, id string) (*models.Post, error) {
	var dto PostDto
	if err := s.c.Get(ctx, "/posts/"+url.PathEscape(id), nil, &dto); err != nil {
		return nil, err
	}
	return dto.ToModel(), nil
}

func (s *Posts) Create(ctx context.Context, input models.PostInput) (*models.Post, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	var dto PostDto
	if err := s.c.Post(ctx, "/posts", CreatePostFromInput(input), &dto); err != nil {
		return nil, err
	}
	return dto.ToModel(), nil
}

func (s *Posts) Update(ctx context.Context, id string, input models.PostInput) (*models.Post, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	var dto PostDto
	if err := s.c.Put(ctx, "/posts/"+url.PathEscape(id), CreatePostFromInput(input), &dto); err != nil {
		return nil, err
	}
	return dto.ToModel(), nil
}

func (s *Posts) Delete(ctx context.Context, id string) error {
	return s.c.Delete(ctx, "/posts/"+url.PathEscape(id), nil)
}

func (s *Posts) Like(ctx context.Context, id string) error {
	return s.c.Post(ctx, "/posts/"+url.PathEscape(id)+"/like", nil, nil)
}

func (s *Posts) Unlike(ctx context.Context, id string) error {
	return s.c.Delete(ctx, "/posts/"+url.PathEscape(id)+"/like", nil)
}

func (s *Posts) Favorite(ctx context.Context, id string) error {
	return s.c.Post(ctx, "/posts/"+url.PathEscape(id)+"/favorite", nil, nil)
}

func (s *Posts) Unfavorite(ctx context.Context, id string) error {
	return s.c.Delete(ctx, "/posts/"+url.PathEscape(id)+"/favorite", nil)
}

func (s *Posts) Tags(ctx context.Context, limit int) ([]TagDto, error) {
	var q url.Values
	if limit > 0 {
		q = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	var tags []TagDto
	if err := s.c.Get(ctx, "/tags", q, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}
