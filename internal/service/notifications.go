package service

import (
	"context"
	"net/url"

	"github.com/ButyrinIA/community/internal/api"
)

type Notifications struct {
	c *api.Client
}

func (s *Notifications) List(ctx context.Context, page Page) (PageResponse[NotificationDto], error) {
	var res PageResponse[NotificationDto]
	err := s.c.Get(ctx, "/notifications", page.query(), &res)
	return res, err
}

func (s *Notifications) UnreadCount(ctx context.Context) (int, error) {
	var res struct {
		Count int `json:"count"`
	}
	if err := s.c.Get(ctx, "/notifications/unread-count", nil, &res); err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (s *Notifications) MarkRead(ctx context.Context, id string) error {
	return s.c.Put(ctx, "/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func (s *Notifications) MarkAllRead(ctx context.Context) error {
	return s.c.Put(ctx, "/notifications/read-all", nil, nil)
}
