package server

import (
	"context"
	"net/http"
	"sort"
	"strconv"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/models"
	"github.com/ButyrinIA/community/internal/service"
	"github.com/ButyrinIA/community/internal/storage"
	log "github.com/sirupsen/logrus"
)

// postDtos приводит посты к ответу API: авторы подгружаются одним пакетом,
// отметки isLiked/isFavorited считаются для текущего пользователя
func (s *Server) postDtos(ctx context.Context, posts []*models.Post) ([]service.PostDto, error) {
	authorIDs := make([]string, len(posts))
	for i, p := range posts {
		authorIDs[i] = p.Author.ID
	}
	authors, err := loadUsers(ctx, s, authorIDs)
	if err != nil {
		return nil, err
	}

	viewer := currentUserID(ctx)
	dtos := make([]service.PostDto, len(posts))
	for i, p := range posts {
		dto := service.PostFromModel(p)
		if u := authors[i]; u != nil {
			dto.Author = shortUser(u)
		}
		if dto.IsLiked, err = s.hasRelation(ctx, kindLike, viewer, p.ID); err != nil {
			return nil, err
		}
		if dto.IsFavorited, err = s.hasRelation(ctx, kindFavorite, viewer, p.ID); err != nil {
			return nil, err
		}
		dtos[i] = dto
	}
	return dtos, nil
}

func (s *Server) postDto(ctx context.Context, p *models.Post) (service.PostDto, error) {
	dtos, err := s.postDtos(ctx, []*models.Post{p})
	if err != nil {
		return service.PostDto{}, err
	}
	return dtos[0], nil
}

// postsPage строит страницу с нумерацией с нуля. Если хранилище сообщает HasMore
// при неточном TotalCount, total поднимается так, чтобы клиент запросил следующую страницу.
func postsPage(dtos []service.PostDto, page, limit int, res *models.PaginatedPosts) service.PageResponse[service.PostDto] {
	total := int64(res.TotalCount)
	if res.HasMore {
		total = max(total, int64((page+1)*limit+1))
	}
	return service.NewPage(dtos, page, limit, total)
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	q := r.URL.Query()
	params := models.ListParams{
		Page:     page + 1,
		Limit:    limit,
		Type:     q.Get("type"),
		Tag:      q.Get("tag"),
		Search:   q.Get("search"),
		FeedType: q.Get("feedType"),
	}.Normalize()

	var (
		res *models.PaginatedPosts
		err error
	)
	if params.FeedType == models.FeedFollowing {
		res, err = s.followingFeed(r.Context(), params)
	} else {
		res, err = s.store.ListPosts(r.Context(), params)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	dtos, err := s.postDtos(r.Context(), res.Posts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, postsPage(dtos, page, limit, res))
}

// followingFeed собирает посты авторов, на которых подписан пользователь
func (s *Server) followingFeed(ctx context.Context, params models.ListParams) (*models.PaginatedPosts, error) {
	viewer := currentUserID(ctx)
	if viewer == "" {
		return nil, apperr.ErrUnauthorized
	}
	rels, err := s.scanRelations(ctx, "owner", kindFollow+":"+viewer)
	if err != nil {
		return nil, err
	}

	var matched []*models.Post
	for _, rel := range rels {
		posts, err := s.store.ListPostsByAuthor(ctx, rel.TargetID)
		if err != nil {
			return nil, err
		}
		for _, p := range posts {
			if params.Matches(p) {
				matched = append(matched, p)
			}
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	from, to := paginate(len(matched), params.Page-1, params.Limit)
	return &models.PaginatedPosts{
		Posts:      matched[from:to],
		TotalCount: len(matched),
		HasMore:    to < len(matched),
		Page:       params.Page,
	}, nil
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, err := s.store.GetPost(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	dto, err := s.postDto(r.Context(), post)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, dto)
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req service.CreatePostRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	me := currentUser(r.Context())
	input := req.Input()
	input.Author = models.Author{ID: me.key(), Nickname: me.Nickname, AvatarURL: me.AvatarURL}

	post, err := s.store.CreatePost(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.WithFields(log.Fields{"post_id": post.ID, "user_id": me.key()}).Info("Создан пост")

	dto, err := s.postDto(r.Context(), post)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, dto)
}

// handleNotSupported - у репозитория постов нет операций изменения и удаления
func (s *Server) handleNotSupported(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusNotImplemented, "operation is not supported by this server")
}

// handleReaction ставит или снимает лайк или избранное. Повторная отметка
// не меняет счетчики.
func (s *Server) handleReaction(kind string, on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := r.PathValue("id")
		post, err := s.store.GetPost(ctx, id)
		if err != nil {
			writeError(w, r, err)
			return
		}

		me := currentUser(ctx)
		changed, err := s.setRelation(ctx, kind, me.key(), post.ID, on)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !changed {
			writeData(w, nil)
			return
		}

		if kind == kindLike && on {
			_, err = s.store.LikePost(ctx, post.ID)
		} else {
			err = s.adjust(ctx, post.ID, kind, on)
		}
		if err != nil {
			// счетчик не изменился, отметку откатываем
			if _, rollbackErr := s.setRelation(ctx, kind, me.key(), post.ID, !on); rollbackErr != nil {
				log.WithError(rollbackErr).WithField("post_id", post.ID).Error("Не удалось откатить отметку")
			}
			writeError(w, r, err)
			return
		}

		if on && kind == kindLike {
			s.notify(ctx, post.Author.ID, "like", me, post.ID, me.Nickname+" 赞了你的帖子")
		}
		writeData(w, nil)
	}
}

func (s *Server) adjust(ctx context.Context, postID, kind string, on bool) error {
	adjuster, ok := s.store.(storage.CounterAdjuster)
	if !ok {
		return apperr.Validation("storage backend cannot change counters")
	}
	delta := 1
	if !on {
		delta = -1
	}
	var err error
	if kind == kindLike {
		_, err = adjuster.AdjustCounters(ctx, postID, delta, 0)
	} else {
		_, err = adjuster.AdjustCounters(ctx, postID, 0, delta)
	}
	return err
}

// handleTags считает теги по опубликованным постам, популярные первыми
func (s *Server) handleTags(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultLimit
	}

	counts := make(map[string]int)
	var order []string
	for page := 1; ; page++ {
		res, err := s.store.ListPosts(r.Context(), models.ListParams{Page: page, Limit: maxLimit})
		if err != nil {
			writeError(w, r, err)
			return
		}
		for _, p := range res.Posts {
			for _, tag := range p.Tags {
				if counts[tag] == 0 {
					order = append(order, tag)
				}
				counts[tag]++
			}
		}
		if !res.HasMore {
			break
		}
	}

	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > limit {
		order = order[:limit]
	}
	tags := make([]service.TagDto, len(order))
	for i, name := range order {
		tags[i] = service.TagDto{ID: int64(i + 1), Name: name, UsageCount: counts[name]}
	}
	writeData(w, tags)
}
