// Package interaction управляет действиями пользователя на экране поста:
// лайк, избранное, подписка на автора и отправка комментария.
// Состояние меняется только после подтверждения сервером.
package interaction

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/events"
	"github.com/ButyrinIA/community/internal/models"
	log "github.com/sirupsen/logrus"
)

type Action string

const (
	ActionLike     Action = "like"
	ActionFavorite Action = "favorite"
	ActionFollow   Action = "follow"
	ActionComment  Action = "comment"
)

type Result int

const (
	ResultApplied Result = iota
	ResultIgnored
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultIgnored:
		return "ignored"
	default:
		return "failed"
	}
}

type PostActions interface {
	Like(ctx context.Context, id string) error
	Unlike(ctx context.Context, id string) error
	Favorite(ctx context.Context, id string) error
	Unfavorite(ctx context.Context, id string) error
}

type FollowActions interface {
	Follow(ctx context.Context, id string) error
	Unfollow(ctx context.Context, id string) error
}

type CommentPoster interface {
	Add(ctx context.Context, postID string, input models.CommentInput) (*models.Comment, error)
}

// Deps - зависимости контроллера. Bus и OnError необязательны.
type Deps struct {
	Posts    PostActions
	Users    FollowActions
	Comments CommentPoster
	Bus      *events.Bus
	OnError  func(Action, error)
}

// State - снимок состояния экрана поста
type State struct {
	Liked         bool
	Favorited     bool
	Following     bool
	Likes         int
	Favorites     int
	CommentsCount int
	Comments      []models.Comment
	Draft         string
}

type Controller struct {
	postID   string
	authorID string
	deps     Deps

	mu       sync.Mutex
	state    State
	inflight map[Action]bool
}

func NewController(post *models.Post, following bool, deps Deps) *Controller {
	comments := make([]models.Comment, len(post.Comments))
	copy(comments, post.Comments)
	return &Controller{
		postID:   post.ID,
		authorID: post.Author.ID,
		deps:     deps,
		state: State{
			Liked:         post.IsLiked,
			Favorited:     post.IsFavorited,
			Following:     following,
			Likes:         post.Likes,
			Favorites:     post.Favorites,
			CommentsCount: post.CommentsCount,
			Comments:      comments,
		},
		inflight: make(map[Action]bool),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Comments = append([]models.Comment(nil), c.state.Comments...)
	return s
}

func (c *Controller) InFlight(a Action) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[a]
}

func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	c.state.Draft = text
	c.mu.Unlock()
}

func (c *Controller) ToggleLike(ctx context.Context) Result {
	return c.toggle(ctx, ActionLike, c.postID,
		func(s *State) bool { return s.Liked },
		c.deps.Posts.Like, c.deps.Posts.Unlike,
		func(s *State, on bool) {
			s.Liked = on
			s.Likes = adjust(s.Likes, on)
		})
}

func (c *Controller) ToggleFavorite(ctx context.Context) Result {
	return c.toggle(ctx, ActionFavorite, c.postID,
		func(s *State) bool { return s.Favorited },
		c.deps.Posts.Favorite, c.deps.Posts.Unfavorite,
		func(s *State, on bool) {
			s.Favorited = on
			s.Favorites = adjust(s.Favorites, on)
		})
}

func (c *Controller) ToggleFollow(ctx context.Context) Result {
	if c.authorID == "" {
		c.report(ActionFollow, apperr.Validation("post author has no id"))
		return ResultFailed
	}
	return c.toggle(ctx, ActionFollow, c.authorID,
		func(s *State) bool { return s.Following },
		c.deps.Users.Follow, c.deps.Users.Unfollow,
		func(s *State, on bool) { s.Following = on })
}

func adjust(n int, on bool) int {
	if on {
		return n + 1
	}
	if n > 0 {
		return n - 1
	}
	return 0
}

// begin ставит флаг выполнения; false, если действие уже выполняется
func (c *Controller) begin(a Action) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[a] {
		return false
	}
	c.inflight[a] = true
	return true
}

func (c *Controller) end(a Action) {
	c.mu.Lock()
	delete(c.inflight, a)
	c.mu.Unlock()
}

func (c *Controller) toggle(
	ctx context.Context,
	a Action,
	id string,
	current func(*State) bool,
	add, remove func(context.Context, string) error,
	apply func(*State, bool),
) (res Result) {
	if !c.begin(a) {
		return ResultIgnored
	}
	defer c.end(a)
	defer func() {
		if r := recover(); r != nil {
			c.report(a, fmt.Errorf("%s panicked: %v", a, r))
			res = ResultFailed
		}
	}()

	c.mu.Lock()
	on := current(&c.state)
	c.mu.Unlock()

	call := add
	if on {
		call = remove
	}
	if err := call(ctx, id); err != nil {
		c.report(a, err)
		return ResultFailed
	}

	c.mu.Lock()
	apply(&c.state, !on)
	c.mu.Unlock()
	return ResultApplied
}

// SubmitComment отправляет черновик. Пустой черновик и повторная отправка игнорируются.
func (c *Controller) SubmitComment(ctx context.Context, parentID *string, mentions []string) (res Result) {
	c.mu.Lock()
	draft := strings.TrimSpace(c.state.Draft)
	c.mu.Unlock()
	if draft == "" {
		return ResultIgnored
	}
	if !c.begin(ActionComment) {
		return ResultIgnored
	}
	defer c.end(ActionComment)
	defer func() {
		if r := recover(); r != nil {
			c.report(ActionComment, fmt.Errorf("comment panicked: %v", r))
			res = ResultFailed
		}
	}()

	input := models.CommentInput{Content: draft, ParentID: parentID, Mentions: mentions}
	if err := input.Validate(); err != nil {
		c.report(ActionComment, err)
		return ResultFailed
	}
	comment, err := c.deps.Comments.Add(ctx, c.postID, input)
	if err != nil {
		c.report(ActionComment, err)
		return ResultFailed
	}

	c.mu.Lock()
	c.state.Draft = ""
	c.prependLocked(*comment)
	c.mu.Unlock()

	if c.deps.Bus != nil {
		c.deps.Bus.Publish(events.TopicCommentAdded, *comment)
	}
	return ResultApplied
}

func (c *Controller) prependLocked(comment models.Comment) bool {
	for _, existing := range c.state.Comments {
		if existing.ID == comment.ID {
			return false
		}
	}
	c.state.Comments = append([]models.Comment{comment}, c.state.Comments...)
	c.state.CommentsCount++
	return true
}

// Watch добавляет комментарии из живого потока, пока канал открыт или не отменен ctx.
// Уже показанные комментарии (например, свой после SubmitComment) пропускаются.
func (c *Controller) Watch(ctx context.Context, stream <-chan models.Comment) {
	for {
		select {
		case <-ctx.Done():
			return
		case comment, ok := <-stream:
			if !ok {
				return
			}
			if comment.PostID != "" && comment.PostID != c.postID {
				continue
			}
			c.mu.Lock()
			c.prependLocked(comment)
			c.mu.Unlock()
		}
	}
}

func (c *Controller) report(a Action, err error) {
	log.WithError(err).WithFields(log.Fields{"action": a, "post_id": c.postID}).Error("Действие не выполнено")
	if c.deps.OnError != nil {
		c.deps.OnError(a, err)
	}
}
