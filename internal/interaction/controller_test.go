package interaction

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/events"
	"github.com/ButyrinIA/community/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type blockingPosts struct {
	release chan struct{}
	likes   atomic.Int32
	unlikes atomic.Int32
	err     error
}

func (p *blockingPosts) wait() {
	if p.release != nil {
		<-p.release
	}
}

func (p *blockingPosts) Like(context.Context, string) error {
	p.likes.Add(1)
	p.wait()
	return p.err
}

func (p *blockingPosts) Unlike(context.Context, string) error {
	p.unlikes.Add(1)
	p.wait()
	return p.err
}

func (p *blockingPosts) Favorite(context.Context, string) error   { return p.err }
func (p *blockingPosts) Unfavorite(context.Context, string) error { return p.err }

type mockUsers struct{ mock.Mock }

func (m *mockUsers) Follow(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockUsers) Unfollow(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type fakeComments struct {
	mu      sync.Mutex
	release chan struct{}
	calls   int
	err     error
	panics  bool
}

func (f *fakeComments) Add(_ context.Context, postID string, in models.CommentInput) (*models.Comment, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	if f.panics {
		panic("nil author")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.Comment{ID: string(rune('a' + n)), PostID: postID, Content: in.Content, CreatedAt: time.Now()}, nil
}

func testPost() *models.Post {
	return &models.Post{
		ID:            "p1",
		Author:        models.Author{ID: "u2", Nickname: "Борис"},
		Likes:         3,
		Favorites:     1,
		CommentsCount: 1,
		Comments:      []models.Comment{{ID: "old", PostID: "p1", Content: "первый"}},
	}
}

func TestToggleLike(t *testing.T) {
	ctx := context.Background()

	t.Run("Double tap sends one request", func(t *testing.T) {
		posts := &blockingPosts{release: make(chan struct{})}
		c := NewController(testPost(), false, Deps{Posts: posts})

		first := make(chan Result)
		go func() { first <- c.ToggleLike(ctx) }()
		require.Eventually(t, func() bool { return c.InFlight(ActionLike) }, time.Second, 5*time.Millisecond)

		assert.Equal(t, ResultIgnored, c.ToggleLike(ctx))
		close(posts.release)
		assert.Equal(t, ResultApplied, <-first)

		assert.Equal(t, int32(1), posts.likes.Load())
		s := c.State()
		assert.True(t, s.Liked)
		assert.Equal(t, 4, s.Likes)
		assert.False(t, c.InFlight(ActionLike))
	})

	t.Run("Call follows current state", func(t *testing.T) {
		posts := &blockingPosts{}
		post := testPost()
		post.IsLiked = true
		c := NewController(post, false, Deps{Posts: posts})

		assert.Equal(t, ResultApplied, c.ToggleLike(ctx))
		assert.Equal(t, int32(1), posts.unlikes.Load())
		assert.Equal(t, int32(0), posts.likes.Load())
		assert.False(t, c.State().Liked)
		assert.Equal(t, 2, c.State().Likes)

		assert.Equal(t, ResultApplied, c.ToggleLike(ctx))
		assert.Equal(t, int32(1), posts.likes.Load())
		assert.Equal(t, 3, c.State().Likes)
	})

	t.Run("Failure leaves state and reports", func(t *testing.T) {
		posts := &blockingPosts{err: &apperr.RemoteError{Status: 500, Message: "boom"}}
		var reported []Action
		c := NewController(testPost(), false, Deps{
			Posts:   posts,
			OnError: func(a Action, err error) { reported = append(reported, a) },
		})

		assert.Equal(t, ResultFailed, c.ToggleLike(ctx))
		assert.False(t, c.State().Liked)
		assert.Equal(t, 3, c.State().Likes)
		assert.Equal(t, []Action{ActionLike}, reported)
		assert.False(t, c.InFlight(ActionLike))
	})
}

func TestToggleFavorite(t *testing.T) {
	c := NewController(testPost(), false, Deps{Posts: &blockingPosts{}})
	assert.Equal(t, ResultApplied, c.ToggleFavorite(context.Background()))
	s := c.State()
	assert.True(t, s.Favorited)
	assert.Equal(t, 2, s.Favorites)
}

func TestToggleFollow(t *testing.T) {
	ctx := context.Background()

	t.Run("Follow then unfollow", func(t *testing.T) {
		users := &mockUsers{}
		users.On("Follow", mock.Anything, "u2").Return(nil).Once()
		users.On("Unfollow", mock.Anything, "u2").Return(nil).Once()
		c := NewController(testPost(), false, Deps{Users: users})

		assert.Equal(t, ResultApplied, c.ToggleFollow(ctx))
		assert.True(t, c.State().Following)
		assert.Equal(t, ResultApplied, c.ToggleFollow(ctx))
		assert.False(t, c.State().Following)
		users.AssertExpectations(t)
	})

	t.Run("Post without author id", func(t *testing.T) {
		users := &mockUsers{}
		post := testPost()
		post.Author.ID = ""
		var got error
		c := NewController(post, false, Deps{Users: users, OnError: func(_ Action, err error) { got = err }})

		assert.Equal(t, ResultFailed, c.ToggleFollow(ctx))
		assert.ErrorIs(t, got, apperr.ErrValidation)
		users.AssertNotCalled(t, "Follow", mock.Anything, mock.Anything)
	})
}

func TestSubmitComment(t *testing.T) {
	ctx := context.Background()

	t.Run("Blank draft", func(t *testing.T) {
		comments := &fakeComments{}
		c := NewController(testPost(), false, Deps{Comments: comments})
		c.SetDraft("   ")
		assert.Equal(t, ResultIgnored, c.SubmitComment(ctx, nil, nil))
		assert.Zero(t, comments.calls)
	})

	t.Run("Acknowledged comment is prepended", func(t *testing.T) {
		bus := events.New()
		defer bus.Close()
		added := bus.Channel(ctx, events.TopicCommentAdded, 1)

		comments := &fakeComments{release: make(chan struct{})}
		c := NewController(testPost(), false, Deps{Comments: comments, Bus: bus})
		c.SetDraft("  отличный пост ")

		first := make(chan Result)
		go func() { first <- c.SubmitComment(ctx, nil, nil) }()
		require.Eventually(t, func() bool { return c.InFlight(ActionComment) }, time.Second, 5*time.Millisecond)

		assert.Equal(t, ResultIgnored, c.SubmitComment(ctx, nil, nil))
		assert.Equal(t, "  отличный пост ", c.State().Draft, "Черновик не очищается до ответа сервера")

		close(comments.release)
		assert.Equal(t, ResultApplied, <-first)

		s := c.State()
		assert.Empty(t, s.Draft)
		assert.Equal(t, 2, s.CommentsCount)
		require.Len(t, s.Comments, 2)
		assert.Equal(t, "отличный пост", s.Comments[0].Content)
		assert.Equal(t, "old", s.Comments[1].ID)
		assert.Equal(t, 1, comments.calls)

		select {
		case ev := <-added:
			assert.Equal(t, "отличный пост", ev.Payload.(models.Comment).Content)
		case <-time.After(time.Second):
			t.Fatal("Событие comment:added не получено")
		}
	})

	t.Run("Failure keeps draft", func(t *testing.T) {
		comments := &fakeComments{err: errors.New("network down")}
		c := NewController(testPost(), false, Deps{Comments: comments})
		c.SetDraft("текст")

		assert.Equal(t, ResultFailed, c.SubmitComment(ctx, nil, nil))
		assert.Equal(t, "текст", c.State().Draft)
		assert.Equal(t, 1, c.State().CommentsCount)
	})

	t.Run("Panic clears guard", func(t *testing.T) {
		comments := &fakeComments{panics: true}
		var got error
		c := NewController(testPost(), false, Deps{Comments: comments, OnError: func(_ Action, err error) { got = err }})
		c.SetDraft("текст")

		assert.Equal(t, ResultFailed, c.SubmitComment(ctx, nil, nil))
		assert.Error(t, got)
		assert.False(t, c.InFlight(ActionComment))

		comments.panics = false
		assert.Equal(t, ResultApplied, c.SubmitComment(ctx, nil, nil))
	})
}

func TestWatch(t *testing.T) {
	c := NewController(testPost(), false, Deps{})
	stream := make(chan models.Comment, 4)
	stream <- models.Comment{ID: "x", PostID: "p1", Content: "из потока"}
	stream <- models.Comment{ID: "x", PostID: "p1", Content: "дубль"}
	stream <- models.Comment{ID: "y", PostID: "p2", Content: "чужой пост"}
	close(stream)

	c.Watch(context.Background(), stream)

	s := c.State()
	assert.Equal(t, 2, s.CommentsCount)
	require.Len(t, s.Comments, 2)
	assert.Equal(t, "из потока", s.Comments[0].Content)
}
