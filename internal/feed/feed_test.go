package feed

import (
	"context"
	"errors"
	"testing"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/models"
	"github.com/ButyrinIA/community/internal/service"
	"github.com/ButyrinIA/community/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStorage падает на ListPosts, пока down=true
type flakyStorage struct {
	*memory.MemoryStorage
	down bool
}

func (s *flakyStorage) ListPosts(ctx context.Context, p models.ListParams) (*models.PaginatedPosts, error) {
	if s.down {
		return nil, &apperr.RemoteError{Status: 503, Message: "unavailable"}
	}
	return s.MemoryStorage.ListPosts(ctx, p)
}

type staticTags struct {
	tags []service.TagDto
	err  error
}

func (s staticTags) Tags(context.Context, int) ([]service.TagDto, error) {
	return s.tags, s.err
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("Primary source", func(t *testing.T) {
		primary := &flakyStorage{MemoryStorage: memory.New()}
		_, err := primary.CreatePost(ctx, models.PostInput{Title: "Пост", Content: "текст"})
		require.NoError(t, err)

		page, err := New(primary, nil).Load(ctx, models.ListParams{})
		require.NoError(t, err)
		assert.False(t, page.Offline)
		assert.Empty(t, page.Notice)
		require.Len(t, page.Posts, 1)
		assert.Equal(t, "Пост", page.Posts[0].Title)
	})

	t.Run("Falls back offline and retries", func(t *testing.T) {
		primary := &flakyStorage{MemoryStorage: memory.New(), down: true}
		f := New(primary, nil)

		page, err := f.Load(ctx, models.ListParams{Tag: "自闭症"})
		require.NoError(t, err)
		assert.True(t, page.Offline)
		assert.Equal(t, OfflineNotice, page.Notice)
		require.Len(t, page.Posts, 2)
		for _, p := range page.Posts {
			assert.Contains(t, p.Tags, "自闭症")
			assert.Equal(t, models.SourceOffline, p.Source)
		}

		primary.down = false
		page, err = f.Retry(ctx)
		require.NoError(t, err)
		assert.False(t, page.Offline)
		assert.Empty(t, page.Posts)
	})

	t.Run("Offline search", func(t *testing.T) {
		f := New(&flakyStorage{MemoryStorage: memory.New(), down: true}, nil)
		page, err := f.Load(ctx, models.ListParams{Search: "盲文"})
		require.NoError(t, err)
		require.Len(t, page.Posts, 1)
		assert.Equal(t, "阳光爸爸", page.Posts[0].Author.Nickname)
	})

	t.Run("Cancelled context is not masked", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := New(&flakyStorage{MemoryStorage: memory.New(), down: true}, nil).Load(cctx, models.ListParams{})
		assert.Error(t, err)
	})
}

func TestTags(t *testing.T) {
	ctx := context.Background()

	f := New(memory.New(), staticTags{tags: []service.TagDto{{Name: "教育"}, {Name: "视障"}}})
	assert.Equal(t, []string{"教育", "视障"}, f.Tags(ctx))

	f = New(memory.New(), staticTags{err: errors.New("timeout")})
	assert.Equal(t, memory.FallbackTags, f.Tags(ctx))

	tags := New(memory.New(), nil).Tags(ctx)
	tags[0] = "изменено"
	assert.NotEqual(t, "изменено", memory.FallbackTags[0])
}

func TestProfile(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	for _, in := range []models.PostInput{
		{Content: "1", Author: models.Author{ID: "u1", Nickname: "Анна"}},
		{Content: "2", Author: models.Author{ID: "u2", Nickname: "Борис"}},
		{Content: "3", Author: models.Author{ID: "u1", Nickname: "Анна"}},
	} {
		_, err := store.CreatePost(ctx, in)
		require.NoError(t, err)
	}
	f := New(store, nil)

	// id и имя одного автора дают одни и те же посты
	posts, err := f.Profile(ctx, "Анна", "", "u1", "Анна", "Борис")
	require.NoError(t, err)
	require.Len(t, posts, 3)

	var contents []string
	for _, p := range posts {
		contents = append(contents, p.Content)
	}
	assert.ElementsMatch(t, []string{"1", "2", "3"}, contents)
	assert.Equal(t, "Борис", posts[2].Author.Nickname)

	posts, err = f.Profile(ctx)
	require.NoError(t, err)
	assert.Empty(t, posts)
}
