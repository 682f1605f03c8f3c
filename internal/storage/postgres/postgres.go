package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/models"
	"github.com/ButyrinIA/community/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postColumns = `id, author_id, author_name, author_avatar, title, content, type, media_urls,
	video_url, video_poster, tags, likes, favorites, comments, status, created_at`

// условия фильтрации ленты; порядок совпадает с ListParams.Matches
const listWhere = `
	WHERE ($1 = 'all' OR type = $1)
	AND ($2 = '' OR author_id = $2)
	AND status = $3
	AND ($4 = '' OR $4 = ANY(tags))
	AND ($5 = '' OR title ILIKE '%' || $5 || '%' OR content ILIKE '%' || $5 || '%')`

type PostgresStorage struct {
	pool *pgxpool.Pool
}

func New(dsn string) (*PostgresStorage, error) {
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to postgres: %v", apperr.ErrStorageUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to connect to postgres: %v", apperr.ErrStorageUnavailable, err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS posts (
			id BIGSERIAL PRIMARY KEY,
			author_id TEXT NOT NULL DEFAULT '',
			author_name TEXT NOT NULL DEFAULT '',
			author_avatar TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'article',
			media_urls TEXT[] NOT NULL DEFAULT '{}',
			video_url TEXT NOT NULL DEFAULT '',
			video_poster TEXT NOT NULL DEFAULT '',
			tags TEXT[] NOT NULL DEFAULT '{}',
			likes INTEGER NOT NULL DEFAULT 0 CHECK (likes >= 0),
			favorites INTEGER NOT NULL DEFAULT 0,
			comments JSONB NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'published',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at DESC, id DESC);
		CREATE INDEX IF NOT EXISTS idx_posts_author_id ON posts(author_id);
	`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to create tables: %v", apperr.ErrStorageUnavailable, err)
	}

	return &PostgresStorage{pool: pool}, nil
}

func scanPost(row pgx.Row) (*models.Post, error) {
	var (
		p  models.Post
		id int64
	)
	err := row.Scan(&id, &p.Author.ID, &p.Author.Nickname, &p.Author.AvatarURL, &p.Title, &p.Content,
		&p.Type, &p.MediaURLs, &p.VideoURL, &p.VideoPoster, &p.Tags, &p.Likes, &p.Favorites,
		&p.Comments, &p.Status, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.ID = strconv.FormatInt(id, 10)
	p.Source = models.SourcePostgres
	p.CommentsCount = len(p.Comments)
	for i := range p.Comments {
		p.Comments[i].PostID = p.ID
	}
	return &p, nil
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("post %q: %w", id, apperr.ErrNotFound)
	}
	return n, nil
}

func queryError(id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("post %q: %w", id, apperr.ErrNotFound)
	}
	return fmt.Errorf("%w: %v", apperr.ErrTransactionFailed, err)
}

func (s *PostgresStorage) CreatePost(ctx context.Context, input models.PostInput) (*models.Post, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO posts (author_id, author_name, author_avatar, title, content, type, media_urls,
			video_url, video_poster, tags, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+postColumns,
		input.Author.ID, input.Author.Nickname, input.Author.AvatarURL, input.Title, input.Content,
		input.Type, nonNil(input.MediaURLs), input.VideoURL, input.VideoPoster, nonNil(input.Tags),
		input.Status, time.Now())
	post, err := scanPost(row)
	if err != nil {
		return nil, queryError("", err)
	}
	return post, nil
}

func (s *PostgresStorage) GetPost(ctx context.Context, id string) (*models.Post, error) {
	key, err := parseID(id)
	if err != nil {
		return nil, err
	}
	post, err := scanPost(s.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id=$1`, key))
	if err != nil {
		return nil, queryError(id, err)
	}
	return post, nil
}

// ListPosts возвращает точный TotalCount, в отличие от локального хранилища
func (s *PostgresStorage) ListPosts(ctx context.Context, params models.ListParams) (*models.PaginatedPosts, error) {
	params = params.Normalize()
	args := []any{params.Type, params.AuthorID, params.Status, params.Tag, params.Search}

	// Подсчет общего количества
	var totalCount int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM posts`+listWhere, args...).Scan(&totalCount); err != nil {
		return nil, queryError("", err)
	}

	query := `SELECT ` + postColumns + ` FROM posts` + listWhere + `
		ORDER BY created_at DESC, id DESC
		LIMIT $6 OFFSET $7`
	rows, err := s.pool.Query(ctx, query, append(args, params.Limit+1, params.Skip())...)
	if err != nil {
		return nil, queryError("", err)
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, queryError("", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("", err)
	}

	hasMore := len(posts) > params.Limit
	if hasMore {
		posts = posts[:params.Limit]
	}

	return &models.PaginatedPosts{
		Posts:      posts,
		TotalCount: totalCount,
		HasMore:    hasMore,
		Page:       params.Page,
	}, nil
}

func (s *PostgresStorage) ListPostsByAuthor(ctx context.Context, author string) ([]*models.Post, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE $1 <> '' AND (author_id = $1 OR author_name = $1)
		ORDER BY created_at DESC, id DESC`, author)
	if err != nil {
		return nil, queryError("", err)
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, queryError("", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("", err)
	}
	return posts, nil
}

// LikePost - атомарный инкремент на стороне базы
func (s *PostgresStorage) LikePost(ctx context.Context, id string) (*models.Post, error) {
	key, err := parseID(id)
	if err != nil {
		return nil, err
	}
	post, err := scanPost(s.pool.QueryRow(ctx,
		`UPDATE posts SET likes = likes + 1 WHERE id=$1 RETURNING `+postColumns, key))
	if err != nil {
		return nil, queryError(id, err)
	}
	return post, nil
}

func (s *PostgresStorage) AdjustCounters(ctx context.Context, id string, likes, favorites int) (*models.Post, error) {
	key, err := parseID(id)
	if err != nil {
		return nil, err
	}
	post, err := scanPost(s.pool.QueryRow(ctx, `
		UPDATE posts SET likes = GREATEST(likes + $2, 0), favorites = GREATEST(favorites + $3, 0)
		WHERE id=$1 RETURNING `+postColumns, key, likes, favorites))
	if err != nil {
		return nil, queryError(id, err)
	}
	return post, nil
}

// AddComment дописывает комментарий в JSONB-массив одним UPDATE
func (s *PostgresStorage) AddComment(ctx context.Context, postID string, input models.CommentInput) (*models.Comment, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	key, err := parseID(postID)
	if err != nil {
		return nil, err
	}

	comment := models.Comment{
		ID:        uuid.New().String(),
		PostID:    postID,
		ParentID:  input.ParentID,
		Author:    input.Author,
		Content:   input.Content,
		Mentions:  input.Mentions,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(comment)
	if err != nil {
		return nil, err
	}

	var updated int64
	err = s.pool.QueryRow(ctx, `
		UPDATE posts SET comments = comments || jsonb_build_array($2::jsonb)
		WHERE id=$1
		RETURNING id`, key, string(raw)).Scan(&updated)
	if err != nil {
		return nil, queryError(postID, err)
	}
	return &comment, nil
}

func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var (
	_ storage.Storage         = (*PostgresStorage)(nil)
	_ storage.CounterAdjuster = (*PostgresStorage)(nil)
)
