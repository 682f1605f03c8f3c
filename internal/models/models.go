package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ButyrinIA/community/internal/apperr"
)

// Source показывает, из какого хранилища пришел пост
type Source string

const (
	SourceLocal    Source = "local"
	SourceRemote   Source = "remote"
	SourcePostgres Source = "postgres"
	SourceOffline  Source = "offline"
)

const (
	TypeAll     = "all"
	TypeArticle = "article"
	TypeVideo   = "video"

	StatusPublished = "published"

	FeedRecommended = "recommended"
	FeedFollowing   = "following"

	DefaultPageSize = 10
)

// Ограничения ввода, совпадают с валидацией сервера
const (
	MaxTitleLength   = 100
	MaxContentLength = 1000
	MaxMediaFiles    = 9
	MaxTags          = 5
	MaxCommentLength = 500
	MaxMentions      = 5
)

type Author struct {
	ID        string `json:"id,omitempty"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Post - каноническая форма поста, в нее приводятся все хранилища
type Post struct {
	ID            string    `json:"id"`
	Source        Source    `json:"source"`
	Author        Author    `json:"author"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	Type          string    `json:"type"`
	MediaURLs     []string  `json:"mediaUrls"`
	VideoURL      string    `json:"videoUrl,omitempty"`
	VideoPoster   string    `json:"videoPoster,omitempty"`
	Tags          []string  `json:"tags"`
	Likes         int       `json:"likes"`
	Favorites     int       `json:"favorites"`
	Comments      []Comment `json:"comments,omitempty"`
	CommentsCount int       `json:"commentsCount"`
	IsLiked       bool      `json:"isLiked"`
	IsFavorited   bool      `json:"isFavorited"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	ParentID  *string   `json:"parentId,omitempty"`
	Author    Author    `json:"author"`
	Content   string    `json:"content"`
	Mentions  []string  `json:"mentions,omitempty"`
	Likes     int       `json:"likes"`
	CreatedAt time.Time `json:"createdAt"`
}

type User struct {
	ID             string `json:"id"`
	Phone          string `json:"phone,omitempty"`
	Nickname       string `json:"nickname"`
	AvatarURL      string `json:"avatarUrl,omitempty"`
	Bio            string `json:"bio,omitempty"`
	PostsCount     int    `json:"postsCount"`
	FollowersCount int    `json:"followersCount"`
	FollowingCount int    `json:"followingCount"`
}

// UserPatch - частичное обновление профиля, nil-поля не трогаются
type UserPatch struct {
	Nickname       *string `json:"nickname,omitempty"`
	AvatarURL      *string `json:"avatarUrl,omitempty"`
	Bio            *string `json:"bio,omitempty"`
	PostsCount     *int    `json:"postsCount,omitempty"`
	FollowersCount *int    `json:"followersCount,omitempty"`
	FollowingCount *int    `json:"followingCount,omitempty"`
}

// Apply поверхностно сливает патч в пользователя
func (u *User) Apply(p UserPatch) {
	if p.Nickname != nil {
		u.Nickname = *p.Nickname
	}
	if p.AvatarURL != nil {
		u.AvatarURL = *p.AvatarURL
	}
	if p.Bio != nil {
		u.Bio = *p.Bio
	}
	if p.PostsCount != nil {
		u.PostsCount = *p.PostsCount
	}
	if p.FollowersCount != nil {
		u.FollowersCount = *p.FollowersCount
	}
	if p.FollowingCount != nil {
		u.FollowingCount = *p.FollowingCount
	}
}

func (u User) AsAuthor() Author {
	return Author{ID: u.ID, Nickname: u.Nickname, AvatarURL: u.AvatarURL}
}

type PostInput struct {
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Type        string   `json:"type,omitempty"`
	Author      Author   `json:"author"`
	MediaURLs   []string `json:"mediaUrls,omitempty"`
	VideoURL    string   `json:"videoUrl,omitempty"`
	VideoPoster string   `json:"videoPoster,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Status      string   `json:"status,omitempty"`
}

// Validate проверяет ввод и проставляет значения по умолчанию
func (in *PostInput) Validate() error {
	if strings.TrimSpace(in.Content) == "" {
		return apperr.Validation("content is required")
	}
	if utf8.RuneCountInString(in.Title) > MaxTitleLength {
		return apperr.Validation("title exceeds %d characters", MaxTitleLength)
	}
	if utf8.RuneCountInString(in.Content) > MaxContentLength {
		return apperr.Validation("content exceeds %d characters", MaxContentLength)
	}
	if len(in.MediaURLs) > MaxMediaFiles {
		return apperr.Validation("maximum %d media files allowed", MaxMediaFiles)
	}
	if len(in.Tags) > MaxTags {
		return apperr.Validation("maximum %d tags allowed", MaxTags)
	}
	switch in.Type {
	case "":
		in.Type = TypeArticle
	case TypeArticle, TypeVideo:
	default:
		return apperr.Validation("unknown post type %q", in.Type)
	}
	if in.Type != TypeVideo {
		in.VideoURL, in.VideoPoster = "", ""
	}
	if in.Status == "" {
		in.Status = StatusPublished
	}
	return nil
}

type CommentInput struct {
	Content  string   `json:"content"`
	ParentID *string  `json:"parent_id,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
	Author   Author   `json:"-"`
}

func (in *CommentInput) Validate() error {
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" {
		return apperr.Validation("comment content is required")
	}
	if utf8.RuneCountInString(in.Content) > MaxCommentLength {
		return apperr.Validation("comment exceeds %d characters", MaxCommentLength)
	}
	if len(in.Mentions) > MaxMentions {
		return apperr.Validation("maximum %d mentions allowed", MaxMentions)
	}
	return nil
}

// ListParams - параметры постраничной выборки ленты
type ListParams struct {
	Type     string
	Page     int
	Limit    int
	AuthorID string
	Status   string
	Tag      string
	Search   string
	FeedType string
}

// Normalize возвращает копию с примененными значениями по умолчанию
func (p ListParams) Normalize() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageSize
	}
	if p.Type == "" {
		p.Type = TypeAll
	}
	if p.Status == "" {
		p.Status = StatusPublished
	}
	if p.FeedType == "" {
		p.FeedType = FeedRecommended
	}
	return p
}

func (p ListParams) Skip() int {
	return (p.Page - 1) * p.Limit
}

// Matches применяет фильтры в порядке: тип, автор, статус, тег, поиск
func (p ListParams) Matches(post *Post) bool {
	if p.Type != "" && p.Type != TypeAll && post.Type != p.Type {
		return false
	}
	if p.AuthorID != "" && post.Author.ID != p.AuthorID {
		return false
	}
	status := p.Status
	if status == "" {
		status = StatusPublished
	}
	if post.Status != status {
		return false
	}
	if p.Tag != "" && !containsString(post.Tags, p.Tag) {
		return false
	}
	if p.Search != "" {
		q := strings.ToLower(p.Search)
		if !strings.Contains(strings.ToLower(post.Title), q) && !strings.Contains(strings.ToLower(post.Content), q) {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type PaginatedPosts struct {
	Posts      []*Post `json:"posts"`
	TotalCount int     `json:"totalCount"`
	HasMore    bool    `json:"hasMore"`
	Page       int     `json:"page"`
}

type PaginatedComments struct {
	Comments   []Comment `json:"comments"`
	TotalCount int       `json:"totalCount"`
	HasMore    bool      `json:"hasMore"`
}
