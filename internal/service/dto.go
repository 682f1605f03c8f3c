package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ButyrinIA/community/internal/models"
)

// Timestamp принимает время сервера в нескольких форматах, включая LocalDateTime без зоны
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] != '"' {
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("bad timestamp %s: %w", b, err)
		}
		t.Time = time.UnixMilli(ms)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("bad timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

type UserDto struct {
	ID             string `json:"id"`
	Phone          string `json:"phone,omitempty"`
	Nickname       string `json:"nickname"`
	AvatarURL      string `json:"avatarUrl,omitempty"`
	Bio            string `json:"bio,omitempty"`
	PostsCount     int    `json:"postsCount"`
	FollowersCount int    `json:"followersCount"`
	FollowingCount int    `json:"followingCount"`
}

func (u UserDto) ToModel() models.User {
	return models.User{
		ID:             u.ID,
		Phone:          u.Phone,
		Nickname:       u.Nickname,
		AvatarURL:      u.AvatarURL,
		Bio:            u.Bio,
		PostsCount:     u.PostsCount,
		FollowersCount: u.FollowersCount,
		FollowingCount: u.FollowingCount,
	}
}

func UserFromModel(u models.User) UserDto {
	return UserDto{
		ID:             u.ID,
		Phone:          u.Phone,
		Nickname:       u.Nickname,
		AvatarURL:      u.AvatarURL,
		Bio:            u.Bio,
		PostsCount:     u.PostsCount,
		FollowersCount: u.FollowersCount,
		FollowingCount: u.FollowingCount,
	}
}

type PostDto struct {
	ID             string    `json:"id"`
	Author         UserDto   `json:"author"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	MediaType      string    `json:"mediaType,omitempty"`
	MediaURLs      []string  `json:"mediaUrls"`
	VideoPoster    string    `json:"videoPoster,omitempty"`
	Tags           []string  `json:"tags"`
	LikesCount     int       `json:"likesCount"`
	CommentsCount  int       `json:"commentsCount"`
	FavoritesCount int       `json:"favoritesCount"`
	IsLiked        bool      `json:"isLiked"`
	IsFavorited    bool      `json:"isFavorited"`
	Status         string    `json:"status,omitempty"`
	CreatedAt      Timestamp `json:"createdAt"`
	UpdatedAt      Timestamp `json:"updatedAt"`
}

// ToModel приводит ответ сервера к канонической форме поста
func (p PostDto) ToModel() *models.Post {
	post := &models.Post{
		ID:            p.ID,
		Source:        models.SourceRemote,
		Author:        p.Author.ToModel().AsAuthor(),
		Title:         p.Title,
		Content:       p.Content,
		Type:          models.TypeArticle,
		MediaURLs:     p.MediaURLs,
		Tags:          p.Tags,
		Likes:         p.LikesCount,
		Favorites:     p.FavoritesCount,
		CommentsCount: p.CommentsCount,
		IsLiked:       p.IsLiked,
		IsFavorited:   p.IsFavorited,
		Status:        p.Status,
		CreatedAt:     p.CreatedAt.Time,
	}
	if post.Status == "" {
		post.Status = models.StatusPublished
	}
	if p.MediaType == models.TypeVideo {
		post.Type = models.TypeVideo
		post.VideoPoster = p.VideoPoster
		if len(p.MediaURLs) > 0 {
			post.VideoURL = p.MediaURLs[0]
		}
	}
	return post
}

func PostFromModel(p *models.Post) PostDto {
	dto := PostDto{
		ID:             p.ID,
		Author:         UserDto{ID: p.Author.ID, Nickname: p.Author.Nickname, AvatarURL: p.Author.AvatarURL},
		Title:          p.Title,
		Content:        p.Content,
		MediaType:      "image",
		MediaURLs:      p.MediaURLs,
		Tags:           p.Tags,
		LikesCount:     p.Likes,
		CommentsCount:  p.CommentsCount,
		FavoritesCount: p.Favorites,
		IsLiked:        p.IsLiked,
		IsFavorited:    p.IsFavorited,
		Status:         p.Status,
		CreatedAt:      Timestamp{p.CreatedAt},
	}
	if p.Type == models.TypeVideo {
		dto.MediaType = models.TypeVideo
		dto.VideoPoster = p.VideoPoster
		if p.VideoURL != "" && (len(p.MediaURLs) == 0 || p.MediaURLs[0] != p.VideoURL) {
			dto.MediaURLs = append([]string{p.VideoURL}, p.MediaURLs...)
		}
	}
	if dto.MediaURLs == nil {
		dto.MediaURLs = []string{}
	}
	if dto.Tags == nil {
		dto.Tags = []string{}
	}
	return dto
}

type CreatePostRequest struct {
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	MediaType   string   `json:"mediaType,omitempty"`
	MediaURLs   []string `json:"mediaUrls,omitempty"`
	VideoPoster string   `json:"videoPoster,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func CreatePostFromInput(in models.PostInput) CreatePostRequest {
	req := CreatePostRequest{
		Title:     in.Title,
		Content:   in.Content,
		MediaType: "image",
		MediaURLs: in.MediaURLs,
		Tags:      in.Tags,
	}
	if in.Type == models.TypeVideo {
		req.MediaType = models.TypeVideo
		req.VideoPoster = in.VideoPoster
		if in.VideoURL != "" {
			req.MediaURLs = append([]string{in.VideoURL}, in.MediaURLs...)
		}
	}
	return req
}

// Input восстанавливает PostInput из тела запроса
func (r CreatePostRequest) Input() models.PostInput {
	in := models.PostInput{
		Title:     r.Title,
		Content:   r.Content,
		Type:      models.TypeArticle,
		MediaURLs: r.MediaURLs,
		Tags:      r.Tags,
	}
	if r.MediaType == models.TypeVideo {
		in.Type = models.TypeVideo
		in.VideoPoster = r.VideoPoster
		if len(r.MediaURLs) > 0 {
			in.VideoURL = r.MediaURLs[0]
			in.MediaURLs = r.MediaURLs[1:]
		}
	}
	return in
}

type CommentDto struct {
	ID         string       `json:"id"`
	Author     UserDto      `json:"author"`
	PostID     string       `json:"postId"`
	ParentID   *string      `json:"parentId,omitempty"`
	Content    string       `json:"content"`
	LikesCount int          `json:"likesCount"`
	IsLiked    bool         `json:"isLiked"`
	Mentions   []UserDto    `json:"mentions,omitempty"`
	Replies    []CommentDto `json:"replies,omitempty"`
	CreatedAt  Timestamp    `json:"createdAt"`
}

func (c CommentDto) ToModel() models.Comment {
	comment := models.Comment{
		ID:        c.ID,
		PostID:    c.PostID,
		ParentID:  c.ParentID,
		Author:    c.Author.ToModel().AsAuthor(),
		Content:   c.Content,
		Likes:     c.LikesCount,
		CreatedAt: c.CreatedAt.Time,
	}
	for _, m := range c.Mentions {
		comment.Mentions = append(comment.Mentions, m.ID)
	}
	return comment
}

func CommentFromModel(c models.Comment) CommentDto {
	dto := CommentDto{
		ID:         c.ID,
		Author:     UserDto{ID: c.Author.ID, Nickname: c.Author.Nickname, AvatarURL: c.Author.AvatarURL},
		PostID:     c.PostID,
		ParentID:   c.ParentID,
		Content:    c.Content,
		LikesCount: c.Likes,
		CreatedAt:  Timestamp{c.CreatedAt},
	}
	for _, id := range c.Mentions {
		dto.Mentions = append(dto.Mentions, UserDto{ID: id})
	}
	return dto
}

type CreateCommentRequest struct {
	Content  string   `json:"content"`
	ParentID *string  `json:"parentId,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
}

type NotificationDto struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Actor     *UserDto  `json:"actor,omitempty"`
	RelatedID string    `json:"relatedId,omitempty"`
	Content   string    `json:"content"`
	IsRead    bool      `json:"isRead"`
	CreatedAt Timestamp `json:"createdAt"`
}

type TagDto struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	UsageCount int    `json:"usageCount"`
}

// PageResponse - страница сервера; нумерация страниц с нуля
type PageResponse[T any] struct {
	Data       []T   `json:"data"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// HasMore сообщает, есть ли страницы после текущей
func (p PageResponse[T]) HasMore() bool {
	return p.Page+1 < p.TotalPages
}

func NewPage[T any](data []T, page, limit int, total int64) PageResponse[T] {
	if data == nil {
		data = []T{}
	}
	totalPages := 0
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return PageResponse[T]{Data: data, Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}

type AuthResult struct {
	Token string  `json:"token"`
	User  UserDto `json:"user"`
}

type UploadResult struct {
	URL      string `json:"url"`
	UploadID string `json:"upload_id,omitempty"`
}

const (
	VideoProcessing = "processing"
	VideoCompleted  = "completed"
	VideoFailed     = "failed"
)

type VideoStatus struct {
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
	Poster string `json:"poster,omitempty"`
	Error  string `json:"error,omitempty"`
}
