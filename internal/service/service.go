// Package service - тонкие обертки над эндпоинтами удаленного сервиса.
package service

import (
	"net/url"
	"regexp"
	"strconv"

	"github.com/ButyrinIA/community/internal/api"
	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/models"
)

var (
	phonePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)
	codePattern  = regexp.MustCompile(`^\d{6}$`)
)

func ValidatePhone(phone string) error {
	if !phonePattern.MatchString(phone) {
		return apperr.Validation("invalid phone number format")
	}
	return nil
}

func ValidateCode(code string) error {
	if !codePattern.MatchString(code) {
		return apperr.Validation("verification code must be 6 digits")
	}
	return nil
}

// Services объединяет все сервисы над одним клиентом
type Services struct {
	Auth          *Auth
	Posts         *Posts
	Comments      *Comments
	Users         *Users
	Notifications *Notifications
	Upload        *Upload
}

func New(c *api.Client) *Services {
	return &Services{
		Auth:          &Auth{c: c},
		Posts:         &Posts{c: c},
		Comments:      &Comments{c: c},
		Users:         &Users{c: c},
		Notifications: &Notifications{c: c},
		Upload:        &Upload{c: c},
	}
}

// Page - клиентская нумерация страниц с единицы
type Page struct {
	Page  int
	Limit int
}

const defaultLimit = 20

// query переводит страницу в нумерацию сервера
func (p Page) query() url.Values {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = defaultLimit
	}
	return url.Values{
		"page":  {strconv.Itoa(p.Page - 1)},
		"limit": {strconv.Itoa(p.Limit)},
	}
}

func toPosts(page PageResponse[PostDto]) *models.PaginatedPosts {
	posts := make([]*models.Post, len(page.Data))
	for i, p := range page.Data {
		posts[i] = p.ToModel()
	}
	return &models.PaginatedPosts{
		Posts:      posts,
		TotalCount: int(page.Total),
		HasMore:    page.HasMore(),
		Page:       page.Page + 1,
	}
}

func toUsers(dtos []UserDto) []models.User {
	users := make([]models.User, len(dtos))
	for i, u := range dtos {
		users[i] = u.ToModel()
	}
	return users
}
