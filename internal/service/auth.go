package service

import (
	"context"

	"github.com/ButyrinIA/community/internal/api"
	"github.com/ButyrinIA/community/internal/models"
)

type Auth struct {
	c *api.Client
}

func (s *Auth) SendSMSCode(ctx context.Context, phone string) error {
	if err := ValidatePhone(phone); err != nil {
		return err
	}
	return s.c.Post(ctx, "/auth/sms/send", map[string]string{"phone": phone}, nil)
}

// VerifySMSCode обменивает код на токен; токен клиенту не устанавливается
func (s *Auth) VerifySMSCode(ctx context.Context, phone, code string) (string, *models.User, error) {
	if err := ValidatePhone(phone); err != nil {
		return "", nil, err
	}
	if err := ValidateCode(code); err != nil {
		return "", nil, err
	}
	var res AuthResult
	if err := s.c.Post(ctx, "/auth/sms/verify", map[string]string{"phone": phone, "code": code}, &res); err != nil {
		return "", nil, err
	}
	user := res.User.ToModel()
	return res.Token, &user, nil
}

func (s *Auth) Me(ctx context.Context) (*models.User, error) {
	var dto UserDto
	if err := s.c.Get(ctx, "/auth/me", nil, &dto); err != nil {
		return nil, err
	}
	user := dto.ToModel()
	return &user, nil
}

func (s *Auth) Logout(ctx context.Context) error {
	return s.c.Post(ctx, "/auth/logout", nil, nil)
}
