package server

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/localdb"
	"github.com/ButyrinIA/community/internal/service"
	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	codePrefix      = "sms:"
	maxCodeAttempts = 5
)

type contextKey string

const userContextKey contextKey = "user"

type claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// smsCode - запись кода подтверждения в хранилище кодов; сам код не хранится
type smsCode struct {
	Hash      string `json:"hash"`
	ExpiresAt int64  `json:"expiresAt"`
	Attempts  int    `json:"attempts"`
}

func (s *Server) generateToken(userID string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.Auth.TokenTTL)),
		},
	})
	return token.SignedString(s.secret)
}

func (s *Server) validateJWT(tokenString string) (string, error) {
	if tokenString == "" {
		return "", fmt.Errorf("%w: empty token", apperr.ErrUnauthorized)
	}
	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}
	if c.UserID == "" {
		return "", fmt.Errorf("%w: token has no user", apperr.ErrUnauthorized)
	}
	return c.UserID, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// authenticate возвращает пользователя по токену запроса
func (s *Server) authenticate(r *http.Request) (*userRecord, error) {
	userID, err := s.validateJWT(bearerToken(r))
	if err != nil {
		return nil, err
	}
	user, err := s.loadUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s is gone", apperr.ErrUnauthorized, userID)
		}
		return nil, err
	}
	return user, nil
}

func (s *Server) required(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.authenticate(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	}
}

// optional пропускает запрос без токена; с неверным токеном тоже отвечает 401
func (s *Server) optional(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if bearerToken(r) == "" {
			next(w, r)
			return
		}
		s.required(next)(w, r)
	}
}

func currentUser(ctx context.Context) *userRecord {
	user, _ := ctx.Value(userContextKey).(*userRecord)
	return user
}

func currentUserID(ctx context.Context) string {
	if user := currentUser(ctx); user != nil {
		return user.key()
	}
	return ""
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func (s *Server) handleSendCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := service.ValidatePhone(req.Phone); err != nil {
		writeError(w, r, err)
		return
	}

	code, err := newCode()
	if err != nil {
		writeError(w, r, err)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := json.Marshal(smsCode{
		Hash:      string(hash),
		ExpiresAt: s.now().Add(s.cfg.Auth.CodeTTL).UnixMilli(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.codes.Set(r.Context(), codePrefix+req.Phone, string(entry)); err != nil {
		writeError(w, r, err)
		return
	}

	// SMS-шлюза нет, код виден только в логе
	log.WithFields(log.Fields{"phone": req.Phone, "code": code}).Info("Код подтверждения отправлен")
	writeData(w, nil)
}

// checkCode сверяет код и удаляет запись при успехе или исчерпании попыток
func (s *Server) checkCode(ctx context.Context, phone, code string) error {
	key := codePrefix + phone
	raw, err := s.codes.Get(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Validation("verification code was not requested")
	}
	if err != nil {
		return err
	}
	var entry smsCode
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return fmt.Errorf("decode code entry: %w", err)
	}

	if s.now().After(time.UnixMilli(entry.ExpiresAt)) {
		_ = s.codes.Delete(ctx, key)
		return apperr.Validation("verification code expired")
	}
	if bcrypt.CompareHashAndPassword([]byte(entry.Hash), []byte(code)) != nil {
		entry.Attempts++
		if entry.Attempts >= maxCodeAttempts {
			_ = s.codes.Delete(ctx, key)
			return apperr.Validation("too many attempts, request a new code")
		}
		updated, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := s.codes.Set(ctx, key, string(updated)); err != nil {
			return err
		}
		return apperr.Validation("invalid verification code")
	}
	return s.codes.Delete(ctx, key)
}

func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
		Code  string `json:"code"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := service.ValidatePhone(req.Phone); err != nil {
		writeError(w, r, err)
		return
	}
	if err := service.ValidateCode(req.Code); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.checkCode(r.Context(), req.Phone, req.Code); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := s.findOrCreateUser(r.Context(), req.Phone)
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, err := s.generateToken(user.key())
	if err != nil {
		writeError(w, r, err)
		return
	}
	dto, err := s.userDto(r.Context(), user, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.WithField("user_id", user.key()).Info("Пользователь вошел")
	writeData(w, service.AuthResult{Token: token, User: dto})
}

// findOrCreateUser ищет пользователя по телефону через уникальный индекс username
func (s *Server) findOrCreateUser(ctx context.Context, phone string) (*userRecord, error) {
	cur := s.db.ScanByIndex(ctx, localdb.CollectionUsers, "username", localdb.ScanOptions{Only: phone, Limit: 1})
	var found *userRecord
	if cur.Next() {
		var u userRecord
		if err := cur.Decode(&u); err != nil {
			cur.Close()
			return nil, err
		}
		found = &u
	}
	cur.Close()
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if found != nil {
		return found, nil
	}

	user := &userRecord{
		Username:  phone,
		Phone:     phone,
		Nickname:  "用户" + phone[len(phone)-4:],
		CreatedAt: s.now().UnixMilli(),
	}
	key, err := s.db.Add(ctx, localdb.CollectionUsers, user)
	if err != nil {
		return nil, err
	}
	user.ID = key.(int64)
	log.WithFields(log.Fields{"user_id": user.key(), "phone": phone}).Info("Создан пользователь")
	return user, nil
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	dto, err := s.userDto(r.Context(), currentUser(r.Context()), true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, dto)
}

// handleLogout - токены не отзываются, выход только фиксируется в логе
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	log.WithField("user_id", currentUserID(r.Context())).Info("Пользователь вышел")
	writeData(w, nil)
}
