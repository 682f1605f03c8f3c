// Package session хранит текущего пользователя и его токен между перезапусками.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/events"
	"github.com/ButyrinIA/community/internal/models"
	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
)

const (
	TokenKey = "auth_token"
	UserKey  = "auth_user"
)

const unauthorizedLogoutTimeout = 5 * time.Second

type State int

const (
	StateUnknown State = iota
	StateRestoring
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateRestoring:
		return "restoring"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Store - постоянное хранилище ключ-значение; Get возвращает apperr.ErrNotFound для отсутствующего ключа
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Remote - вызовы сервиса авторизации
type Remote interface {
	Me(ctx context.Context) (*models.User, error)
	Logout(ctx context.Context) error
	VerifySMSCode(ctx context.Context, phone, code string) (string, *models.User, error)
}

// TokenHolder - получатель bearer-токена (HTTP-клиент)
type TokenHolder interface {
	SetToken(token string)
	ClearToken()
}

type Manager struct {
	store  Store
	remote Remote
	tokens TokenHolder
	now    func() time.Time

	mu    sync.Mutex
	state State
	token string
	user  *models.User
	epoch uint64

	unsubscribe func()
}

// NewManager подписывается на TopicUnauthorized, если bus не nil
func NewManager(store Store, remote Remote, tokens TokenHolder, bus *events.Bus) *Manager {
	m := &Manager{
		store:  store,
		remote: remote,
		tokens: tokens,
		now:    time.Now,
	}
	if bus != nil {
		m.unsubscribe = bus.Subscribe(events.TopicUnauthorized, m.handleUnauthorized)
	}
	return m
}

func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) IsAuthenticated() bool {
	return m.State() == StateAuthenticated
}

// User возвращает копию текущего пользователя или nil
func (m *Manager) User() *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Restore восстанавливает сессию по сохраненному токену. Ошибки не возвращаются:
// любой сбой приводит в состояние anonymous с очисткой сохраненных данных.
func (m *Manager) Restore(ctx context.Context) *models.User {
	m.mu.Lock()
	m.state = StateRestoring
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	token, err := m.store.Get(ctx, TokenKey)
	if err != nil || token == "" {
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			log.WithError(err).Warn("Не удалось прочитать сохраненный токен")
		}
		// без токена кэшированный пользователь тоже устарел
		m.finishAnonymous(ctx, epoch, true)
		return nil
	}

	if expired(token, m.now()) {
		log.Info("Сохраненный токен истек, сессия сброшена")
		m.finishAnonymous(ctx, epoch, true)
		return nil
	}

	m.tokens.SetToken(token)
	user, err := m.remote.Me(ctx)
	if err != nil {
		log.WithError(err).Info("Не удалось восстановить сессию")
		m.finishAnonymous(ctx, epoch, true)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		// за время запроса состояние сменил Login или Logout
		return m.copyUser()
	}
	if err := m.persistUser(ctx, user); err != nil {
		log.WithError(err).Warn("Не удалось сохранить пользователя")
	}
	m.state = StateAuthenticated
	m.token = token
	m.user = user
	log.WithField("user_id", user.ID).Info("Сессия восстановлена")
	return m.copyUser()
}

func (m *Manager) finishAnonymous(ctx context.Context, epoch uint64, purge bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return
	}
	if purge {
		m.purgeLocked(ctx)
	}
	m.state = StateAnonymous
}

// expired проверяет поле exp токена без проверки подписи; токен не в формате JWT считается действующим
func expired(token string, now time.Time) bool {
	if strings.Count(token, ".") != 2 {
		return false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !claims.ExpiresAt.After(now)
}

// Login сохраняет токен и пользователя после внешней проверки (например, SMS-кода)
func (m *Manager) Login(ctx context.Context, token string, user *models.User) error {
	if token == "" || user == nil {
		return apperr.Validation("token and user are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Set(ctx, TokenKey, token); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	if err := m.persistUser(ctx, user); err != nil {
		m.store.Delete(ctx, TokenKey)
		return fmt.Errorf("persist user: %w", err)
	}
	m.tokens.SetToken(token)
	u := *user
	m.token = token
	m.user = &u
	m.state = StateAuthenticated
	m.epoch++
	log.WithField("user_id", user.ID).Info("Пользователь вошел")
	return nil
}

// LoginWithSMS проверяет код и выполняет Login
func (m *Manager) LoginWithSMS(ctx context.Context, phone, code string) (*models.User, error) {
	token, user, err := m.remote.VerifySMSCode(ctx, phone, code)
	if err != nil {
		return nil, err
	}
	if err := m.Login(ctx, token, user); err != nil {
		return nil, err
	}
	return m.User(), nil
}

// Logout всегда завершается локально, ошибка удаленного вызова только логируется
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	hadToken := m.token != ""
	m.mu.Unlock()

	if hadToken {
		if err := m.remote.Logout(ctx); err != nil {
			log.WithError(err).Warn("Ошибка при выходе на сервере")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(ctx)
	m.state = StateAnonymous
	m.epoch++
}

// UpdateUser сливает поля в текущего пользователя; без сессии ничего не делает
func (m *Manager) UpdateUser(patch models.UserPatch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAuthenticated || m.user == nil {
		return
	}
	m.user.Apply(patch)
}

// handleUnauthorized сбрасывает сессию не более одного раза за период авторизации.
// Удаленный logout выполняется после сброса, его ошибки только логируются.
func (m *Manager) handleUnauthorized(ev events.Event) {
	m.mu.Lock()
	if m.state != StateAuthenticated {
		m.mu.Unlock()
		return
	}
	log.WithField("source", ev.Payload).Warn("Сессия недействительна, выполняется выход")
	m.purgeLocked(context.Background())
	m.state = StateAnonymous
	m.epoch++
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), unauthorizedLogoutTimeout)
	defer cancel()
	if err := m.remote.Logout(ctx); err != nil {
		log.WithError(err).Debug("Удаленный logout после 401 не выполнен")
	}
}

func (m *Manager) purgeLocked(ctx context.Context) {
	if err := m.store.Delete(ctx, TokenKey, UserKey); err != nil {
		log.WithError(err).Warn("Не удалось удалить сохраненную сессию")
	}
	m.tokens.ClearToken()
	m.token = ""
	m.user = nil
}

func (m *Manager) persistUser(ctx context.Context, user *models.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, UserKey, string(raw))
}

func (m *Manager) copyUser() *models.User {
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// StoredUser читает закешированного пользователя без обращения к сети
func (m *Manager) StoredUser(ctx context.Context) (*models.User, error) {
	raw, err := m.store.Get(ctx, UserKey)
	if err != nil {
		return nil, err
	}
	var u models.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("decode cached user: %w", err)
	}
	return &u, nil
}
