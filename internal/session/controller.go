// Package session управляет жизненным циклом аутентификации и привязки к тележке.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mmeshcher/smartcart/internal/model"
	"github.com/mmeshcher/smartcart/internal/remote"
	"github.com/mmeshcher/smartcart/internal/repository"
	"github.com/mmeshcher/smartcart/internal/validation"
)

// StorageKey задаёт ключ, под которым хранится сериализованная сессия клиента.
const StorageKey = "smartcart.auth"

var (
	// ErrNotAuthenticated возвращается, если нет действующего токена доступа.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrLoginFailed возвращается при любой неудаче входа.
	ErrLoginFailed = errors.New("invalid credentials")
	// ErrNoCartSession возвращается, если клиент не привязан к сессии тележки.
	ErrNoCartSession = errors.New("no cart session bound")
	// ErrInvalidCartCode возвращается для синтаксически неверного кода тележки.
	ErrInvalidCartCode = errors.New("invalid cart code")
)

// Status описывает состояние жизненного цикла клиента.
type Status string

const (
	StatusUnauthenticated Status = "unauthenticated"
	StatusAuthenticated   Status = "authenticated"
	StatusCartBound       Status = "cart_bound"
	StatusCheckedOut      Status = "checked_out"
)

// Backend описывает вызовы бэкенда, нужные контроллеру.
type Backend interface {
	Login(ctx context.Context, email, password string) (*remote.LoginResponse, error)
	StartSession(ctx context.Context, token, cartCode string) (int64, error)
	GetSession(ctx context.Context, scope remote.Scope, token string, sessionID int64) (*model.CartSession, error)
}

// Store описывает долговременное хранилище сериализованной сессии.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Controller хранит сессию клиента и переводит её между состояниями.
type Controller struct {
	backend Backend
	store   Store
	logger  *zap.Logger

	backoff func() retry.Backoff
	now     func() time.Time

	mu         sync.RWMutex
	state      *model.Session
	checkedOut bool
}

// NewController создаёт контроллер без сессии; для восстановления состояния вызовите Hydrate.
func NewController(backend Backend, store Store, logger *zap.Logger) *Controller {
	return &Controller{
		backend: backend,
		store:   store,
		logger:  logger,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
		},
		now: time.Now,
	}
}

// Hydrate читает сохранённую сессию. Отсутствие сохранённого состояния не считается ошибкой.
func (c *Controller) Hydrate(ctx context.Context) error {
	data, err := c.store.Load(ctx, StorageKey)
	if err != nil {
		if errors.Is(err, repository.ErrStateNotFound) {
			return nil
		}
		return fmt.Errorf("load session: %w", err)
	}

	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		c.logger.Warn("discarding unreadable session state", zap.Error(err))
		_ = c.store.Delete(ctx, StorageKey)
		return nil
	}

	c.mu.Lock()
	c.state = &s
	c.checkedOut = false
	c.mu.Unlock()

	return nil
}

// Login проверяет учётные данные на бэкенде и сохраняет выданную сессию.
func (c *Controller) Login(ctx context.Context, email, password string) (*model.Session, error) {
	if email == "" || password == "" {
		return nil, ErrLoginFailed
	}

	resp, err := c.backend.Login(ctx, email, password)
	if err != nil {
		c.logger.Warn("login failed", zap.String("email", email), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if resp.Tokens.Access == "" {
		return nil, ErrLoginFailed
	}

	s := &model.Session{
		User:   resp.User,
		Tokens: resp.Tokens,
		Cart:   resp.Cart,
	}
	if s.User.Email == "" {
		s.User.Email = email
	}

	c.mu.Lock()
	c.state = s.Clone()
	c.checkedOut = false
	c.mu.Unlock()

	c.persist(ctx, s)

	return s, nil
}

// StartCartSession привязывает клиента к сессии тележки. Повторный вызов безопасен:
// бэкенд не создаёт вторую сессию, а возвращённый идентификатор считается авторитетным.
func (c *Controller) StartCartSession(ctx context.Context, cartCode string) (*model.CartBinding, error) {
	code := validation.NormalizeCartCode(cartCode)
	if !validation.IsValidCartCode(code) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCartCode, cartCode)
	}

	token, err := c.AccessToken()
	if err != nil {
		return nil, err
	}

	var sessionID int64
	err = retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		id, err := c.backend.StartSession(ctx, token, code)
		if err != nil {
			if remote.IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		sessionID = id
		return nil
	})
	if err != nil {
		c.logger.Warn("start cart session failed", zap.String("cart", code), zap.Error(err))
		return nil, fmt.Errorf("start cart session: %w", err)
	}

	binding := model.CartBinding{CartCode: code, SessionID: sessionID}

	c.mu.Lock()
	if c.state == nil {
		c.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	c.state.Cart = &binding
	c.checkedOut = false
	current := c.state.Clone()
	c.mu.Unlock()

	c.mergeCart(ctx, current, binding)

	return &binding, nil
}

// CurrentSession возвращает каноническую запись привязанной сессии.
// Ошибка здесь служит единственным сигналом того, что сессия завершилась на стороне бэкенда.
func (c *Controller) CurrentSession(ctx context.Context) (*model.CartSession, error) {
	binding, ok := c.CartBinding()
	if !ok {
		return nil, ErrNoCartSession
	}

	token, err := c.AccessToken()
	if err != nil {
		return nil, err
	}

	s, err := c.backend.GetSession(ctx, remote.ScopeCustomer, token, binding.SessionID)
	if err != nil {
		c.logger.Warn("get current session failed", zap.Int64("sessionID", binding.SessionID), zap.Error(err))
		return nil, fmt.Errorf("get current session: %w", err)
	}
	return s, nil
}

// MarkCheckedOut отмечает, что привязанная сессия оплачена.
func (c *Controller) MarkCheckedOut() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != nil && c.state.Cart != nil {
		c.checkedOut = true
	}
}

// Logout безусловно очищает состояние в памяти и в хранилище. Повторный вызов безопасен.
func (c *Controller) Logout(ctx context.Context) {
	c.mu.Lock()
	c.state = nil
	c.checkedOut = false
	c.mu.Unlock()

	if err := c.store.Delete(ctx, StorageKey); err != nil {
		c.logger.Warn("clear persisted session failed", zap.Error(err))
	}
}

// Status возвращает текущее состояние жизненного цикла.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.state == nil:
		return StatusUnauthenticated
	case c.state.Cart == nil:
		return StatusAuthenticated
	case c.checkedOut:
		return StatusCheckedOut
	default:
		return StatusCartBound
	}
}

// Session возвращает копию текущей сессии или nil.
func (c *Controller) Session() *model.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state.Clone()
}

// Role возвращает роль владельца действующего токена.
func (c *Controller) Role() (model.Role, bool) {
	if _, err := c.AccessToken(); err != nil {
		return "", false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state == nil {
		return "", false
	}
	return c.state.User.Role, true
}

// AccessToken возвращает действующий токен доступа. Просроченный JWT считается отсутствующим.
func (c *Controller) AccessToken() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state == nil || c.state.Tokens.Access == "" {
		return "", ErrNotAuthenticated
	}
	if tokenExpired(c.state.Tokens.Access, c.now()) {
		return "", fmt.Errorf("%w: access token expired", ErrNotAuthenticated)
	}
	return c.state.Tokens.Access, nil
}

// CartBinding возвращает привязку к тележке, если она есть.
func (c *Controller) CartBinding() (*model.CartBinding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state == nil || c.state.Cart == nil {
		return nil, false
	}
	b := *c.state.Cart
	return &b, true
}

// tokenExpired читает exp без проверки подписи: подпись проверяет бэкенд, клиенту нужен только срок.
// Непрозрачные токены считаются действующими.
func tokenExpired(token string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.After(now)
}

func (c *Controller) persist(ctx context.Context, s *model.Session) {
	data, err := json.Marshal(s)
	if err != nil {
		c.logger.Error("encode session failed", zap.Error(err))
		return
	}
	if err := c.store.Save(ctx, StorageKey, data); err != nil {
		c.logger.Warn("persist session failed", zap.Error(err))
	}
}

// mergeCart дописывает привязку в сохранённый объект (чтение-изменение-запись).
func (c *Controller) mergeCart(ctx context.Context, current *model.Session, binding model.CartBinding) {
	stored := current

	data, err := c.store.Load(ctx, StorageKey)
	switch {
	case err == nil:
		var s model.Session
		if jsonErr := json.Unmarshal(data, &s); jsonErr == nil {
			stored = &s
		}
	case !errors.Is(err, repository.ErrStateNotFound):
		c.logger.Warn("read persisted session failed", zap.Error(err))
	}

	stored.Cart = &binding
	c.persist(ctx, stored)
}
