package cart

import (
	"sync"

	"github.com/mmeshcher/smartcart/internal/model"
	"github.com/mmeshcher/smartcart/internal/remote"
)

// Binding задаёт, к какой сессии относятся операции и как они авторизуются.
type Binding interface {
	Scope() remote.Scope
	SessionID() (int64, bool)
	Token() (string, error)
}

// Sessions отдаёт привязку и токен покупателя.
type Sessions interface {
	CartBinding() (*model.CartBinding, bool)
	AccessToken() (string, error)
}

// CustomerBinding берёт сессию из привязки вошедшего покупателя и авторизует запросы его токеном.
type CustomerBinding struct {
	sessions Sessions
}

// NewCustomerBinding создаёт привязку покупателя.
func NewCustomerBinding(sessions Sessions) *CustomerBinding {
	return &CustomerBinding{sessions: sessions}
}

// Scope возвращает покупательский вариант эндпоинтов.
func (b *CustomerBinding) Scope() remote.Scope { return remote.ScopeCustomer }

// SessionID возвращает идентификатор привязанной сессии.
func (b *CustomerBinding) SessionID() (int64, bool) {
	cb, ok := b.sessions.CartBinding()
	if !ok {
		return 0, false
	}
	return cb.SessionID, true
}

// Token возвращает токен доступа покупателя.
func (b *CustomerBinding) Token() (string, error) {
	return b.sessions.AccessToken()
}

// DeviceBinding хранит идентификатор сессии, заданный извне (по QR-коду), и не использует токен.
type DeviceBinding struct {
	mu        sync.RWMutex
	sessionID int64
}

// Scope возвращает вариант эндпоинтов дисплея тележки.
func (b *DeviceBinding) Scope() remote.Scope { return remote.ScopeDevice }

// Set задаёт идентификатор сессии.
func (b *DeviceBinding) Set(sessionID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sessionID = sessionID
}

// Clear снимает привязку.
func (b *DeviceBinding) Clear() {
	b.Set(0)
}

// SessionID возвращает заданный идентификатор сессии.
func (b *DeviceBinding) SessionID() (int64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.sessionID, b.sessionID > 0
}

// Token всегда пуст: дисплей тележки не аутентифицируется.
func (b *DeviceBinding) Token() (string, error) {
	return "", nil
}
