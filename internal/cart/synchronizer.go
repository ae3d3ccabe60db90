// Package cart синхронизирует локальный список позиций с сессией на бэкенде.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/smartcart/internal/model"
	"github.com/mmeshcher/smartcart/internal/remote"
	"github.com/mmeshcher/smartcart/internal/validation"
)

var (
	// ErrNoSession возвращается, если сессия не привязана; запрос к бэкенду при этом не выполняется.
	ErrNoSession = errors.New("no cart session bound")
	// ErrInvalidBarcode возвращается для синтаксически неверного штрихкода.
	ErrInvalidBarcode = errors.New("invalid barcode")
	// ErrInvalidQuantity возвращается для неположительного количества при добавлении.
	ErrInvalidQuantity = errors.New("quantity must be positive")
	// ErrUnknownProduct возвращается при сканировании штрихкода, которого нет в каталоге.
	ErrUnknownProduct = errors.New("unknown product")
	// ErrCheckoutUnavailable возвращается при попытке оплаты с дисплея тележки.
	ErrCheckoutUnavailable = errors.New("checkout is not available for this binding")
	// ErrQuantityNotApplied возвращается, если позиция не исчезла после нескольких раундов удаления.
	ErrQuantityNotApplied = errors.New("item is still in the cart")
)

const maxRemoveRounds = 3

// Backend описывает вызовы бэкенда, нужные синхронизатору.
type Backend interface {
	GetSession(ctx context.Context, scope remote.Scope, token string, sessionID int64) (*model.CartSession, error)
	AddItem(ctx context.Context, scope remote.Scope, token string, sessionID int64, barcode string, quantity int) error
	RemoveItem(ctx context.Context, scope remote.Scope, token string, sessionID int64, barcode string) error
	Checkout(ctx context.Context, token string, sessionID int64) error
	Product(ctx context.Context, token, barcode string) (*model.Product, error)
}

// Snapshot содержит согласованный срез состояния корзины для отображения.
type Snapshot struct {
	SessionID  *int64           `json:"sessionId"`
	Items      []model.CartItem `json:"items"`
	TotalItems int              `json:"totalItems"`
	TotalPrice decimal.Decimal  `json:"totalPrice"`
	Loading    bool             `json:"loading"`
	RemoveMode bool             `json:"removeMode"`
}

// Synchronizer держит локальное зеркало позиций сессии. Источник истины находится на бэкенде:
// после каждой успешной мутации список целиком заменяется серверной проекцией.
type Synchronizer struct {
	backend Backend
	binding Binding
	logger  *zap.Logger

	mu         sync.RWMutex
	items      []model.CartItem
	inflight   int
	removeMode bool
	issued     uint64
	applied    uint64
}

// New создаёт синхронизатор с указанной стратегией привязки.
func New(backend Backend, binding Binding, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		backend: backend,
		binding: binding,
		logger:  logger,
	}
}

// Refresh заменяет локальный список серверной проекцией. Без привязанной сессии ничего не делает.
// При ошибке локальный список не меняется.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	sessionID, ok := s.binding.SessionID()
	if !ok {
		return nil
	}

	token, err := s.binding.Token()
	if err != nil {
		return err
	}

	return s.refresh(ctx, sessionID, token)
}

func (s *Synchronizer) refresh(ctx context.Context, sessionID int64, token string) error {
	_, err := s.fetch(ctx, sessionID, token)
	return err
}

// fetch загружает серверную проекцию, применяет её и возвращает как есть,
// даже если применение отброшено как устаревшее.
func (s *Synchronizer) fetch(ctx context.Context, sessionID int64, token string) ([]model.CartItem, error) {
	defer s.track()()

	seq := s.nextSeq()

	session, err := s.backend.GetSession(ctx, s.binding.Scope(), token, sessionID)
	if err != nil {
		s.logger.Warn("refresh cart failed", zap.Int64("sessionID", sessionID), zap.Error(err))
		return nil, fmt.Errorf("refresh cart: %w", err)
	}

	items := make([]model.CartItem, 0, len(session.Items))
	for _, si := range session.Items {
		if si.Quantity < 1 {
			continue
		}
		items = append(items, model.ItemFromSession(si))
	}

	s.apply(seq, sessionID, items)
	return items, nil
}

// AddItem добавляет товар в сессию и обновляет список с сервера.
func (s *Synchronizer) AddItem(ctx context.Context, barcode string, quantity int) error {
	sessionID, token, err := s.prepare(barcode)
	if err != nil {
		return err
	}
	if quantity < 1 {
		return ErrInvalidQuantity
	}

	if err := s.add(ctx, sessionID, token, barcode, quantity); err != nil {
		return err
	}

	s.refreshAfterWrite(ctx, sessionID, token)
	return nil
}

// RemoveItem убирает одну единицу товара; позиция с количеством 1 исчезает целиком.
func (s *Synchronizer) RemoveItem(ctx context.Context, barcode string) error {
	sessionID, token, err := s.prepare(barcode)
	if err != nil {
		return err
	}

	if err := s.remove(ctx, sessionID, token, barcode); err != nil {
		return err
	}

	s.refreshAfterWrite(ctx, sessionID, token)
	return nil
}

// UpdateQuantity приводит количество позиции к заданному через вызовы add/remove
// относительно текущего серверного количества. При quantity <= 0 позиция удаляется целиком.
func (s *Synchronizer) UpdateQuantity(ctx context.Context, barcode string, quantity int) error {
	sessionID, token, err := s.prepare(barcode)
	if err != nil {
		return err
	}

	if quantity <= 0 {
		return s.removeAll(ctx, sessionID, token, barcode)
	}

	items, err := s.fetch(ctx, sessionID, token)
	if err != nil {
		return err
	}
	current := quantityIn(items, barcode)

	switch {
	case quantity == current:
		return nil
	case quantity > current:
		if err := s.add(ctx, sessionID, token, barcode, quantity-current); err != nil {
			return err
		}
	default:
		for i := 0; i < current-quantity; i++ {
			if err := s.remove(ctx, sessionID, token, barcode); err != nil {
				if i > 0 {
					s.refreshAfterWrite(ctx, sessionID, token)
				}
				return err
			}
		}
	}

	s.refreshAfterWrite(ctx, sessionID, token)
	return nil
}

// removeAll снимает единицы товара, пока серверная проекция не перестанет его содержать.
// Первый remove отправляется всегда, как в RemoveItem.
func (s *Synchronizer) removeAll(ctx context.Context, sessionID int64, token, barcode string) error {
	items, err := s.fetch(ctx, sessionID, token)
	if err != nil {
		return err
	}

	pending := max(quantityIn(items, barcode), 1)
	for round := 0; round < maxRemoveRounds; round++ {
		for i := 0; i < pending; i++ {
			if err := s.remove(ctx, sessionID, token, barcode); err != nil {
				if round > 0 || i > 0 {
					s.refreshAfterWrite(ctx, sessionID, token)
				}
				return err
			}
		}

		items, err = s.fetch(ctx, sessionID, token)
		if err != nil {
			return err
		}
		pending = quantityIn(items, barcode)
		if pending == 0 {
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrQuantityNotApplied, barcode)
}

// Checkout оплачивает привязанную сессию. Локальный список не очищается: это делает вызывающий код.
func (s *Synchronizer) Checkout(ctx context.Context) error {
	sessionID, ok := s.binding.SessionID()
	if !ok {
		return ErrNoSession
	}
	if s.binding.Scope() != remote.ScopeCustomer {
		return ErrCheckoutUnavailable
	}

	token, err := s.binding.Token()
	if err != nil {
		return err
	}

	defer s.track()()

	if err := s.backend.Checkout(ctx, token, sessionID); err != nil {
		s.logger.Warn("checkout failed", zap.Int64("sessionID", sessionID), zap.Error(err))
		return fmt.Errorf("checkout: %w", err)
	}
	return nil
}

// Clear синхронно очищает локальный список; незавершённые обновления не смогут его перезаписать.
func (s *Synchronizer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = nil
	s.applied = s.issued
}

// Items возвращает копию локального списка.
func (s *Synchronizer) Items() []model.CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]model.CartItem, len(s.items))
	copy(res, s.items)
	return res
}

// TotalItems возвращает суммарное количество единиц товара.
func (s *Synchronizer) TotalItems() int {
	return TotalItems(s.Items())
}

// TotalPrice возвращает суммарную стоимость корзины.
func (s *Synchronizer) TotalPrice() decimal.Decimal {
	return TotalPrice(s.Items())
}

// Loading сообщает, выполняется ли сейчас запрос к бэкенду.
func (s *Synchronizer) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.inflight > 0
}

// RemoveMode сообщает, включён ли режим удаления при сканировании.
func (s *Synchronizer) RemoveMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.removeMode
}

// ToggleRemoveMode переключает режим удаления и возвращает новое значение.
func (s *Synchronizer) ToggleRemoveMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeMode = !s.removeMode
	return s.removeMode
}

// Snapshot возвращает согласованный срез состояния.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.RLock()
	items := make([]model.CartItem, len(s.items))
	copy(items, s.items)
	loading := s.inflight > 0
	removeMode := s.removeMode
	s.mu.RUnlock()

	snap := Snapshot{
		Items:      items,
		TotalItems: TotalItems(items),
		TotalPrice: TotalPrice(items),
		Loading:    loading,
		RemoveMode: removeMode,
	}
	if id, ok := s.binding.SessionID(); ok {
		snap.SessionID = &id
	}
	return snap
}

// TotalItems считает сумму количеств.
func TotalItems(items []model.CartItem) int {
	total := 0
	for _, it := range items {
		total += it.Quantity
	}
	return total
}

// TotalPrice считает сумму стоимостей позиций.
func TotalPrice(items []model.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}

func (s *Synchronizer) prepare(barcode string) (int64, string, error) {
	sessionID, ok := s.binding.SessionID()
	if !ok {
		return 0, "", ErrNoSession
	}
	if !validation.IsValidBarcode(barcode) {
		return 0, "", fmt.Errorf("%w: %q", ErrInvalidBarcode, barcode)
	}

	token, err := s.binding.Token()
	if err != nil {
		return 0, "", err
	}
	return sessionID, token, nil
}

func (s *Synchronizer) add(ctx context.Context, sessionID int64, token, barcode string, quantity int) error {
	defer s.track()()

	if err := s.backend.AddItem(ctx, s.binding.Scope(), token, sessionID, barcode, quantity); err != nil {
		s.logger.Warn("add item failed", zap.Int64("sessionID", sessionID), zap.String("barcode", barcode), zap.Error(err))
		return fmt.Errorf("add item %s: %w", barcode, err)
	}
	return nil
}

func (s *Synchronizer) remove(ctx context.Context, sessionID int64, token, barcode string) error {
	defer s.track()()

	if err := s.backend.RemoveItem(ctx, s.binding.Scope(), token, sessionID, barcode); err != nil {
		s.logger.Warn("remove item failed", zap.Int64("sessionID", sessionID), zap.String("barcode", barcode), zap.Error(err))
		return fmt.Errorf("remove item %s: %w", barcode, err)
	}
	return nil
}

// refreshAfterWrite обновляет список после подтверждённой мутации; её результат от обновления не зависит.
func (s *Synchronizer) refreshAfterWrite(ctx context.Context, sessionID int64, token string) {
	_ = s.refresh(ctx, sessionID, token)
}

func quantityIn(items []model.CartItem, barcode string) int {
	for _, it := range items {
		if it.Barcode == barcode {
			return it.Quantity
		}
	}
	return 0
}

// track отмечает начало запроса и возвращает функцию его завершения.
func (s *Synchronizer) track() func() {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}
}

func (s *Synchronizer) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.issued++
	return s.issued
}

// apply применяет результат обновления, если он не устарел и сессия не сменилась.
func (s *Synchronizer) apply(seq uint64, sessionID int64, items []model.CartItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq <= s.applied {
		return
	}
	if current, ok := s.binding.SessionID(); !ok || current != sessionID {
		return
	}

	s.applied = seq
	s.items = items
}
