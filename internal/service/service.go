// Package service собирает контроллер сессии, синхронизаторы корзины и реестр помощи в единый фасад.
package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mmeshcher/smartcart/internal/assistance"
	"github.com/mmeshcher/smartcart/internal/cart"
	"github.com/mmeshcher/smartcart/internal/device"
	"github.com/mmeshcher/smartcart/internal/model"
	"github.com/mmeshcher/smartcart/internal/session"
)

// ErrNotCheckedOut возвращается при подтверждении неоплаченной сессии.
var ErrNotCheckedOut = errors.New("session is not checked out")

// Catalog описывает поиск по каталогу товаров.
type Catalog interface {
	Products(ctx context.Context, token string) ([]model.Product, error)
	Product(ctx context.Context, token, barcode string) (*model.Product, error)
}

// Status описывает состояние клиента для интерфейса.
type Status struct {
	Status   session.Status     `json:"status"`
	User     *model.User        `json:"user,omitempty"`
	Cart     *model.CartBinding `json:"cart,omitempty"`
	Items    int                `json:"totalItems"`
	Checkout bool               `json:"checkoutAvailable"`
}

// Service реализует фасад менеджера сессии тележки.
type Service struct {
	sessions *session.Controller
	customer *cart.Synchronizer
	display  *device.Display
	tracker  *assistance.Tracker
	catalog  Catalog
	logger   *zap.Logger
}

// NewService создаёт фасад. Синхронизатор покупателя привязывается к сессии контроллера.
func NewService(
	sessions *session.Controller,
	backend cart.Backend,
	catalog Catalog,
	display *device.Display,
	tracker *assistance.Tracker,
	logger *zap.Logger,
) *Service {
	return &Service{
		sessions: sessions,
		customer: cart.New(backend, cart.NewCustomerBinding(sessions), logger),
		display:  display,
		tracker:  tracker,
		catalog:  catalog,
		logger:   logger,
	}
}

// Close останавливает фоновые задачи дисплея.
func (s *Service) Close() error {
	if s.display != nil {
		s.display.Close()
	}
	return nil
}

// Role возвращает роль текущего пользователя.
func (s *Service) Role() (model.Role, bool) {
	return s.sessions.Role()
}

// Login выполняет вход; если бэкенд вернул привязку к тележке, корзина сразу обновляется.
func (s *Service) Login(ctx context.Context, email, password string) (*model.Session, error) {
	sess, err := s.sessions.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	s.customer.Clear()
	if sess.Cart != nil {
		_ = s.customer.Refresh(ctx)
	}
	return sess, nil
}

// Logout завершает сессию клиента и очищает корзину.
func (s *Service) Logout(ctx context.Context) {
	s.customer.Clear()
	s.sessions.Logout(ctx)
}

// Status возвращает состояние жизненного цикла клиента.
func (s *Service) Status() Status {
	st := Status{Status: s.sessions.Status()}
	if sess := s.sessions.Session(); sess != nil {
		user := sess.User
		st.User = &user
		st.Cart = sess.Cart
	}
	st.Items = s.customer.TotalItems()
	st.Checkout = st.Status == session.StatusCartBound && st.Items > 0
	return st
}

// StartCartSession привязывает покупателя к тележке и загружает её содержимое.
func (s *Service) StartCartSession(ctx context.Context, cartCode string) (*model.CartBinding, error) {
	binding, err := s.sessions.StartCartSession(ctx, cartCode)
	if err != nil {
		return nil, err
	}

	s.customer.Clear()
	_ = s.customer.Refresh(ctx)
	return binding, nil
}

// CurrentSession возвращает серверную запись привязанной сессии.
func (s *Service) CurrentSession(ctx context.Context) (*model.CartSession, error) {
	return s.sessions.CurrentSession(ctx)
}

// Cart возвращает срез корзины покупателя.
func (s *Service) Cart() cart.Snapshot {
	return s.customer.Snapshot()
}

// RefreshCart обновляет корзину покупателя с сервера.
func (s *Service) RefreshCart(ctx context.Context) (cart.Snapshot, error) {
	if _, ok := s.sessions.CartBinding(); !ok {
		return cart.Snapshot{}, cart.ErrNoSession
	}
	if err := s.customer.Refresh(ctx); err != nil {
		return cart.Snapshot{}, err
	}
	return s.customer.Snapshot(), nil
}

// AddItem добавляет товар в корзину покупателя.
func (s *Service) AddItem(ctx context.Context, barcode string, quantity int) (cart.Snapshot, error) {
	if err := s.customer.AddItem(ctx, barcode, quantity); err != nil {
		return cart.Snapshot{}, err
	}
	return s.customer.Snapshot(), nil
}

// RemoveItem убирает единицу товара из корзины покупателя.
func (s *Service) RemoveItem(ctx context.Context, barcode string) (cart.Snapshot, error) {
	if err := s.customer.RemoveItem(ctx, barcode); err != nil {
		return cart.Snapshot{}, err
	}
	return s.customer.Snapshot(), nil
}

// UpdateQuantity задаёт количество товара в корзине покупателя.
func (s *Service) UpdateQuantity(ctx context.Context, barcode string, quantity int) (cart.Snapshot, error) {
	if err := s.customer.UpdateQuantity(ctx, barcode, quantity); err != nil {
		return cart.Snapshot{}, err
	}
	return s.customer.Snapshot(), nil
}

// Scan обрабатывает штрихкод, отсканированный покупателем.
func (s *Service) Scan(ctx context.Context, barcode string) (*cart.ScanResult, error) {
	return s.customer.Scan(ctx, barcode)
}

// ToggleRemoveMode переключает режим удаления покупателя.
func (s *Service) ToggleRemoveMode() bool {
	return s.customer.ToggleRemoveMode()
}

// Checkout оплачивает сессию. Корзина остаётся до подтверждения.
func (s *Service) Checkout(ctx context.Context) error {
	if err := s.customer.Checkout(ctx); err != nil {
		return err
	}
	s.sessions.MarkCheckedOut()
	if b, ok := s.sessions.CartBinding(); ok {
		s.logger.Info("cart checked out", zap.String("cart", b.CartCode), zap.Int64("sessionID", b.SessionID))
	}
	return nil
}

// ConfirmCheckout завершает покупку после экрана подтверждения: очищает корзину и выходит.
func (s *Service) ConfirmCheckout(ctx context.Context) error {
	if s.sessions.Status() != session.StatusCheckedOut {
		return ErrNotCheckedOut
	}
	s.customer.Clear()
	s.sessions.Logout(ctx)
	return nil
}

// Products возвращает каталог товаров.
func (s *Service) Products(ctx context.Context) ([]model.Product, error) {
	token, err := s.sessions.AccessToken()
	if err != nil {
		return nil, err
	}
	return s.catalog.Products(ctx, token)
}

// Product ищет товар по штрихкоду.
func (s *Service) Product(ctx context.Context, barcode string) (*model.Product, error) {
	token, err := s.sessions.AccessToken()
	if err != nil {
		return nil, err
	}
	return s.catalog.Product(ctx, token, barcode)
}

// SetDisplaySession привязывает дисплей тележки к сессии.
func (s *Service) SetDisplaySession(sessionID int64) cart.Snapshot {
	s.display.SetSessionID(sessionID)
	return s.display.Cart().Snapshot()
}

// ClearDisplaySession снимает привязку дисплея.
func (s *Service) ClearDisplaySession() {
	s.display.ClearSession()
}

// ConnectDisplay запускает ожидание активной сессии для тележки.
func (s *Service) ConnectDisplay(cartCode string) error {
	return s.display.StartConnect(cartCode)
}

// DisplayQRCode возвращает PNG с QR-кодом тележки.
func (s *Service) DisplayQRCode(cartCode string, size int) ([]byte, error) {
	return device.QRCode(cartCode, size)
}

// DisplayCart возвращает срез корзины дисплея.
func (s *Service) DisplayCart() cart.Snapshot {
	return s.display.Cart().Snapshot()
}

// DisplayAddItem добавляет товар с дисплея тележки.
func (s *Service) DisplayAddItem(ctx context.Context, barcode string, quantity int) (cart.Snapshot, error) {
	c := s.display.Cart()
	if err := c.AddItem(ctx, barcode, quantity); err != nil {
		return cart.Snapshot{}, err
	}
	return c.Snapshot(), nil
}

// DisplayRemoveItem убирает единицу товара с дисплея тележки.
func (s *Service) DisplayRemoveItem(ctx context.Context, barcode string) (cart.Snapshot, error) {
	c := s.display.Cart()
	if err := c.RemoveItem(ctx, barcode); err != nil {
		return cart.Snapshot{}, err
	}
	return c.Snapshot(), nil
}

// DisplayScan обрабатывает штрихкод, отсканированный на дисплее тележки.
func (s *Service) DisplayScan(ctx context.Context, barcode string) (*cart.ScanResult, error) {
	return s.display.Cart().Scan(ctx, barcode)
}

// CallAssistance регистрирует вызов помощи. Без явного кода используется привязанная тележка.
func (s *Service) CallAssistance(ctx context.Context, cartCode, customerName string) (*model.AssistanceRequest, error) {
	if cartCode == "" {
		if b, ok := s.sessions.CartBinding(); ok {
			cartCode = b.CartCode
		} else if code := s.display.CartCode(); code != "" {
			cartCode = code
		}
	}
	if customerName == "" {
		if sess := s.sessions.Session(); sess != nil {
			customerName = sess.User.Email
		}
	}
	return s.tracker.Call(ctx, cartCode, customerName)
}

// CancelAssistance отменяет нерешённые вызовы тележки.
func (s *Service) CancelAssistance(ctx context.Context, cartCode string) (int, error) {
	return s.tracker.Cancel(ctx, cartCode)
}

// ActiveAssistance возвращает активный вызов тележки.
func (s *Service) ActiveAssistance(ctx context.Context, cartCode string) (*model.AssistanceRequest, bool, error) {
	return s.tracker.Active(ctx, cartCode)
}

// AssistanceRequests возвращает все вызовы помощи.
func (s *Service) AssistanceRequests(ctx context.Context) ([]model.AssistanceRequest, error) {
	return s.tracker.Requests(ctx)
}

// ResolveAssistance закрывает вызов помощи.
func (s *Service) ResolveAssistance(ctx context.Context, id string) error {
	return s.tracker.Resolve(ctx, id)
}

// AssignAssistance назначает сотрудника на вызов помощи.
func (s *Service) AssignAssistance(ctx context.Context, id, staffName string) error {
	return s.tracker.Assign(ctx, id, staffName)
}
