// Package device реализует режим дисплея тележки: сессия задаётся извне, список обновляется опросом.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/smartcart/internal/cart"
	"github.com/mmeshcher/smartcart/internal/poll"
	"github.com/mmeshcher/smartcart/internal/validation"
)

const (
	defaultRefreshInterval = 10 * time.Second
	defaultConnectInterval = 3 * time.Second
)

// ErrInvalidCartCode возвращается для синтаксически неверного кода тележки.
var ErrInvalidCartCode = errors.New("invalid cart code")

// Backend описывает вызовы бэкенда, нужные дисплею.
type Backend interface {
	cart.Backend
	ActiveSession(ctx context.Context, cartCode string) (int64, bool, error)
}

// Options задаёт интервалы опроса.
type Options struct {
	RefreshInterval time.Duration
	ConnectInterval time.Duration
}

// Display управляет синхронизатором корзины с внешне заданной сессией и единственной задачей опроса.
type Display struct {
	backend Backend
	binding *cart.DeviceBinding
	cart    *cart.Synchronizer
	logger  *zap.Logger
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	refresher  poll.Task
	connecting context.CancelFunc
	cartCode   string
	wg         sync.WaitGroup
}

// NewDisplay создаёт дисплей без привязанной сессии. Close останавливает все фоновые задачи.
func NewDisplay(backend Backend, opts Options, logger *zap.Logger) *Display {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = defaultRefreshInterval
	}
	if opts.ConnectInterval <= 0 {
		opts.ConnectInterval = defaultConnectInterval
	}

	binding := &cart.DeviceBinding{}
	ctx, cancel := context.WithCancel(context.Background())

	return &Display{
		backend: backend,
		binding: binding,
		cart:    cart.New(backend, binding, logger),
		logger:  logger,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Cart возвращает синхронизатор дисплея.
func (d *Display) Cart() *cart.Synchronizer {
	return d.cart
}

// SessionID возвращает идентификатор привязанной сессии.
func (d *Display) SessionID() (int64, bool) {
	return d.binding.SessionID()
}

// CartCode возвращает код тележки, для которой последний раз запускалось подключение.
func (d *Display) CartCode() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.cartCode
}

// SetSessionID привязывает дисплей к сессии и запускает опрос с немедленным первым обновлением.
// Предыдущий опрос останавливается до привязки. Неположительный идентификатор снимает привязку.
func (d *Display) SetSessionID(sessionID int64) {
	if sessionID <= 0 {
		d.ClearSession()
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopConnectLocked()
	d.bindLocked(sessionID)
}

// ClearSession останавливает опрос и очищает список. После возврата обновлений больше не будет.
func (d *Display) ClearSession() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopConnectLocked()
	d.refresher.Stop()
	d.binding.Clear()
	d.cart.Clear()
}

// Polling сообщает, активна ли задача опроса.
func (d *Display) Polling() bool {
	return d.refresher.Running()
}

// Connect опрашивает бэкенд, пока у тележки не появится активная сессия, и привязывается к ней.
// Возвращает ошибку контекста, если сессия не появилась до его отмены.
func (d *Display) Connect(ctx context.Context, cartCode string) (int64, error) {
	code := validation.NormalizeCartCode(cartCode)
	if !validation.IsValidCartCode(code) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCartCode, cartCode)
	}

	ticker := time.NewTicker(d.opts.ConnectInterval)
	defer ticker.Stop()

	for {
		id, ok, err := d.backend.ActiveSession(ctx, code)
		switch {
		case err != nil:
			d.logger.Warn("active session poll failed", zap.String("cart", code), zap.Error(err))
		case ok:
			if err := d.attach(ctx, id); err != nil {
				return 0, err
			}
			d.logger.Info("cart display connected", zap.String("cart", code), zap.Int64("sessionID", id))
			return id, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// StartConnect запускает Connect в фоне, отменяя предыдущее подключение.
func (d *Display) StartConnect(cartCode string) error {
	code := validation.NormalizeCartCode(cartCode)
	if !validation.IsValidCartCode(code) {
		return fmt.Errorf("%w: %q", ErrInvalidCartCode, cartCode)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx.Err() != nil {
		return d.ctx.Err()
	}

	d.stopConnectLocked()
	ctx, cancel := context.WithCancel(d.ctx)
	d.connecting = cancel
	d.cartCode = code

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()

		if _, err := d.Connect(ctx, code); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("cart display connect stopped", zap.String("cart", code), zap.Error(err))
		}
	}()

	return nil
}

// Close останавливает опрос и подключение и дожидается их завершения.
func (d *Display) Close() {
	d.cancel()

	d.mu.Lock()
	d.stopConnectLocked()
	d.refresher.Stop()
	d.mu.Unlock()

	d.wg.Wait()
}

// attach привязывает найденную сессию, если подключение ещё не отменено.
func (d *Display) attach(ctx context.Context, sessionID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	d.bindLocked(sessionID)
	return nil
}

// bindLocked ничего не делает после Close.
func (d *Display) bindLocked(sessionID int64) {
	if d.ctx.Err() != nil {
		return
	}

	d.refresher.Stop()
	d.binding.Set(sessionID)
	d.cart.Clear()

	d.refresher.Start(d.ctx, d.opts.RefreshInterval, true, func(ctx context.Context) {
		_ = d.cart.Refresh(ctx)
	})
}

// stopConnectLocked отменяет фоновое подключение, не дожидаясь его: оно само берёт d.mu перед привязкой.
func (d *Display) stopConnectLocked() {
	if d.connecting != nil {
		d.connecting()
		d.connecting = nil
	}
}
