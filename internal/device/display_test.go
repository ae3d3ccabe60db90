package device

import (
	"bytes"
	"context"
	"image/png"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/smartcart/internal/model"
	"github.com/mmeshcher/smartcart/internal/remote"
)

type stubBackend struct {
	mu          sync.Mutex
	gets        map[int64]int
	scopes      []remote.Scope
	activeAfter int
	activeCalls int
	activeID    int64
	activeErr   error
}

func newStubBackend() *stubBackend {
	return &stubBackend{gets: map[int64]int{}}
}

func (b *stubBackend) GetSession(ctx context.Context, scope remote.Scope, token string, sessionID int64) (*model.CartSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gets[sessionID]++
	b.scopes = append(b.scopes, scope)
	return &model.CartSession{ID: sessionID, Items: []model.CartSessionItem{
		{Product: model.Product{Barcode: "7890123456", Name: "Organic Bananas"}, Quantity: 1},
	}}, nil
}

func (b *stubBackend) AddItem(ctx context.Context, scope remote.Scope, token string, sessionID int64, barcode string, quantity int) error {
	return nil
}

func (b *stubBackend) RemoveItem(ctx context.Context, scope remote.Scope, token string, sessionID int64, barcode string) error {
	return nil
}

func (b *stubBackend) Checkout(ctx context.Context, token string, sessionID int64) error {
	return nil
}

func (b *stubBackend) Product(ctx context.Context, token, barcode string) (*model.Product, error) {
	return nil, remote.ErrProductNotFound
}

func (b *stubBackend) ActiveSession(ctx context.Context, cartCode string) (int64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.activeCalls++
	if b.activeErr != nil {
		return 0, false, b.activeErr
	}
	if b.activeCalls <= b.activeAfter {
		return 0, false, nil
	}
	return b.activeID, true, nil
}

func (b *stubBackend) getsFor(id int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.gets[id]
}

func (b *stubBackend) totalGets() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, n := range b.gets {
		total += n
	}
	return total
}

func newTestDisplay(t *testing.T, backend Backend) *Display {
	t.Helper()

	d := NewDisplay(backend, Options{RefreshInterval: 5 * time.Millisecond, ConnectInterval: 5 * time.Millisecond}, zap.NewNop())
	t.Cleanup(d.Close)
	return d
}

func TestSetSessionID_StartsPolling(t *testing.T) {
	backend := newStubBackend()
	d := newTestDisplay(t, backend)

	d.SetSessionID(7)

	require.Eventually(t, func() bool { return backend.getsFor(7) >= 3 }, time.Second, time.Millisecond)
	assert.True(t, d.Polling())
	assert.Len(t, d.Cart().Items(), 1)

	backend.mu.Lock()
	for _, scope := range backend.scopes {
		assert.Equal(t, remote.ScopeDevice, scope)
	}
	backend.mu.Unlock()
}

func TestClearSession_StopsPolling(t *testing.T) {
	backend := newStubBackend()
	d := newTestDisplay(t, backend)

	d.SetSessionID(7)
	require.Eventually(t, func() bool { return backend.getsFor(7) >= 2 }, time.Second, time.Millisecond)

	d.ClearSession()
	after := backend.totalGets()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, backend.totalGets(), "no refresh calls after clearing the session")
	assert.False(t, d.Polling())
	assert.Empty(t, d.Cart().Items())

	_, ok := d.SessionID()
	assert.False(t, ok)
}

func TestSetSessionID_ReplacesPreviousTask(t *testing.T) {
	backend := newStubBackend()
	d := newTestDisplay(t, backend)

	d.SetSessionID(7)
	require.Eventually(t, func() bool { return backend.getsFor(7) >= 1 }, time.Second, time.Millisecond)

	d.SetSessionID(8)
	oldCalls := backend.getsFor(7)

	require.Eventually(t, func() bool { return backend.getsFor(8) >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, oldCalls, backend.getsFor(7), "previous session must not be polled any more")

	id, ok := d.SessionID()
	require.True(t, ok)
	assert.Equal(t, int64(8), id)
}

func TestSetSessionID_NonPositiveClears(t *testing.T) {
	backend := newStubBackend()
	d := newTestDisplay(t, backend)

	d.SetSessionID(7)
	d.SetSessionID(0)

	assert.False(t, d.Polling())
	_, ok := d.SessionID()
	assert.False(t, ok)
}

func TestClose_StopsEverything(t *testing.T) {
	backend := newStubBackend()
	d := NewDisplay(backend, Options{RefreshInterval: 5 * time.Millisecond, ConnectInterval: 5 * time.Millisecond}, zap.NewNop())

	d.SetSessionID(7)
	require.NoError(t, d.StartConnect("CART-7"))
	d.Close()

	after := backend.totalGets()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, backend.totalGets())
	assert.Error(t, d.StartConnect("CART-7"))
}

func TestSetSessionID_AfterClose(t *testing.T) {
	backend := newStubBackend()
	d := NewDisplay(backend, Options{RefreshInterval: 5 * time.Millisecond}, zap.NewNop())
	d.Close()

	d.SetSessionID(7)
	time.Sleep(20 * time.Millisecond)

	assert.Zero(t, backend.totalGets())
	assert.False(t, d.Polling())
	_, ok := d.SessionID()
	assert.False(t, ok)
}

func TestConnect_WaitsForSession(t *testing.T) {
	backend := newStubBackend()
	backend.activeAfter = 2
	backend.activeID = 31
	d := newTestDisplay(t, backend)

	id, err := d.Connect(context.Background(), " cart-31 ")
	require.NoError(t, err)
	assert.Equal(t, int64(31), id)
	assert.Equal(t, 3, backend.activeCalls)

	require.Eventually(t, func() bool { return backend.getsFor(31) >= 1 }, time.Second, time.Millisecond)
}

func TestConnect_StopsWithContext(t *testing.T) {
	backend := newStubBackend()
	backend.activeErr = &remote.Error{StatusCode: http.StatusBadGateway}
	d := newTestDisplay(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.Connect(ctx, "CART-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, d.Polling())
}

func TestConnect_InvalidCode(t *testing.T) {
	d := newTestDisplay(t, newStubBackend())

	_, err := d.Connect(context.Background(), "cart 1!")
	assert.ErrorIs(t, err, ErrInvalidCartCode)
	assert.ErrorIs(t, d.StartConnect(""), ErrInvalidCartCode)
}

func TestStartConnect_BindsInBackground(t *testing.T) {
	backend := newStubBackend()
	backend.activeAfter = 1
	backend.activeID = 12
	d := newTestDisplay(t, backend)

	require.NoError(t, d.StartConnect("cart-12"))
	assert.Equal(t, "CART-12", d.CartCode())

	require.Eventually(t, func() bool {
		id, ok := d.SessionID()
		return ok && id == 12
	}, time.Second, time.Millisecond)
	require.Eventually(t, d.Polling, time.Second, time.Millisecond)
}

func TestQRCode(t *testing.T) {
	data, err := QRCode("cart-123", 0)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())

	_, err = QRCode("", 128)
	assert.ErrorIs(t, err, ErrInvalidCartCode)
}
