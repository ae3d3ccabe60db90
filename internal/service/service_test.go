package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/smartcart/internal/assistance"
	"github.com/mmeshcher/smartcart/internal/cart"
	"github.com/mmeshcher/smartcart/internal/device"
	"github.com/mmeshcher/smartcart/internal/remote"
	"github.com/mmeshcher/smartcart/internal/repository"
	"github.com/mmeshcher/smartcart/internal/session"
)

const testToken = "customer-access"

type fakeProduct struct {
	name  string
	price string
}

// fakeBackend воспроизводит REST API бэкенда тележки для одной сессии.
type fakeBackend struct {
	mu         sync.Mutex
	sessionID  int64
	cartCode   string
	started    bool
	checkedOut bool
	lines      map[string]int
	order      []string
	products   map[string]fakeProduct
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()

	fb := &fakeBackend{
		sessionID: 314,
		lines:     map[string]int{},
		products: map[string]fakeProduct{
			"7890123456": {name: "Organic Bananas", price: "1.99"},
			"4600000000": {name: "Milk", price: "0.89"},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/user/login/{$}", fb.login)
	mux.HandleFunc("POST /api/cart/start/{code}/{$}", fb.authorized(fb.start))
	mux.HandleFunc("GET /api/cart/session/{id}/{$}", fb.authorized(fb.get))
	mux.HandleFunc("POST /api/cart/session/{id}/add/{$}", fb.authorized(fb.add))
	mux.HandleFunc("POST /api/cart/session/{id}/remove/{$}", fb.authorized(fb.remove))
	mux.HandleFunc("POST /api/cart/session/{id}/checkout/{$}", fb.authorized(fb.checkout))
	mux.HandleFunc("GET /api/cart/cart/session/{id}/{$}", fb.get)
	mux.HandleFunc("POST /api/cart/cart/session/{id}/add/{$}", fb.add)
	mux.HandleFunc("POST /api/cart/cart/session/{id}/remove/{$}", fb.remove)
	mux.HandleFunc("GET /api/cart/active-session/{code}/{$}", fb.active)
	mux.HandleFunc("GET /api/product/{$}", fb.authorized(fb.productList))
	mux.HandleFunc("GET /api/product/{barcode}/{$}", fb.authorized(fb.product))

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return fb, ts
}

func (fb *fakeBackend) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			return
		}
		next(w, r)
	}
}

func (fb *fakeBackend) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Email != "customer@example.com" || req.Password != "customer" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":   map[string]string{"email": req.Email, "role": "customer"},
		"tokens": map[string]string{"access": testToken, "refresh": "refresh"},
	})
}

func (fb *fakeBackend) start(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.started = true
	fb.cartCode = r.PathValue("code")
	writeJSON(w, http.StatusCreated, map[string]int64{"id": fb.sessionID})
}

func (fb *fakeBackend) checkSession(w http.ResponseWriter, r *http.Request) bool {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if !fb.started || id != fb.sessionID {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Session not found"})
		return false
	}
	if fb.checkedOut && r.Method == http.MethodPost {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Session already checked out"})
		return false
	}
	return true
}

func (fb *fakeBackend) get(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if !fb.checkSession(w, r) {
		return
	}

	items := []map[string]any{}
	for _, code := range fb.order {
		q := fb.lines[code]
		if q == 0 {
			continue
		}
		p := fb.products[code]
		items = append(items, map[string]any{
			"product":  map[string]any{"barcode": code, "name": p.name, "price": p.price, "weight": nil, "image": nil},
			"quantity": q,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          fb.sessionID,
		"cart_code":   fb.cartCode,
		"started_at":  time.Now().UTC().Format(time.RFC3339),
		"ended_at":    nil,
		"checked_out": fb.checkedOut,
		"items":       items,
	})
}

func (fb *fakeBackend) add(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if !fb.checkSession(w, r) {
		return
	}

	var req struct {
		Barcode  string `json:"barcode"`
		Quantity int    `json:"quantity"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if _, ok := fb.products[req.Barcode]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Product not found"})
		return
	}
	if fb.lines[req.Barcode] == 0 {
		fb.order = append(fb.order, req.Barcode)
	}
	fb.lines[req.Barcode] += req.Quantity
	w.WriteHeader(http.StatusCreated)
}

func (fb *fakeBackend) remove(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if !fb.checkSession(w, r) {
		return
	}

	var req struct {
		Barcode string `json:"barcode"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if fb.lines[req.Barcode] == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Item not in cart"})
		return
	}
	fb.lines[req.Barcode]--
	if fb.lines[req.Barcode] == 0 {
		delete(fb.lines, req.Barcode)
		kept := fb.order[:0]
		for _, code := range fb.order {
			if code != req.Barcode {
				kept = append(kept, code)
			}
		}
		fb.order = kept
	}
	w.WriteHeader(http.StatusOK)
}

func (fb *fakeBackend) checkout(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if !fb.checkSession(w, r) {
		return
	}
	fb.checkedOut = true
	w.WriteHeader(http.StatusOK)
}

func (fb *fakeBackend) active(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if !fb.started || fb.cartCode != r.PathValue("code") {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "No active session"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": fb.sessionID})
}

func (fb *fakeBackend) productList(w http.ResponseWriter, r *http.Request) {
	list := []map[string]any{}
	for code, p := range fb.products {
		list = append(list, map[string]any{"barcode": code, "name": p.name, "price": p.price})
	}
	writeJSON(w, http.StatusOK, list)
}

func (fb *fakeBackend) product(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("barcode")
	p, ok := fb.products[code]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"barcode": code, "name": p.name, "price": p.price})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestService(t *testing.T, baseURL string) *Service {
	t.Helper()

	logger := zap.NewNop()
	client := remote.NewClient(baseURL, time.Second)
	store := repository.NewMemoryRepository()

	sessions := session.NewController(client, store, logger)
	display := device.NewDisplay(client, device.Options{
		RefreshInterval: 10 * time.Millisecond,
		ConnectInterval: 5 * time.Millisecond,
	}, logger)
	tracker := assistance.NewTracker(store, logger)

	svc := NewService(sessions, client, client, display, tracker, logger)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestShoppingFlow(t *testing.T) {
	fb, ts := newFakeBackend(t)
	svc := newTestService(t, ts.URL+"/api")
	ctx := context.Background()

	assert.Equal(t, session.StatusUnauthenticated, svc.Status().Status)

	_, err := svc.AddItem(ctx, "7890123456", 1)
	require.ErrorIs(t, err, cart.ErrNoSession)

	sess, err := svc.Login(ctx, "customer@example.com", "customer")
	require.NoError(t, err)
	assert.Equal(t, testToken, sess.Tokens.Access)
	assert.Equal(t, session.StatusAuthenticated, svc.Status().Status)

	binding, err := svc.StartCartSession(ctx, "CART-123")
	require.NoError(t, err)
	assert.Equal(t, "CART-123", binding.CartCode)
	assert.Equal(t, int64(314), binding.SessionID)
	assert.Equal(t, session.StatusCartBound, svc.Status().Status)

	snap, err := svc.AddItem(ctx, "7890123456", 1)
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "Organic Bananas", snap.Items[0].Name)
	assert.Equal(t, 1, snap.TotalItems)
	assert.True(t, snap.TotalPrice.Equal(decimal.RequireFromString("1.99")))

	snap, err = svc.UpdateQuantity(ctx, "7890123456", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.TotalItems)

	res, err := svc.Scan(ctx, "4600000000")
	require.NoError(t, err)
	assert.Equal(t, cart.ScanAdded, res.Action)

	_, err = svc.Scan(ctx, "1111111111")
	require.ErrorIs(t, err, cart.ErrUnknownProduct)

	snap, err = svc.RemoveItem(ctx, "4600000000")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.TotalItems)
	assert.True(t, snap.TotalPrice.Equal(decimal.RequireFromString("5.97")))

	cs, err := svc.CurrentSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CART-123", cs.CartCode)
	assert.True(t, svc.Status().Checkout)

	require.ErrorIs(t, svc.ConfirmCheckout(ctx), ErrNotCheckedOut)

	require.NoError(t, svc.Checkout(ctx))
	assert.Equal(t, session.StatusCheckedOut, svc.Status().Status)
	assert.Equal(t, 3, svc.Cart().TotalItems, "checkout keeps the cart until confirmation")

	fb.mu.Lock()
	assert.True(t, fb.checkedOut)
	fb.mu.Unlock()

	require.NoError(t, svc.ConfirmCheckout(ctx))
	assert.Equal(t, session.StatusUnauthenticated, svc.Status().Status)
	assert.Empty(t, svc.Cart().Items)
}

func TestLogin_Failure(t *testing.T) {
	_, ts := newFakeBackend(t)
	svc := newTestService(t, ts.URL+"/api")

	_, err := svc.Login(context.Background(), "customer@example.com", "wrong")
	require.ErrorIs(t, err, session.ErrLoginFailed)
	assert.Equal(t, session.StatusUnauthenticated, svc.Status().Status)
}

func TestProducts_RequireLogin(t *testing.T) {
	_, ts := newFakeBackend(t)
	svc := newTestService(t, ts.URL+"/api")
	ctx := context.Background()

	_, err := svc.Products(ctx)
	require.ErrorIs(t, err, session.ErrNotAuthenticated)

	_, err = svc.Login(ctx, "customer@example.com", "customer")
	require.NoError(t, err)

	list, err := svc.Products(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	p, err := svc.Product(ctx, "7890123456")
	require.NoError(t, err)
	assert.Equal(t, "Organic Bananas", p.Name)

	_, err = svc.Product(ctx, "0000")
	assert.ErrorIs(t, err, remote.ErrProductNotFound)
}

func TestDisplayFlow(t *testing.T) {
	_, ts := newFakeBackend(t)
	svc := newTestService(t, ts.URL+"/api")
	ctx := context.Background()

	_, err := svc.DisplayAddItem(ctx, "7890123456", 1)
	require.ErrorIs(t, err, cart.ErrNoSession)

	require.NoError(t, svc.ConnectDisplay("CART-7"))

	_, err = svc.Login(ctx, "customer@example.com", "customer")
	require.NoError(t, err)
	_, err = svc.StartCartSession(ctx, "CART-7")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return svc.DisplayCart().SessionID != nil
	}, time.Second, time.Millisecond)

	snap, err := svc.DisplayAddItem(ctx, "7890123456", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.TotalItems)

	// покупатель видит позиции, добавленные с дисплея
	customer, err := svc.RefreshCart(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, customer.TotalItems)

	snap, err = svc.DisplayRemoveItem(ctx, "7890123456")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalItems)

	svc.ClearDisplaySession()
	assert.Nil(t, svc.DisplayCart().SessionID)
	assert.Empty(t, svc.DisplayCart().Items)

	png, err := svc.DisplayQRCode("CART-7", 128)
	require.NoError(t, err)
	assert.NotEmpty(t, png)
}

func TestAssistanceDefaults(t *testing.T) {
	_, ts := newFakeBackend(t)
	svc := newTestService(t, ts.URL+"/api")
	ctx := context.Background()

	_, err := svc.Login(ctx, "customer@example.com", "customer")
	require.NoError(t, err)
	_, err = svc.StartCartSession(ctx, "CART-1")
	require.NoError(t, err)

	req, err := svc.CallAssistance(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, "CART-1", req.CartCode)
	assert.Equal(t, "customer@example.com", req.CustomerName)

	active, ok, err := svc.ActiveAssistance(ctx, "CART-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, req.ID, active.ID)

	require.NoError(t, svc.AssignAssistance(ctx, req.ID, "Bob"))
	require.NoError(t, svc.ResolveAssistance(ctx, req.ID))

	_, ok, err = svc.ActiveAssistance(ctx, "CART-1")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := svc.CancelAssistance(ctx, "CART-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	list, err := svc.AssistanceRequests(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
