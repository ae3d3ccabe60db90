// Package handler содержит HTTP-обработчики киоск-API умной тележки.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/smartcart/internal/assistance"
	"github.com/mmeshcher/smartcart/internal/cart"
	"github.com/mmeshcher/smartcart/internal/device"
	"github.com/mmeshcher/smartcart/internal/middleware"
	"github.com/mmeshcher/smartcart/internal/model"
	"github.com/mmeshcher/smartcart/internal/remote"
	"github.com/mmeshcher/smartcart/internal/repository"
	"github.com/mmeshcher/smartcart/internal/service"
	"github.com/mmeshcher/smartcart/internal/session"
)

// Service определяет контракт менеджера сессии тележки, используемый HTTP-обработчиками.
type Service interface {
	Login(ctx context.Context, email, password string) (*model.Session, error)
	Logout(ctx context.Context)
	Status() service.Status
	StartCartSession(ctx context.Context, cartCode string) (*model.CartBinding, error)
	CurrentSession(ctx context.Context) (*model.CartSession, error)

	Cart() cart.Snapshot
	RefreshCart(ctx context.Context) (cart.Snapshot, error)
	AddItem(ctx context.Context, barcode string, quantity int) (cart.Snapshot, error)
	RemoveItem(ctx context.Context, barcode string) (cart.Snapshot, error)
	UpdateQuantity(ctx context.Context, barcode string, quantity int) (cart.Snapshot, error)
	Scan(ctx context.Context, barcode string) (*cart.ScanResult, error)
	ToggleRemoveMode() bool
	Checkout(ctx context.Context) error
	ConfirmCheckout(ctx context.Context) error

	Products(ctx context.Context) ([]model.Product, error)
	Product(ctx context.Context, barcode string) (*model.Product, error)

	SetDisplaySession(sessionID int64) cart.Snapshot
	ClearDisplaySession()
	ConnectDisplay(cartCode string) error
	DisplayQRCode(cartCode string, size int) ([]byte, error)
	DisplayCart() cart.Snapshot
	DisplayAddItem(ctx context.Context, barcode string, quantity int) (cart.Snapshot, error)
	DisplayRemoveItem(ctx context.Context, barcode string) (cart.Snapshot, error)
	DisplayScan(ctx context.Context, barcode string) (*cart.ScanResult, error)

	CallAssistance(ctx context.Context, cartCode, customerName string) (*model.AssistanceRequest, error)
	CancelAssistance(ctx context.Context, cartCode string) (int, error)
	ActiveAssistance(ctx context.Context, cartCode string) (*model.AssistanceRequest, bool, error)
	AssistanceRequests(ctx context.Context) ([]model.AssistanceRequest, error)
	ResolveAssistance(ctx context.Context, id string) error
	AssignAssistance(ctx context.Context, id, staffName string) error
}

// Handler реализует HTTP-обработчики киоск-API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	allowedOrigins []string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, allowedOrigins []string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		allowedOrigins: allowedOrigins,
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит ошибку операции в HTTP-статус. Подробности отказа бэкенда передаются клиенту.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	detail := http.StatusText(status)

	switch {
	case errors.Is(err, session.ErrLoginFailed), errors.Is(err, session.ErrNotAuthenticated):
		status = http.StatusUnauthorized
		detail = err.Error()
	case errors.Is(err, cart.ErrNoSession), errors.Is(err, session.ErrNoCartSession),
		errors.Is(err, service.ErrNotCheckedOut), errors.Is(err, cart.ErrCheckoutUnavailable),
		errors.Is(err, cart.ErrQuantityNotApplied):
		status = http.StatusConflict
		detail = err.Error()
	case errors.Is(err, cart.ErrInvalidBarcode), errors.Is(err, session.ErrInvalidCartCode),
		errors.Is(err, device.ErrInvalidCartCode), errors.Is(err, assistance.ErrInvalidCartCode):
		status = http.StatusUnprocessableEntity
		detail = err.Error()
	case errors.Is(err, cart.ErrInvalidQuantity), errors.Is(err, assistance.ErrEmptyStaffName):
		status = http.StatusBadRequest
		detail = err.Error()
	case errors.Is(err, cart.ErrUnknownProduct), errors.Is(err, remote.ErrProductNotFound),
		errors.Is(err, repository.ErrRequestNotFound):
		status = http.StatusNotFound
		detail = err.Error()
	case errors.Is(err, remote.ErrRequestFailed):
		status = http.StatusBadGateway
		detail = remote.Detail(err)
		if detail == "" {
			detail = "backend request failed"
		}
		h.logger.Warn(op+" failed", zap.Error(err), zap.Int("backendStatus", remote.StatusCode(err)))
	default:
		h.logger.Error(op+" error", zap.Error(err))
	}

	writeJSON(w, status, errorResponse{Detail: detail})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid request body"})
		return false
	}
	return true
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login выполняет вход покупателя или сотрудника.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "email and password are required"})
		return
	}

	sess, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, "login", err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// Logout завершает сессию клиента. Повторный вызов безопасен.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Status возвращает состояние жизненного цикла клиента.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Status())
}

// StartSession привязывает покупателя к тележке по коду из QR.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	binding, err := h.service.StartCartSession(r.Context(), chi.URLParam(r, "cartCode"))
	if err != nil {
		h.writeError(w, "start session", err)
		return
	}

	writeJSON(w, http.StatusOK, binding)
}

// CurrentSession возвращает серверную запись привязанной сессии.
func (h *Handler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.CurrentSession(r.Context())
	if err != nil {
		h.writeError(w, "current session", err)
		return
	}

	writeJSON(w, http.StatusOK, s)
}

// GetCart возвращает корзину покупателя.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Cart())
}

// RefreshCart обновляет корзину покупателя с сервера.
func (h *Handler) RefreshCart(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.RefreshCart(r.Context())
	if err != nil {
		h.writeError(w, "refresh cart", err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

type addItemRequest struct {
	Barcode  string `json:"barcode"`
	Quantity *int   `json:"quantity"`
}

func (req addItemRequest) quantity() int {
	if req.Quantity == nil {
		return 1
	}
	return *req.Quantity
}

// AddItem добавляет товар в корзину покупателя.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !decode(w, r, &req) {
		return
	}

	snap, err := h.service.AddItem(r.Context(), req.Barcode, req.quantity())
	if err != nil {
		h.writeError(w, "add item", err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

// UpdateQuantity задаёт количество товара в корзине покупателя.
func (h *Handler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if !decode(w, r, &req) {
		return
	}

	snap, err := h.service.UpdateQuantity(r.Context(), chi.URLParam(r, "barcode"), req.Quantity)
	if err != nil {
		h.writeError(w, "update quantity", err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// RemoveItem убирает единицу товара из корзины покупателя.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.RemoveItem(r.Context(), chi.URLParam(r, "barcode"))
	if err != nil {
		h.writeError(w, "remove item", err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

type scanRequest struct {
	Barcode string `json:"barcode"`
}

type scanResponse struct {
	Result *cart.ScanResult `json:"result,omitempty"`
	Detail string           `json:"detail,omitempty"`
	Cart   cart.Snapshot    `json:"cart"`
}

// Scan обрабатывает штрихкод, отсканированный покупателем.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.service.Scan(r.Context(), req.Barcode)
	h.writeScan(w, res, err, h.service.Cart)
}

// writeScan отвечает на сканирование. Если бэкенд отказал в добавлении известного товара,
// ответ содержит и товар, и причину отказа.
func (h *Handler) writeScan(w http.ResponseWriter, res *cart.ScanResult, err error, snapshot func() cart.Snapshot) {
	if err != nil && res == nil {
		h.writeError(w, "scan", err)
		return
	}

	resp := scanResponse{Result: res, Cart: snapshot()}
	if err != nil {
		resp.Detail = remote.Detail(err)
		if resp.Detail == "" {
			resp.Detail = "could not add product"
		}
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type removeModeResponse struct {
	RemoveMode bool `json:"removeMode"`
}

// ToggleRemoveMode переключает режим удаления.
func (h *Handler) ToggleRemoveMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, removeModeResponse{RemoveMode: h.service.ToggleRemoveMode()})
}

// Checkout оплачивает привязанную сессию.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Checkout(r.Context()); err != nil {
		h.writeError(w, "checkout", err)
		return
	}

	writeJSON(w, http.StatusOK, h.service.Status())
}

// ConfirmCheckout завершает покупку после экрана подтверждения.
func (h *Handler) ConfirmCheckout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ConfirmCheckout(r.Context()); err != nil {
		h.writeError(w, "confirm checkout", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Products возвращает каталог товаров.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.Products(r.Context())
	if err != nil {
		h.writeError(w, "list products", err)
		return
	}

	if len(products) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, products)
}

// Product возвращает товар по штрихкоду.
func (h *Handler) Product(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Product(r.Context(), chi.URLParam(r, "barcode"))
	if err != nil {
		h.writeError(w, "get product", err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

type displaySessionRequest struct {
	SessionID int64 `json:"sessionId"`
}

// SetDisplaySession привязывает дисплей тележки к сессии.
func (h *Handler) SetDisplaySession(w http.ResponseWriter, r *http.Request) {
	var req displaySessionRequest
	if !decode(w, r, &req) {
		return
	}

	if req.SessionID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "sessionId must be positive"})
		return
	}

	writeJSON(w, http.StatusOK, h.service.SetDisplaySession(req.SessionID))
}

// ClearDisplaySession снимает привязку дисплея и останавливает опрос.
func (h *Handler) ClearDisplaySession(w http.ResponseWriter, r *http.Request) {
	h.service.ClearDisplaySession()
	w.WriteHeader(http.StatusNoContent)
}

// ConnectDisplay запускает ожидание сессии для тележки.
func (h *Handler) ConnectDisplay(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ConnectDisplay(chi.URLParam(r, "cartCode")); err != nil {
		h.writeError(w, "connect display", err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// DisplayQRCode отдаёт PNG с QR-кодом тележки. Размер задаётся параметром size.
func (h *Handler) DisplayQRCode(w http.ResponseWriter, r *http.Request) {
	size := 0
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 2048 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid size"})
			return
		}
		size = n
	}

	png, err := h.service.DisplayQRCode(chi.URLParam(r, "cartCode"), size)
	if err != nil {
		h.writeError(w, "render qr code", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// DisplayCart возвращает корзину дисплея.
func (h *Handler) DisplayCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.DisplayCart())
}

// DisplayAddItem добавляет товар с дисплея тележки.
func (h *Handler) DisplayAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !decode(w, r, &req) {
		return
	}

	snap, err := h.service.DisplayAddItem(r.Context(), req.Barcode, req.quantity())
	if err != nil {
		h.writeError(w, "display add item", err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// DisplayRemoveItem убирает единицу товара с дисплея тележки.
func (h *Handler) DisplayRemoveItem(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.DisplayRemoveItem(r.Context(), chi.URLParam(r, "barcode"))
	if err != nil {
		h.writeError(w, "display remove item", err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// DisplayScan обрабатывает штрихкод, отсканированный на дисплее.
func (h *Handler) DisplayScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.service.DisplayScan(r.Context(), req.Barcode)
	h.writeScan(w, res, err, h.service.DisplayCart)
}

type assistanceRequest struct {
	CartCode     string `json:"cartCode"`
	CustomerName string `json:"customerName"`
}

// CallAssistance регистрирует вызов помощи.
func (h *Handler) CallAssistance(w http.ResponseWriter, r *http.Request) {
	var req assistanceRequest
	if !decode(w, r, &req) {
		return
	}

	created, err := h.service.CallAssistance(r.Context(), req.CartCode, req.CustomerName)
	if err != nil {
		h.writeError(w, "call assistance", err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

type cancelResponse struct {
	Cancelled int `json:"cancelled"`
}

// CancelAssistance отменяет нерешённые вызовы тележки.
func (h *Handler) CancelAssistance(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.CancelAssistance(r.Context(), chi.URLParam(r, "cartCode"))
	if err != nil {
		h.writeError(w, "cancel assistance", err)
		return
	}

	writeJSON(w, http.StatusOK, cancelResponse{Cancelled: n})
}

// ActiveAssistance возвращает активный вызов тележки или 204, если его нет.
func (h *Handler) ActiveAssistance(w http.ResponseWriter, r *http.Request) {
	req, ok, err := h.service.ActiveAssistance(r.Context(), chi.URLParam(r, "cartCode"))
	if err != nil {
		h.writeError(w, "active assistance", err)
		return
	}

	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// AssistanceRequests возвращает все вызовы помощи для панели администратора.
func (h *Handler) AssistanceRequests(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.AssistanceRequests(r.Context())
	if err != nil {
		h.writeError(w, "list assistance", err)
		return
	}

	if len(list) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, list)
}

// ResolveAssistance закрывает вызов помощи.
func (h *Handler) ResolveAssistance(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResolveAssistance(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, "resolve assistance", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type assignRequest struct {
	StaffName string `json:"staffName"`
}

// AssignAssistance назначает сотрудника на вызов помощи.
func (h *Handler) AssignAssistance(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.service.AssignAssistance(r.Context(), chi.URLParam(r, "id"), req.StaffName); err != nil {
		h.writeError(w, "assign assistance", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
