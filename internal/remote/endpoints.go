package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mmeshcher/smartcart/internal/model"
)

// Scope выбирает вариант эндпоинтов сессии: покупательский (с токеном) или дисплея тележки.
type Scope int

const (
	ScopeCustomer Scope = iota
	ScopeDevice
)

func (s Scope) sessionPath(sessionID int64, action string) string {
	prefix := "/cart/session/"
	if s == ScopeDevice {
		prefix = "/cart/cart/session/"
	}
	p := fmt.Sprintf("%s%d/", prefix, sessionID)
	if action != "" {
		p += action + "/"
	}
	return p
}

// LoginResponse описывает ответ эндпоинта входа.
type LoginResponse struct {
	User   model.User         `json:"user"`
	Tokens model.Tokens       `json:"tokens"`
	Cart   *model.CartBinding `json:"cart,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionIDResponse struct {
	ID int64 `json:"id"`
}

type addItemRequest struct {
	Barcode  string `json:"barcode"`
	Quantity int    `json:"quantity"`
}

type removeItemRequest struct {
	Barcode string `json:"barcode"`
}

// Login отправляет учётные данные и возвращает выданные токены.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var resp LoginResponse
	err := c.call(ctx, http.MethodPost, "/user/login/", "", loginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartSession запускает (или возвращает уже активную) сессию покупок для тележки.
func (c *Client) StartSession(ctx context.Context, token, cartCode string) (int64, error) {
	var resp sessionIDResponse
	path := "/cart/start/" + url.PathEscape(cartCode) + "/"
	if err := c.call(ctx, http.MethodPost, path, token, nil, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// GetSession возвращает каноническую запись сессии.
func (c *Client) GetSession(ctx context.Context, scope Scope, token string, sessionID int64) (*model.CartSession, error) {
	var s model.CartSession
	if err := c.call(ctx, http.MethodGet, scope.sessionPath(sessionID, ""), token, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// AddItem добавляет товар в сессию.
func (c *Client) AddItem(ctx context.Context, scope Scope, token string, sessionID int64, barcode string, quantity int) error {
	body := addItemRequest{Barcode: barcode, Quantity: quantity}
	return c.call(ctx, http.MethodPost, scope.sessionPath(sessionID, "add"), token, body, nil)
}

// RemoveItem убирает одну единицу товара из сессии.
func (c *Client) RemoveItem(ctx context.Context, scope Scope, token string, sessionID int64, barcode string) error {
	body := removeItemRequest{Barcode: barcode}
	return c.call(ctx, http.MethodPost, scope.sessionPath(sessionID, "remove"), token, body, nil)
}

// Checkout завершает сессию оплатой.
func (c *Client) Checkout(ctx context.Context, token string, sessionID int64) error {
	return c.call(ctx, http.MethodPost, ScopeCustomer.sessionPath(sessionID, "checkout"), token, nil, nil)
}

// ActiveSession опрашивает, появилась ли активная сессия у тележки. Отсутствие сессии не считается ошибкой.
func (c *Client) ActiveSession(ctx context.Context, cartCode string) (int64, bool, error) {
	var resp sessionIDResponse
	path := "/cart/active-session/" + url.PathEscape(cartCode) + "/"
	err := c.call(ctx, http.MethodGet, path, "", nil, &resp)
	if err != nil {
		if StatusCode(err) == http.StatusNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	if resp.ID == 0 {
		return 0, false, nil
	}
	return resp.ID, true, nil
}

// Products возвращает каталог товаров.
func (c *Client) Products(ctx context.Context, token string) ([]model.Product, error) {
	var products []model.Product
	if err := c.call(ctx, http.MethodGet, "/product/", token, nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// ErrProductNotFound возвращается, если товара с таким штрихкодом нет в каталоге.
var ErrProductNotFound = errors.New("product not found")

// Product ищет товар по штрихкоду.
func (c *Client) Product(ctx context.Context, token, barcode string) (*model.Product, error) {
	var p model.Product
	path := "/product/" + url.PathEscape(barcode) + "/"
	if err := c.call(ctx, http.MethodGet, path, token, nil, &p); err != nil {
		if StatusCode(err) == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, barcode)
		}
		return nil, err
	}
	return &p, nil
}
