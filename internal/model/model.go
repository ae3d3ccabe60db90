// Package model содержит доменные сущности умной тележки.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role описывает роль владельца сессионного токена.
type Role string

const (
	RoleCustomer    Role = "customer"
	RoleAdmin       Role = "admin"
	RoleManager     Role = "manager"
	RoleCartDisplay Role = "cart"
)

// IsStaff сообщает, относится ли роль к персоналу магазина.
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleManager
}

// User описывает аутентифицированного пользователя.
type User struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Tokens содержит пару токенов доступа.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// CartBinding связывает код тележки с идентификатором сессии покупок.
type CartBinding struct {
	CartCode  string `json:"cartId"`
	SessionID int64  `json:"sessionId"`
}

// Session описывает сохраняемое состояние клиента: пользователь, токены и, возможно, привязка к тележке.
type Session struct {
	User   User         `json:"user"`
	Tokens Tokens       `json:"tokens"`
	Cart   *CartBinding `json:"cart,omitempty"`
}

// Clone возвращает независимую копию сессии.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Cart != nil {
		cart := *s.Cart
		c.Cart = &cart
	}
	return &c
}

// Product описывает товар каталога.
type Product struct {
	Barcode Barcode          `json:"barcode"`
	Name    string           `json:"name"`
	Price   decimal.Decimal  `json:"price"`
	Weight  *decimal.Decimal `json:"weight,omitempty"`
	Image   *string          `json:"image,omitempty"`
}

// CartSessionItem описывает позицию сессии в том виде, в каком её отдаёт сервер.
type CartSessionItem struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// CartSession описывает сессию покупок, привязанную к тележке.
type CartSession struct {
	ID         int64             `json:"id"`
	CartCode   string            `json:"cart_code"`
	StartedAt  time.Time         `json:"started_at"`
	EndedAt    *time.Time        `json:"ended_at"`
	CheckedOut bool              `json:"checked_out"`
	Items      []CartSessionItem `json:"items"`
}

// CartItem описывает клиентскую проекцию позиции, ключом служит штрихкод.
type CartItem struct {
	Barcode   string          `json:"barcode"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	ImageURL  *string         `json:"imageUrl"`
}

// LineTotal возвращает стоимость позиции.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemFromSession строит проекцию позиции по серверной записи.
func ItemFromSession(si CartSessionItem) CartItem {
	return CartItem{
		Barcode:   string(si.Product.Barcode),
		Name:      si.Product.Name,
		UnitPrice: si.Product.Price,
		Quantity:  si.Quantity,
		ImageURL:  si.Product.Image,
	}
}

// AssistanceRequest описывает вызов помощи от покупателя.
type AssistanceRequest struct {
	ID           string    `json:"id"`
	CartCode     string    `json:"cartCode"`
	CustomerName string    `json:"customerName"`
	RequestedAt  time.Time `json:"requestedAt"`
	Resolved     bool      `json:"resolved"`
	AssignedTo   *string   `json:"assignedTo"`
}
