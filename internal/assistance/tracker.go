// Package assistance ведёт реестр вызовов помощи от покупателей.
package assistance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/smartcart/internal/model"
	"github.com/mmeshcher/smartcart/internal/validation"
)

var (
	// ErrInvalidCartCode возвращается для синтаксически неверного кода тележки.
	ErrInvalidCartCode = errors.New("invalid cart code")
	// ErrEmptyStaffName возвращается при назначении без имени сотрудника.
	ErrEmptyStaffName = errors.New("staff name is required")
)

// Repository описывает хранилище вызовов помощи. Вызовы выдаются в порядке вставки.
type Repository interface {
	InsertRequest(ctx context.Context, req model.AssistanceRequest) error
	DeleteUnresolved(ctx context.Context, cartCode string) (int, error)
	ResolveRequest(ctx context.Context, id string) error
	AssignRequest(ctx context.Context, id, staffName string) error
	ListRequests(ctx context.Context) ([]model.AssistanceRequest, error)
}

// Tracker создаёт, отменяет и закрывает вызовы помощи.
type Tracker struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewTracker создаёт реестр поверх хранилища.
func NewTracker(repo Repository, logger *zap.Logger) *Tracker {
	return &Tracker{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Call регистрирует новый нерешённый вызов для тележки.
func (t *Tracker) Call(ctx context.Context, cartCode, customerName string) (*model.AssistanceRequest, error) {
	code := validation.NormalizeCartCode(cartCode)
	if !validation.IsValidCartCode(code) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCartCode, cartCode)
	}

	req := model.AssistanceRequest{
		ID:           uuid.NewString(),
		CartCode:     code,
		CustomerName: strings.TrimSpace(customerName),
		RequestedAt:  t.now().UTC(),
	}

	if err := t.repo.InsertRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("insert assistance request: %w", err)
	}

	t.logger.Info("assistance requested", zap.String("id", req.ID), zap.String("cart", code))
	return &req, nil
}

// Cancel удаляет все нерешённые вызовы тележки и возвращает их количество.
func (t *Tracker) Cancel(ctx context.Context, cartCode string) (int, error) {
	code := validation.NormalizeCartCode(cartCode)

	n, err := t.repo.DeleteUnresolved(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("cancel assistance requests: %w", err)
	}

	if n > 0 {
		t.logger.Info("assistance cancelled", zap.String("cart", code), zap.Int("count", n))
	}
	return n, nil
}

// Resolve помечает вызов решённым; решённые вызовы остаются в реестре.
func (t *Tracker) Resolve(ctx context.Context, id string) error {
	if err := t.repo.ResolveRequest(ctx, id); err != nil {
		return fmt.Errorf("resolve assistance request %s: %w", id, err)
	}
	return nil
}

// Assign назначает сотрудника на вызов, не меняя признак решённости.
func (t *Tracker) Assign(ctx context.Context, id, staffName string) error {
	name := strings.TrimSpace(staffName)
	if name == "" {
		return ErrEmptyStaffName
	}

	if err := t.repo.AssignRequest(ctx, id, name); err != nil {
		return fmt.Errorf("assign assistance request %s: %w", id, err)
	}
	return nil
}

// Requests возвращает все вызовы в порядке поступления.
func (t *Tracker) Requests(ctx context.Context) ([]model.AssistanceRequest, error) {
	list, err := t.repo.ListRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assistance requests: %w", err)
	}
	return list, nil
}

// Active возвращает первый нерешённый вызов указанной тележки.
func (t *Tracker) Active(ctx context.Context, cartCode string) (*model.AssistanceRequest, bool, error) {
	code := validation.NormalizeCartCode(cartCode)

	list, err := t.Requests(ctx)
	if err != nil {
		return nil, false, err
	}

	for i := range list {
		if list[i].CartCode == code && !list[i].Resolved {
			req := list[i]
			return &req, true, nil
		}
	}
	return nil, false, nil
}
