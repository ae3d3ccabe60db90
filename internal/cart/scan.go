package cart

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/smartcart/internal/model"
	"github.com/mmeshcher/smartcart/internal/remote"
)

// ScanAction обозначает действие, выполненное по отсканированному штрихкоду.
type ScanAction string

const (
	ScanAdded   ScanAction = "added"
	ScanRemoved ScanAction = "removed"
	// ScanRejected: товар есть в каталоге, но бэкенд отказал в добавлении.
	ScanRejected ScanAction = "rejected"
)

// ScanResult описывает результат сканирования.
type ScanResult struct {
	Action  ScanAction     `json:"action"`
	Barcode string         `json:"barcode"`
	Product *model.Product `json:"product,omitempty"`
}

// Scan обрабатывает отсканированный штрихкод: в режиме удаления убирает единицу товара, иначе добавляет одну.
// Если добавление не удалось, товар ищется в каталоге, чтобы отличить неизвестный штрихкод от отказа бэкенда;
// в последнем случае найденный товар возвращается вместе с ошибкой.
func (s *Synchronizer) Scan(ctx context.Context, barcode string) (*ScanResult, error) {
	if s.RemoveMode() {
		if err := s.RemoveItem(ctx, barcode); err != nil {
			return nil, err
		}
		return &ScanResult{Action: ScanRemoved, Barcode: barcode}, nil
	}

	addErr := s.AddItem(ctx, barcode, 1)
	if addErr == nil {
		return &ScanResult{Action: ScanAdded, Barcode: barcode}, nil
	}
	if !errors.Is(addErr, remote.ErrRequestFailed) {
		return nil, addErr
	}

	token, err := s.binding.Token()
	if err != nil {
		return nil, addErr
	}

	product, err := s.backend.Product(ctx, token, barcode)
	switch {
	case errors.Is(err, remote.ErrProductNotFound):
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, barcode)
	case err != nil:
		s.logger.Warn("product lookup failed", zap.String("barcode", barcode), zap.Error(err))
		return nil, addErr
	}

	return &ScanResult{Action: ScanRejected, Barcode: barcode, Product: product}, addErr
}
