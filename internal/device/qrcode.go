package device

import (
	"fmt"

	"github.com/skip2/go-qrcode"

	"github.com/mmeshcher/smartcart/internal/validation"
)

const defaultQRSize = 256

// QRCode рисует код тележки в виде PNG с QR-кодом, который сканирует покупатель.
func QRCode(cartCode string, size int) ([]byte, error) {
	code := validation.NormalizeCartCode(cartCode)
	if !validation.IsValidCartCode(code) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCartCode, cartCode)
	}
	if size <= 0 {
		size = defaultQRSize
	}

	png, err := qrcode.Encode(code, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}
	return png, nil
}
