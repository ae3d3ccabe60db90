// Package validation содержит проверки входных данных перед обращением к бэкенду.
package validation

import (
	"strings"
	"unicode"
)

const (
	maxBarcodeLen  = 64
	maxCartCodeLen = 32
)

// IsValidBarcode проверяет, что штрихкод непуст и состоит только из цифр и латинских букв.
func IsValidBarcode(barcode string) bool {
	if barcode == "" || len(barcode) > maxBarcodeLen {
		return false
	}

	for _, ch := range barcode {
		if ch > unicode.MaxASCII || !(unicode.IsDigit(ch) || unicode.IsLetter(ch) || ch == '-') {
			return false
		}
	}

	return true
}

// NormalizeCartCode приводит код тележки к каноническому виду: без пробелов по краям и в верхнем регистре.
func NormalizeCartCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidCartCode проверяет нормализованный код тележки, например CART-123.
func IsValidCartCode(code string) bool {
	if code == "" || len(code) > maxCartCodeLen {
		return false
	}

	for _, ch := range code {
		switch {
		case ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
		default:
			return false
		}
	}

	return true
}
