package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Barcode хранит штрихкод товара. Сервер может отдавать его как строкой, так и числом.
type Barcode string

// UnmarshalJSON принимает строковое и числовое представление штрихкода.
func (b *Barcode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode barcode: %w", err)
		}
		*b = Barcode(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode barcode: %w", err)
	}
	*b = Barcode(n.String())
	return nil
}
