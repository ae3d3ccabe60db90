// Package remote предоставляет клиент REST API бэкенда умной тележки.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxBodySize = 1 << 20

// ErrRequestFailed оборачивает любую неудачу обращения к бэкенду: ответ не 2xx, сетевую ошибку или ошибку декодирования.
var ErrRequestFailed = errors.New("remote request failed")

// Error описывает неудачный вызов бэкенда. StatusCode равен нулю, если ответ не был получен.
type Error struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Method)
	b.WriteByte(' ')
	b.WriteString(e.Path)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap позволяет сравнивать ошибку и с ErrRequestFailed, и с исходной причиной.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrRequestFailed, e.Err}
	}
	return []error{ErrRequestFailed}
}

// StatusCode возвращает HTTP-статус из ошибки вызова или 0.
func StatusCode(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

// Detail возвращает сообщение об ошибке, присланное бэкендом, если оно было.
func Detail(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Detail
	}
	return ""
}

// IsRetryable сообщает, имеет ли смысл повторить запрос: сбой транспорта, 429 или 5xx.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var re *Error
	if !errors.As(err, &re) {
		return false
	}
	code := re.StatusCode
	return code == 0 || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// Client инкапсулирует HTTP-взаимодействие с бэкендом.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент бэкенда. Таймаут ограничивает каждый запрос целиком.
func NewClient(baseURL string, timeout time.Duration) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type errorBody struct {
	Detail string `json:"detail"`
}

// call выполняет один запрос к бэкенду и приводит все виды неудач к *Error.
func (c *Client) call(ctx context.Context, method, path, token string, body, out any) error {
	fail := func(status int, detail string, err error) error {
		return &Error{Method: method, Path: path, StatusCode: status, Detail: detail, Err: err}
	}

	if c == nil || c.baseURL == "" {
		return fail(0, "", errors.New("backend client not configured"))
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fail(0, "", fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fail(0, "", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(0, "", fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fail(resp.StatusCode, "", fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		if len(data) > 0 {
			_ = json.Unmarshal(data, &eb)
		}
		return fail(resp.StatusCode, eb.Detail, nil)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fail(resp.StatusCode, "", fmt.Errorf("decode response: %w", err))
	}

	return nil
}
