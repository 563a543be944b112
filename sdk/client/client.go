// Package client is a small HTTP client for the stocklock gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal HTTP client for the API gateway.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New returns a client with a default HTTP timeout. The timeout covers a
// guarded decrement waiting out its whole retry budget.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Stock mirrors the gateway stock payload.
type Stock struct {
	ID     int64      `json:"id"`
	Count  int64      `json:"count"`
	Result *RunResult `json:"result,omitempty"`
}

// RunResult describes a guarded decrement.
type RunResult struct {
	Key      string `json:"key"`
	Token    string `json:"token"`
	Outcome  string `json:"outcome"`
	Attempts int    `json:"attempts"`
	Released bool   `json:"released"`
}

// Lock mirrors the gateway lock payload.
type Lock struct {
	Key       string    `json:"key"`
	Token     string    `json:"token"`
	TTLms     int64     `json:"ttl_ms,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Acquired  bool      `json:"acquired,omitempty"`
	Released  bool      `json:"released,omitempty"`
}

func (c *Client) endpoint(path string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	return base + path
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		payload = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), payload)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func stockPath(id int64) string {
	return "/api/v1/stocks/" + strconv.FormatInt(id, 10)
}

// GetStock fetches a stock.
func (c *Client) GetStock(ctx context.Context, id int64) (*Stock, error) {
	var out Stock
	if err := c.doJSON(ctx, http.MethodGet, stockPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PutStock creates or overwrites a stock.
func (c *Client) PutStock(ctx context.Context, id, count int64) (*Stock, error) {
	var out Stock
	if err := c.doJSON(ctx, http.MethodPut, stockPath(id), map[string]int64{"count": count}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecreaseStock decrements a stock, under the lock unless unguarded.
func (c *Client) DecreaseStock(ctx context.Context, id, quantity int64, unguarded bool) (*Stock, error) {
	body := map[string]any{"quantity": quantity, "unguarded": unguarded}
	var out Stock
	if err := c.doJSON(ctx, http.MethodPost, stockPath(id)+"/decrease", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetLock reports the current holder of key.
func (c *Client) GetLock(ctx context.Context, key string) (*Lock, error) {
	var out Lock
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/locks?key="+url.QueryEscape(key), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AcquireLock makes one acquisition attempt. An empty token lets the gateway
// generate one. A held lock yields a StatusError with code 409.
func (c *Client) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (*Lock, error) {
	body := map[string]any{"key": key}
	if token != "" {
		body["token"] = token
	}
	if ttl > 0 {
		body["ttl_ms"] = ttl.Milliseconds()
	}
	var out Lock
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/locks/acquire", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReleaseLock frees key when token still owns it.
func (c *Client) ReleaseLock(ctx context.Context, key, token string) (*Lock, error) {
	var out Lock
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/locks/release", map[string]string{"key": key, "token": token}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetPassword issues a temporary password for userID. The password is
// delivered out of band.
func (c *Client) ResetPassword(ctx context.Context, userID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/users/reset-password/"+url.PathEscape(userID), nil, nil)
}

// VerifyPassword consumes the temporary password. A mismatch yields a
// StatusError with code 400.
func (c *Client) VerifyPassword(ctx context.Context, userID, temporaryPassword string) error {
	q := url.Values{"userId": {userID}, "temporaryPassword": {temporaryPassword}}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/users/verify-password?"+q.Encode(), nil, nil)
}
