// Package client is used by the desktop app to finish a browser sign-in: it
// reads the code from the custom-scheme callback and trades it for a token.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/linesmerrill/desktop-auth-api/models"
)

// callbackHost is the host part of <scheme>://auth?code=...
const callbackHost = "auth"

// Client talks to the desktop auth API.
type Client struct {
	baseURL    string
	scheme     string
	httpClient *http.Client
}

// New creates a new API client for the app registered under scheme.
func New(baseURL, scheme string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		scheme:  scheme,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ParseCallback extracts the code from a callback URL such as
// phishguard://auth?code=...
func (c *Client) ParseCallback(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	if !strings.EqualFold(u.Scheme, c.scheme) {
		return "", fmt.Errorf("%w: unexpected scheme %q", ErrInvalidCallback, u.Scheme)
	}
	if u.Host != callbackHost {
		return "", fmt.Errorf("%w: unexpected host %q", ErrInvalidCallback, u.Host)
	}
	code := u.Query().Get("code")
	if code == "" {
		return "", fmt.Errorf("%w: missing code", ErrInvalidCallback)
	}
	return code, nil
}

// Exchange redeems code for the signed-in user and a desktop token. A code can
// only be redeemed once; see DenialReason for failures.
func (c *Client) Exchange(ctx context.Context, code string) (*models.ExchangeResponse, error) {
	var out models.ExchangeResponse
	if err := c.post(ctx, "/api/v1/auth/exchange", models.ExchangeRequest{Code: code}, &out); err != nil {
		return nil, fmt.Errorf("client.Exchange: %w", err)
	}
	return &out, nil
}

// ExchangeCallback parses a callback URL and redeems its code.
func (c *Client) ExchangeCallback(ctx context.Context, raw string) (*models.ExchangeResponse, error) {
	code, err := c.ParseCallback(raw)
	if err != nil {
		return nil, err
	}
	return c.Exchange(ctx, code)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max error body
		if readErr != nil {
			return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var apiErr models.ExchangeDenied
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Error, Reason: apiErr.Reason}
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
