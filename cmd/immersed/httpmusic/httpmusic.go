// Package httpmusic implements the musicclient.Client boundary contract
// (spec §6) as a best-effort REST stand-in. The core never depends on
// any particular music service's API — the spec explicitly scopes the
// real third-party integration out — so this client only needs to prove
// the contract is exercisable end-to-end against a local or mocked HTTP
// endpoint shaped like { "POST /play" : {context_uri}, "POST /pause" }.
package httpmusic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Client talks to baseURL with a bearer token. An empty baseURL means
// "no music service configured" — IsAvailable reports false and every
// other method is a no-op that returns nil. No errs.Unavailable error is
// raised here; per spec §7, Unavailable is always recovered locally by
// the caller (the Orchestrator), so this client simply reports
// unavailability through IsAvailable and otherwise degrades silently.
type Client struct {
	log     *slog.Logger
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, log *slog.Logger) *Client {
	return &Client{
		log:     log,
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) IsAvailable() bool {
	return c.baseURL != ""
}

func (c *Client) Authenticate(ctx context.Context) error {
	if !c.IsAvailable() {
		return nil
	}
	_, err := c.post(ctx, "/authenticate", nil)
	return err
}

func (c *Client) PlayContext(ctx context.Context, uri string) error {
	if !c.IsAvailable() {
		return nil
	}
	_, err := c.post(ctx, "/play", map[string]string{"context_uri": uri})
	return err
}

func (c *Client) Pause(ctx context.Context) error {
	if !c.IsAvailable() {
		return nil
	}
	_, err := c.post(ctx, "/pause", nil)
	return err
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("httpmusic: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("httpmusic: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpmusic: request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("httpmusic: %s returned status %d", path, resp.StatusCode)
	}
	return nil, nil
}
