package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bitfsorg/libblocks-go/block"
)

// MaxBlockResponseSize bounds a block body read from the origin.
const MaxBlockResponseSize = 64 << 20

// TokenSource returns the current access token. It is called for every
// request so a refreshed token is picked up without rebuilding the client.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a TokenSource that always yields tok.
func StaticToken(tok string) TokenSource {
	return func(context.Context) (string, error) { return tok, nil }
}

// OriginClient fetches blocks from the origin server:
//
//	GET {base}/blocks/{hex}  Authorization: Bearer <token>
type OriginClient struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
}

// NewOriginClient creates a client for cfg. A nil tokens falls back to
// cfg.AccessToken; an empty token sends no Authorization header.
func NewOriginClient(cfg ServerConfig, tokens TokenSource) *OriginClient {
	if tokens == nil {
		tokens = StaticToken(cfg.AccessToken)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultServerTimeout
	}
	return &OriginClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		tokens:  tokens,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
	}
}

// BaseURL returns the configured origin URL without a trailing slash.
func (c *OriginClient) BaseURL() string { return c.baseURL }

// FetchBlock downloads hash from the origin and checks the body hashes to
// it.
func (c *OriginClient) FetchBlock(ctx context.Context, hash block.Hash) ([]byte, error) {
	token, err := c.tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: token: %w", ErrAuthFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/blocks/"+hash.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("network: create request: %w", err)
	}
	req.Header.Set("Accept", "application/octet-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: HTTP %d", ErrAuthFailed, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrConnectionFailed, resp.StatusCode, string(respBody))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBlockResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrConnectionFailed, err)
	}
	if len(data) > MaxBlockResponseSize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrInvalidResponse, MaxBlockResponseSize)
	}
	if !hash.Verify(data) {
		return nil, fmt.Errorf("%w: %s", ErrHashMismatch, hash)
	}
	return data, nil
}
