// Package myjd implements the upstream contract against the MyJDownloader
// HTTP API.
package myjd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/italolelis/jdownloader_remote/internal/logctx"
	"github.com/italolelis/jdownloader_remote/internal/upstream"
)

const maxErrorBody = 4 << 10

// Client is a MyJDownloader API client. The session token obtained by
// Connect is attached to every other call by an oauth2 transport.
type Client struct {
	BaseURL  string
	AppKey   string
	ClientID string

	// plain carries unauthenticated calls (connect), authed everything else.
	plain  *http.Client
	authed *http.Client

	mu    sync.RWMutex
	token string
}

var (
	_ upstream.Client    = (*Client)(nil)
	_ oauth2.TokenSource = (*Client)(nil)
)

// NewClient creates a MyJDownloader client. A zero timeout disables the
// client-side deadline.
func NewClient(baseURL, appKey string, timeout time.Duration) *Client {
	base := otelhttp.NewTransport(http.DefaultTransport)

	c := &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		AppKey:   appKey,
		ClientID: newClientID(),
		plain:    &http.Client{Timeout: timeout, Transport: base},
	}

	c.authed = &http.Client{
		Timeout:   timeout,
		Transport: &oauth2.Transport{Source: c, Base: base},
	}

	return c
}

// Token returns the current session token. Without a session it fails with
// *upstream.AuthExpiredError.
func (c *Client) Token() (*oauth2.Token, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token == "" {
		return nil, &upstream.AuthExpiredError{Operation: "token"}
	}

	return &oauth2.Token{AccessToken: c.token, TokenType: "Bearer"}, nil
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Connect opens a session for the given account.
func (c *Client) Connect(ctx context.Context, creds upstream.Credentials) error {
	logger := logctx.LoggerFromContext(ctx).With("method", "connect")

	payload := map[string]string{
		"email":    creds.Email,
		"password": creds.Password,
		"appKey":   c.AppKey,
		"clientId": c.ClientID,
	}

	var resp struct {
		SessionToken string `json:"sessiontoken"`
	}

	if err := c.do(ctx, c.plain, http.MethodPost, "/my/connect", "connect", payload, &resp); err != nil {
		c.setToken("")
		return err
	}

	if resp.SessionToken == "" {
		c.setToken("")
		return &upstream.InvalidResponseError{Operation: "connect", Err: errors.New("empty session token")}
	}

	c.setToken(resp.SessionToken)
	logger.DebugContext(ctx, "session opened")

	return nil
}

// ListDevices lists the devices registered with the account.
func (c *Client) ListDevices(ctx context.Context) ([]upstream.Device, error) {
	var resp struct {
		List []upstream.Device `json:"list"`
	}

	if err := c.do(ctx, c.authed, http.MethodGet, "/my/listdevices", "list_devices", nil, &resp); err != nil {
		return nil, err
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "devices listed", "count", len(resp.List))

	return resp.List, nil
}

// AddLinks hands links to the device's link grabber.
func (c *Client) AddLinks(ctx context.Context, deviceID string, links []string, autostart bool) (*upstream.AddResult, error) {
	payload := map[string]any{
		"links":     strings.Join(links, "\n"),
		"autostart": autostart,
	}

	var resp struct {
		Data struct {
			ID any `json:"id"`
		} `json:"data"`
	}

	if err := c.do(ctx, c.authed, http.MethodPost, devicePath(deviceID, "linkgrabberv2/addLinks"), "add_links", payload, &resp); err != nil {
		return nil, err
	}

	result := &upstream.AddResult{Count: len(links)}
	if resp.Data.ID != nil {
		result.ID = fmt.Sprint(resp.Data.ID)
	}

	return result, nil
}

// QueryLinks lists the device's download links.
func (c *Client) QueryLinks(ctx context.Context, deviceID string) ([]upstream.Link, error) {
	payload := map[string]bool{
		"bytesLoaded": true,
		"bytesTotal":  true,
		"status":      true,
		"url":         true,
		"finished":    true,
		"speed":       true,
		"addedDate":   true,
	}

	var resp struct {
		Data []upstream.Link `json:"data"`
	}

	if err := c.do(ctx, c.authed, http.MethodPost, devicePath(deviceID, "downloadsV2/queryLinks"), "query_links", payload, &resp); err != nil {
		return nil, err
	}

	return resp.Data, nil
}

// QueryPackages fetches the packages with the given UUIDs.
func (c *Client) QueryPackages(ctx context.Context, deviceID string, packageUUIDs []int64) ([]upstream.Package, error) {
	payload := map[string]any{
		"packageUUIDs": packageUUIDs,
		"bytesLoaded":  true,
		"bytesTotal":   true,
		"childCount":   true,
		"status":       true,
		"finished":     true,
		"saveTo":       true,
	}

	var resp struct {
		Data []upstream.Package `json:"data"`
	}

	if err := c.do(ctx, c.authed, http.MethodPost, devicePath(deviceID, "downloadsV2/queryPackages"), "query_packages", payload, &resp); err != nil {
		return nil, err
	}

	return resp.Data, nil
}

// Disconnect closes the session. The local token is dropped even when the
// remote call fails.
func (c *Client) Disconnect(ctx context.Context) error {
	if _, err := c.Token(); err != nil {
		return nil
	}

	defer c.setToken("")

	return c.do(ctx, c.authed, http.MethodPost, "/my/disconnect", "disconnect", nil, nil)
}

func devicePath(deviceID, action string) string {
	return "/t/" + url.PathEscape(deviceID) + "/" + action
}

func (c *Client) do(ctx context.Context, httpClient *http.Client, method, path, operation string, in, out any) error {
	logger := logctx.LoggerFromContext(ctx).With("operation", operation)

	var body io.Reader

	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", operation, err)
		}

		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", operation, err)
	}

	req.Header.Set("Accept", "application/json")

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		var authErr *upstream.AuthExpiredError
		if errors.As(err, &authErr) {
			authErr.Operation = operation
			return authErr
		}

		logger.DebugContext(ctx, "request failed", "err", err)

		return &upstream.NetworkError{Operation: operation, APIMessage: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		message := strings.TrimSpace(string(b))

		logger.DebugContext(ctx, "non-2xx response", "status", resp.StatusCode, "body", message)

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return &upstream.AuthExpiredError{Operation: operation, StatusCode: resp.StatusCode, Err: errors.New(message)}
		}

		return &upstream.NetworkError{Operation: operation, StatusCode: resp.StatusCode, APIMessage: message}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &upstream.InvalidResponseError{Operation: operation, Err: err}
	}

	return nil
}
