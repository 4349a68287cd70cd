package hub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// Tenant headers attached to every request.
const (
	headerTenantID  = "x-ibm-dx-tenant-id"
	headerRequestID = "x-ibm-dx-request-id"
)

// TokenSource provides bearer tokens for hub requests.
// Defined at the consumer per "accept interfaces, return structs" —
// credential storage and refresh live with the caller (CLI keystore, tests).
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource returning a fixed token. Useful for API keys
// and tests.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token() (string, error) { return string(t), nil }

// Client is an HTTP client for the content hub APIs. It handles request
// construction, tenant headers, authentication, and error classification.
// It deliberately does not retry: transient failures surface to the caller
// as classified errors, and the sync layer's retry controller decides
// whether and when to re-issue the call.
type Client struct {
	baseURL    string
	tenantID   string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	userAgent  string
}

// NewClient creates a hub client for one tenant. baseURL is the tenant API
// endpoint without a trailing slash.
func NewClient(baseURL, tenantID string, httpClient *http.Client, token TokenSource, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = "wchtools-go"
	}

	return &Client{
		baseURL:    baseURL,
		tenantID:   tenantID,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		userAgent:  userAgent,
	}
}

// BaseURL returns the tenant endpoint the client was created with.
func (c *Client) BaseURL() string { return c.baseURL }

// TenantID returns the tenant identifier, or "" when only a base URL is known.
func (c *Client) TenantID() string { return c.tenantID }

// Do executes a single authenticated request. The caller is responsible for
// closing the response body on success. Non-2xx responses are drained and
// returned as *APIError wrapping a sentinel (use errors.Is to classify).
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	return c.DoRaw(ctx, method, path, body, "application/json")
}

// DoRaw executes a single authenticated request with an explicit content
// type. Used for streamed uploads where the body is not JSON.
func (c *Client) DoRaw(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("hub: creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("hub: obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.userAgent)

	if c.tenantID != "" {
		req.Header.Set(headerTenantID, c.tenantID)
	}

	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("hub: %s %s: %w", method, path, err)
	}

	c.logger.Debug("HTTP response received",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", resp.Header.Get(headerRequestID)),
	)

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	errBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	apiErr := newAPIError(resp.StatusCode, resp.Header.Get(headerRequestID), errBody)

	c.logger.Warn("request failed",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", apiErr.RequestID),
	)

	return nil, apiErr
}
