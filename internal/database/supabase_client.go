// Package database provides Supabase database integration.
package database

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"os"
	"strings"
	"time"

	"github.com/vitalis-labs/service_layer/internal/httputil"
)

// Client wraps the Supabase REST and Auth APIs.
type Client struct {
	url        string
	serviceKey string
	httpClient *http.Client
	breaker    *CircuitBreaker
}

// Config holds database configuration.
type Config struct {
	URL        string
	ServiceKey string
	// HTTPClient overrides the default transport. Resilience is still applied.
	HTTPClient *http.Client
	Retry      *RetryConfig
	Breaker    *CircuitBreakerConfig
}

// NewClient creates a new Supabase client.
func NewClient(cfg Config) (*Client, error) {
	url := cfg.URL
	if url == "" {
		url = os.Getenv("SUPABASE_URL")
	}
	key := cfg.ServiceKey
	if key == "" {
		key = os.Getenv("SUPABASE_SERVICE_KEY")
	}

	if url == "" {
		return nil, fmt.Errorf("SUPABASE_URL is required")
	}
	if key == "" {
		return nil, fmt.Errorf("SUPABASE_SERVICE_KEY is required")
	}
	parsed, err := neturl.Parse(url)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return nil, fmt.Errorf("SUPABASE_URL must be a valid http(s) URL")
	}
	if parsed.User != nil {
		return nil, fmt.Errorf("SUPABASE_URL must not include user info")
	}

	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	breakerCfg := DefaultCircuitBreakerConfig()
	if cfg.Breaker != nil {
		breakerCfg = *cfg.Breaker
	}
	breaker := NewCircuitBreaker(breakerCfg)

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second, Transport: tlsTransport()}
	}
	inner := base.Transport
	if inner == nil {
		inner = http.DefaultTransport
	}

	return &Client{
		url:        strings.TrimRight(url, "/"),
		serviceKey: key,
		httpClient: &http.Client{
			Timeout:   base.Timeout,
			Transport: &resilientTransport{base: inner, retry: retry, breaker: breaker},
		},
		breaker: breaker,
	}, nil
}

func tlsTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	cloned := base.Clone()
	if cloned.TLSClientConfig != nil {
		cloned.TLSClientConfig = cloned.TLSClientConfig.Clone()
		if cloned.TLSClientConfig.MinVersion < tls.VersionTLS12 {
			cloned.TLSClientConfig.MinVersion = tls.VersionTLS12
		}
	} else {
		cloned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return cloned
}

// CircuitState reports the state of the client's circuit breaker.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.State()
}

const (
	maxSupabaseResponseBytes  = 8 << 20  // 8 MiB
	maxSupabaseErrorBodyBytes = 32 << 10 // 32 KiB
)

const (
	preferRepresentation = "return=representation"
	preferMergeUpsert    = "resolution=merge-duplicates,return=representation"
)

// request makes an HTTP request to the Supabase REST API.
func (c *Client) request(ctx context.Context, method, table string, body interface{}, query string) ([]byte, error) {
	return c.do(ctx, method, "/rest/v1/"+table, body, query, preferRepresentation)
}

// upsert posts rows with merge-duplicates resolution on the given conflict columns.
func (c *Client) upsert(ctx context.Context, table string, body interface{}, onConflict string) ([]byte, error) {
	query := ""
	if onConflict != "" {
		query = "on_conflict=" + neturl.QueryEscape(onConflict)
	}
	return c.do(ctx, http.MethodPost, "/rest/v1/"+table, body, query, preferMergeUpsert)
}

// authRequest makes an HTTP request to the Supabase Auth (GoTrue) API.
func (c *Client) authRequest(ctx context.Context, method, path string, body interface{}, query string) ([]byte, error) {
	return c.do(ctx, method, "/auth/v1/"+strings.TrimLeft(path, "/"), body, query, "")
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query, prefer string) ([]byte, error) {
	url := c.url + path
	if query != "" {
		url += "?" + query
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, truncated, readErr := httputil.ReadAllWithLimit(resp.Body, maxSupabaseErrorBodyBytes)
		if readErr != nil {
			return nil, fmt.Errorf("read error response: %w", readErr)
		}
		msg := strings.TrimSpace(string(respBody))
		if truncated {
			msg += "...(truncated)"
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	respBody, err := httputil.ReadAllStrict(resp.Body, maxSupabaseResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return respBody, nil
}

// APIError is a non-2xx response from Supabase.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supabase API error %d: %s", e.StatusCode, e.Message)
}
