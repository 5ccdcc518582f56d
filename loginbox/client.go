// Package loginbox is a client for the remote Loginbox REST API.
//
// Every call returns the decoded body on HTTP 200. Other statuses map to
// distinct errors so callers can tell bad input from bad credentials from a
// missing endpoint:
//
//	400 -> ErrMissingRequiredParameters
//	401 -> ErrInvalidCredentials
//	404 -> ErrMissingEndpoint
//	any other non-200 -> ErrGenericHTTP
//
// All returned errors for non-200 responses are *HTTPError values that unwrap
// to one of those sentinels.
package loginbox

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
	"time"
)

const (
	apiUser        = "api"
	sdkVersion     = "1.0"
	sdkUserAgent   = "loginbox-sdk-go"
	defaultHost    = "api.loginbox.io"
	defaultVersion = "v1"
	maxBodyBytes   = 1 << 20
)

var (
	ErrMissingRequiredParameters = errors.New("loginbox: missing required parameters")
	ErrInvalidCredentials        = errors.New("loginbox: invalid credentials")
	ErrMissingEndpoint           = errors.New("loginbox: missing endpoint")
	ErrGenericHTTP               = errors.New("loginbox: http error")
)

// HTTPError describes a non-200 response.
type HTTPError struct {
	Code    int
	Body    string
	Message string
	kind    error
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%v (status %d): %s", e.kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%v (status %d)", e.kind, e.Code)
}

func (e *HTTPError) Unwrap() error { return e.kind }

// Response is a successful API reply. Body holds the JSON-decoded payload,
// or the raw text when the payload is not JSON.
type Response struct {
	StatusCode int
	Body       any
	Raw        []byte
}

// Field returns a top-level field of a JSON object body.
func (r *Response) Field(name string) (any, bool) {
	obj, ok := r.Body.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[name]
	return v, ok
}

// Config selects the API endpoint and credentials.
type Config struct {
	APIKey     string        `yaml:"api_key"`
	Host       string        `yaml:"host"`
	APIVersion string        `yaml:"api_version"`
	DisableTLS bool          `yaml:"disable_tls"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Client talks to the Loginbox API. It is safe for concurrent use.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New builds a client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("loginbox: empty api key")
	}
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultVersion
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	scheme := "https://"
	if cfg.DisableTLS {
		scheme = "http://"
	}
	host := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(cfg.Host, "https://"), "http://"), "/")

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: scheme + host + "/" + cfg.APIVersion + "/",
		http:    httpClient,
	}, nil
}

// BaseURL returns the resolved API root, ending in a slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Post sends data as a form body.
func (c *Client) Post(ctx context.Context, endpoint string, data url.Values) (*Response, error) {
	return c.send(ctx, http.MethodPost, endpoint, data)
}

// Get sends query as the URL query string.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) (*Response, error) {
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return c.send(ctx, http.MethodGet, endpoint, nil)
}

// Put sends data as a form body.
func (c *Client) Put(ctx context.Context, endpoint string, data url.Values) (*Response, error) {
	return c.send(ctx, http.MethodPut, endpoint, data)
}

func (c *Client) Delete(ctx context.Context, endpoint string) (*Response, error) {
	return c.send(ctx, http.MethodDelete, endpoint, nil)
}

func (c *Client) send(ctx context.Context, method, endpoint string, form url.Values) (*Response, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+strings.TrimPrefix(endpoint, "/"), body)
	if err != nil {
		return nil, fmt.Errorf("loginbox: build request: %w", err)
	}
	req.Header.Set("User-Agent", sdkUserAgent+"/"+sdkVersion)
	req.SetBasicAuth(apiUser, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("loginbox: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("loginbox: read body: %w", err)
	}

	return handleResponse(resp.StatusCode, raw)
}

func handleResponse(code int, raw []byte) (*Response, error) {
	switch code {
	case http.StatusOK:
		out := &Response{StatusCode: code, Raw: raw}
		var decoded any
		if len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, &decoded); err != nil {
				decoded = string(raw)
			}
		}
		out.Body = decoded
		return out, nil
	case http.StatusBadRequest:
		return nil, &HTTPError{Code: code, Body: string(raw), Message: errorMessage(raw), kind: ErrMissingRequiredParameters}
	case http.StatusUnauthorized:
		return nil, &HTTPError{Code: code, Body: string(raw), kind: ErrInvalidCredentials}
	case http.StatusNotFound:
		return nil, &HTTPError{Code: code, Body: string(raw), Message: errorMessage(raw), kind: ErrMissingEndpoint}
	default:
		return nil, &HTTPError{Code: code, Body: string(raw), kind: ErrGenericHTTP}
	}
}

func errorMessage(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	return payload.Message
}
