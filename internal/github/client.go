// Package github is a minimal REST transport for the GitHub endpoints used
// by the repository authorizers.
package github

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
	DefaultBaseURL    = "https://api.github.com"
	DefaultAPIVersion = "2022-11-28"
	DefaultTimeout    = 5 * time.Second
	DefaultUserAgent  = "swa-github-repo-auth"

	mediaType = "application/vnd.github+json"
)

// ClientConfig configures a Client. Zero values fall back to the defaults above.
type ClientConfig struct {
	BaseURL    string
	APIVersion string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client issues authenticated requests against the GitHub REST API.
type Client struct {
	origin     string
	pathPrefix string
	apiVersion string
	userAgent  string
	timeout    time.Duration
	http       *http.Client
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing API base URL %q: %w", raw, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("API base URL %q must be absolute", raw)
	}

	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		origin:     base.Scheme + "://" + base.Host,
		pathPrefix: strings.TrimRight(base.Path, "/"),
		apiVersion: cfg.APIVersion,
		userAgent:  cfg.UserAgent,
		timeout:    cfg.Timeout,
		http:       httpClient,
	}, nil
}

// URL joins a resource path onto the configured base, keeping any base path
// prefix (GitHub Enterprise serves the API under /api/v3).
func (c *Client) URL(resourcePath string) string {
	return c.origin + c.pathPrefix + resourcePath
}

// Timeout reports the deadline applied to every request.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Do sends a request bearing token and decodes a JSON response body into out
// (when out is non-nil). Non-2xx responses are returned as *APIError.
func (c *Client) Do(ctx context.Context, method, resourcePath, token string, body, out any) error {
	target := c.URL(resourcePath)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", target, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", mediaType)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-GitHub-Api-Version", c.apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", target, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			URL:        target,
			Message:    errorMessage(data),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", target, err)
	}
	return nil
}

// APIError is a non-2xx response from GitHub.
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
}

// StatusCode returns the HTTP status carried by err, or 0 when err did not
// come from a GitHub response.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func errorMessage(data []byte) string {
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil {
		return envelope.Message
	}
	return ""
}
