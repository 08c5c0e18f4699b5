package oms

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cuemby/panda/pkg/log"
)

const defaultPort = 8443

// Config configures a management server client
type Config struct {
	// Host is the IP or hostname of the management server
	Host string

	Username string
	Password string

	// BaseURL overrides https://<Host>:8443/oms/
	BaseURL string

	// RequestsPerSecond paces API calls; zero disables pacing
	RequestsPerSecond float64
	Burst             int

	// Timeout bounds a single request (default: 5 minutes)
	Timeout time.Duration
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Text returns the response body as a string
func (r *Response) Text() string {
	return string(r.Body)
}

// Client is a session-based client of the management server REST API.
// The session is a cookie obtained by Login; calling Login again replaces
// it.
type Client struct {
	cfg     Config
	base    *url.URL
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu   sync.Mutex
	http *http.Client
}

// NewClient creates a client. It does not log in.
func NewClient(cfg Config) (*Client, error) {
	raw := cfg.BaseURL
	if raw == "" {
		if cfg.Host == "" {
			return nil, fmt.Errorf("management server host is required")
		}
		raw = fmt.Sprintf("https://%s:%d/oms/", cfg.Host, defaultPort)
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid management server url %q: %w", raw, err)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		cfg:     cfg,
		base:    base,
		limiter: rate.NewLimiter(limit, burst),
		logger:  log.WithComponent("oms").With().Str("host", base.Host).Logger(),
	}
	if err := c.resetSession(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) resetSession() error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("failed to create cookie jar: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.http = &http.Client{
		Jar:     jar,
		Timeout: c.cfg.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // appliance certificate is self-signed
			Proxy:           http.ProxyFromEnvironment,
		},
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.http
}

// Login opens a new session, discarding the previous one
func (c *Client) Login(ctx context.Context) error {
	if err := c.resetSession(); err != nil {
		return err
	}

	q := url.Values{}
	q.Set("j_username", c.cfg.Username)
	q.Set("j_password", c.cfg.Password)
	u := c.base.ResolveReference(&url.URL{Path: "j_spring_security_check", RawQuery: q.Encode()})

	c.logger.Debug().Str("user", c.cfg.Username).Msg("Request login")

	resp, err := c.send(ctx, http.MethodPost, u, nil, "")
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("login failed: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Get issues GET api/<path>
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Delete issues DELETE api/<path>
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// Post issues POST api/<path> with body encoded as JSON
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Put issues PUT api/<path> with body encoded as JSON
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

// apiURL resolves path (which may carry a query) under api/
func (c *Client) apiURL(path string) (*url.URL, error) {
	ref, err := url.Parse("api/" + strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api path %q: %w", path, err)
	}
	return c.base.ResolveReference(ref), nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*Response, error) {
	u, err := c.apiURL(path)
	if err != nil {
		return nil, err
	}

	var payload []byte
	contentType := ""
	if body != nil {
		contentType = "application/json"
		switch b := body.(type) {
		case []byte:
			payload = b
		case string:
			payload = []byte(b)
		default:
			payload, err = json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s %s body: %w", method, path, err)
			}
		}
	}

	c.logger.Debug().Str("method", method).Str("url", u.String()).Msg("Request")
	resp, err := c.send(ctx, method, u, payload, contentType)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Str("method", method).Str("url", u.String()).Int("status", resp.StatusCode).Msg("Response")
	return resp, nil
}

func (c *Client) send(ctx context.Context, method string, u *url.URL, payload []byte, contentType string) (*Response, error) {
	resp, err := c.open(ctx, method, u, payload, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %s response: %w", method, u.Path, err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// open paces and sends a request, returning the unread response
func (c *Client) open(ctx context.Context, method string, u *url.URL, payload []byte, contentType string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	return resp, nil
}
