package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request errors.
var (
	// ErrRequestFailed indicates the request could not be completed.
	ErrRequestFailed = errors.New("rest: request failed")

	// ErrUnauthorized indicates the controller rejected the credentials.
	ErrUnauthorized = errors.New("rest: unauthorized")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("rest: not found")
)

const defaultTimeout = 30 * time.Second

// Logger is the minimal logging interface the client requires.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Config holds controller REST connection details.
type Config struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string

	// WebRoot is an optional path prefix for controllers behind a
	// reverse proxy.
	WebRoot string

	// Timeout bounds each individual request.
	Timeout time.Duration
}

// Client is a request/response client for the controller's REST
// interface. It is used by the snapshot fetch and the command layer;
// it plays no part in stream synchronization.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	logger   Logger
}

// NewClient creates a REST client for the controller. A nil logger
// disables logging.
func NewClient(cfg Config, logger Logger) *Client {
	if logger == nil {
		logger = noopLogger{}
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	scheme := "http"
	if cfg.TLS {
		scheme = "https"
	}
	base := url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   cfg.WebRoot,
	}

	return &Client{
		baseURL:  strings.TrimRight(base.String(), "/"),
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Get performs a GET against the given REST path (e.g. "/rest/nodes")
// and returns the response body.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	reqURL := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrRequestFailed, err)
	}
	req.SetBasicAuth(c.username, c.password)

	c.logger.Debug("rest request", "url", reqURL)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRequestFailed, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, path)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s: status %d", ErrRequestFailed, path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrRequestFailed, err)
	}
	return body, nil
}
