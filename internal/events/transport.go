package events

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"
)

// defaultConnectTimeout bounds transport dialing and the subscription
// handshake when the caller's context carries no deadline.
const defaultConnectTimeout = 10 * time.Second

// Transport is one persistent streaming connection to the controller.
// A transport instance is single-use: once closed it is discarded and
// the supervisor builds a fresh one for the next session.
type Transport interface {
	// Connect dials the controller and performs the subscription
	// handshake. It must be called exactly once.
	Connect(ctx context.Context) error

	// ReadFrame blocks until the next frame arrives. Close unblocks
	// any pending read with an error.
	ReadFrame() ([]byte, error)

	// Close tears down the connection. Idempotent.
	Close() error
}

// TransportConfig holds controller connection details shared by both
// transport kinds.
type TransportConfig struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string

	// WebRoot is an optional path prefix for controllers behind a
	// reverse proxy.
	WebRoot string

	ConnectTimeout time.Duration
}

func (c TransportConfig) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return defaultConnectTimeout
}

func (c TransportConfig) hostPort() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// basicAuth returns the Authorization header value for the configured
// credentials.
func (c TransportConfig) basicAuth() string {
	creds := c.Username + ":" + c.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}
