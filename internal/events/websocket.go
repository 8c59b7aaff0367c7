package events

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketTransport streams events over the controller's duplexed
// push socket at /rest/subscribe.
type WebSocketTransport struct {
	cfg TransportConfig

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

var _ Transport = (*WebSocketTransport)(nil)

// NewWebSocketTransport creates an unconnected websocket transport.
func NewWebSocketTransport(cfg TransportConfig) *WebSocketTransport {
	return &WebSocketTransport{cfg: cfg}
}

// Connect dials the controller's websocket subscription endpoint.
// The controller requires the ISYSUB subprotocol and a fixed Origin.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	scheme := "ws"
	if t.cfg.TLS {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   t.cfg.hostPort(),
		Path:   t.cfg.WebRoot + "/rest/subscribe",
	}

	header := http.Header{}
	header.Set("Authorization", t.cfg.basicAuth())
	header.Set("Origin", "com.universal-devices.websockets.isy")

	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.connectTimeout(),
		Subprotocols:     []string{"ISYSUB"},
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: websocket dial %s: %w (status %d)", ErrConnectionFailed, u.String(), err, resp.StatusCode)
		}
		return fmt.Errorf("%w: websocket dial %s: %w", ErrConnectionFailed, u.String(), err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		conn.Close()
		return ErrSessionClosed
	}
	t.conn = conn
	return nil
}

// ReadFrame blocks until the next text frame arrives.
func (t *WebSocketTransport) ReadFrame() ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return nil, ErrSessionClosed
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("websocket read: %w", err)
	}
	return data, nil
}

// Close tears down the websocket. Idempotent; unblocks pending reads.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
