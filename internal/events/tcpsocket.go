package events

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
)

// subscribeBody is the SOAP subscription request. REUSE_SOCKET tells
// the controller to push events back on this same connection.
const subscribeBody = `<s:Envelope><s:Body>` +
	`<u:Subscribe xmlns:u="urn:udi-com:service:X_Insteon_Lighting_Service:1">` +
	`<reportURL>REUSE_SOCKET</reportURL>` +
	`<duration>infinite</duration>` +
	`</u:Subscribe></s:Body></s:Envelope>` + "\r\n"

// TCPTransport streams events over the controller's long-lived SOAP
// subscription socket. Older firmware only supports this transport;
// each event arrives framed as an HTTP message with a Content-Length
// header.
type TCPTransport struct {
	cfg TransportConfig

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	sid    string
	closed bool
}

var _ Transport = (*TCPTransport)(nil)

// NewTCPTransport creates an unconnected TCP subscription transport.
func NewTCPTransport(cfg TransportConfig) *TCPTransport {
	return &TCPTransport{cfg: cfg}
}

// Connect dials the controller, sends the SOAP subscribe request and
// reads the subscription response carrying the stream ID.
func (t *TCPTransport) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.connectTimeout())
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", t.cfg.hostPort())
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, t.cfg.hostPort(), err)
	}
	if t.cfg.TLS {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: t.cfg.Host})
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			conn.Close()
			return fmt.Errorf("%w: tls handshake: %w", ErrConnectionFailed, err)
		}
		conn = tlsConn
	}

	reader := bufio.NewReader(conn)

	if err := t.subscribe(conn, reader); err != nil {
		conn.Close()
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		conn.Close()
		return ErrSessionClosed
	}
	t.conn = conn
	t.reader = reader
	return nil
}

func (t *TCPTransport) subscribe(conn net.Conn, reader *bufio.Reader) error {
	request := fmt.Sprintf("POST %s/services HTTP/1.1\r\n"+
		"Host: %s\r\n"+
		"Authorization: %s\r\n"+
		"Content-Length: %d\r\n"+
		"Content-Type: text/xml; charset=\"utf-8\"\r\n"+
		"SOAPAction: urn:udi-com:device:X_Insteon_Lighting_Service:1#Subscribe\r\n"+
		"\r\n%s",
		t.cfg.WebRoot, t.cfg.hostPort(), t.cfg.basicAuth(), len(subscribeBody), subscribeBody)

	if _, err := conn.Write([]byte(request)); err != nil {
		return fmt.Errorf("%w: write subscribe: %w", ErrConnectionFailed, err)
	}

	body, err := readHTTPMessage(reader)
	if err != nil {
		return fmt.Errorf("%w: subscribe response: %w", ErrConnectionFailed, err)
	}

	sid, err := DecodeSubscriptionResponse(body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	t.sid = sid
	return nil
}

// SID returns the subscription ID assigned during Connect.
func (t *TCPTransport) SID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sid
}

// ReadFrame blocks until the next event message arrives.
func (t *TCPTransport) ReadFrame() ([]byte, error) {
	t.mu.Lock()
	reader := t.reader
	t.mu.Unlock()

	if reader == nil {
		return nil, ErrSessionClosed
	}
	return readHTTPMessage(reader)
}

// Close tears down the socket. Idempotent; unblocks pending reads.
func (t *TCPTransport) Close() error {
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

// readHTTPMessage reads one HTTP-framed message off the stream: a
// header block terminated by a blank line, then a body of exactly
// Content-Length bytes.
func readHTTPMessage(reader *bufio.Reader) ([]byte, error) {
	contentLength := -1
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue // status line or malformed header
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("bad content-length %q: %w", value, err)
			}
			contentLength = n
		}
	}

	if contentLength < 0 {
		return nil, fmt.Errorf("message without content-length")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
