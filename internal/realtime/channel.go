package realtime

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pulsequiz-sync/internal/domain"
)

// PushURL derives the push endpoint for a session from the server base URL.
func PushURL(server, code string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws", "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/session/" + url.PathEscape(code)
	u.RawQuery = ""
	return u.String(), nil
}

// ChannelHandlers receive push channel lifecycle callbacks. OnClose fires at
// most once, for a failed dial or a drop after open, never after Close.
type ChannelHandlers struct {
	OnOpen  func()
	OnFrame func([]byte)
	OnClose func(error)
}

// EventChannel is a persistent WebSocket connection to a session.
type EventChannel struct {
	url    string
	dialer websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	closed bool

	writeMu sync.Mutex
}

func NewEventChannel(rawURL string) *EventChannel {
	return &EventChannel{
		url: rawURL,
		dialer: websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: 15 * time.Second,
		},
	}
}

// Open dials in the background and then reads frames until the connection
// drops or Close is called.
func (c *EventChannel) Open(ctx context.Context, h ChannelHandlers) {
	dialCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(dialCtx, h)
}

func (c *EventChannel) run(ctx context.Context, h ChannelHandlers) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if !c.isClosed() && h.OnClose != nil {
			h.OnClose(fmt.Errorf("websocket dial failed: %w", err))
		}
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	if h.OnOpen != nil {
		h.OnOpen()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() && h.OnClose != nil {
				h.OnClose(err)
			}
			return
		}
		if h.OnFrame != nil {
			h.OnFrame(data)
		}
	}
}

func (c *EventChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Send writes one JSON frame.
func (c *EventChannel) Send(v any) error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed {
		return domain.ErrConnectionClosed
	}
	if conn == nil {
		return domain.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}

// Close aborts a pending dial or closes the open connection. Safe to call
// more than once.
func (c *EventChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn, cancel := c.conn, c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}
