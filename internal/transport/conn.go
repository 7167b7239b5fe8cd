package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// defaultWriteWait is the time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	// defaultHandshakeTimeout bounds the websocket opening handshake.
	defaultHandshakeTimeout = 15 * time.Second
)

// Conn is a raw duplex message socket. ReadMessage is only ever called from
// one goroutine; WriteMessage and Close are serialized by the Client.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a Conn to target.
type Dialer interface {
	Dial(ctx context.Context, target string) (Conn, error)
}

// WebsocketDialer dials relayer endpoints with gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	Header           http.Header
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, target string) (Conn, error) {
	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	writeWait := d.WriteWait
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshake,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, _, err := dialer.DialContext(ctx, target, d.Header)
	if err != nil {
		return nil, fmt.Errorf("transport/ws: connect: %w", err)
	}
	return &wsConn{conn: conn, writeWait: writeWait}, nil
}

// wsConn adapts *websocket.Conn to Conn using text frames.
type wsConn struct {
	conn      *websocket.Conn
	writeWait time.Duration
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsConn) WriteMessage(data []byte) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeWait))
	_ = w.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	return w.conn.Close()
}
