package network

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cove-observer/src/helpers"
	"cove-observer/src/interfaces"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 4 * 1024 * 1024
)

// -----------------------------------------------------------------------------

// WSDialer opens gorilla websocket connections
type WSDialer struct {
	dialer *websocket.Dialer
	header http.Header
}

// -----------------------------------------------------------------------------

func NewWSDialer(handshakeTimeout time.Duration, userAgent string) *WSDialer {
	header := http.Header{}
	if userAgent != "" {
		header.Set("User-Agent", userAgent)
	}
	return &WSDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		header: header,
	}
}

// -----------------------------------------------------------------------------

func (d *WSDialer) Dial(ctx context.Context, url string) (interfaces.ISocket, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, d.header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, helpers.NewConnectionError("dial "+url, err)
	}
	conn.SetReadLimit(maxMessageSize)
	return &wsSocket{conn: conn}, nil
}

// -----------------------------------------------------------------------------

// wsSocket serialises writes, gorilla allows one concurrent writer
type wsSocket struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (s *wsSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *wsSocket) WriteJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *wsSocket) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
