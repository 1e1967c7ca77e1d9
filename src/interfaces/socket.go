package interfaces

import "context"

// -----------------------------------------------------------------------------
// ISocket is one open message socket. ReadMessage must only be called from a
// single goroutine; writes and Close may be called from any.
// -----------------------------------------------------------------------------

type ISocket interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// -----------------------------------------------------------------------------
// IDialer opens sockets.
// -----------------------------------------------------------------------------

type IDialer interface {
	Dial(ctx context.Context, url string) (ISocket, error)
}
