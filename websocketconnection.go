package signalr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"

	"github.com/coder/websocket"
)

// webSocketReadLimit bounds a single websocket message. Frames are bounded separately by the client.
const webSocketReadLimit = 1 << 24

type webSocketConnection struct {
	*ConnectionBase
	conn   *websocket.Conn
	mx     sync.Mutex
	reader io.Reader
}

// NewWebSocketConnection wraps an open websocket into a Connection. Frames are sent as text messages.
func NewWebSocketConnection(ctx context.Context, connectionID string, conn *websocket.Conn) Connection {
	conn.SetReadLimit(webSocketReadLimit)
	return &webSocketConnection{
		ConnectionBase: NewConnectionBase(ctx, connectionID),
		conn:           conn,
	}
}

// WebSocketDialer returns a Dialer which opens a websocket to the hub.
// http and https addresses are dialed as ws and wss. opts may be nil.
func WebSocketDialer(opts *websocket.DialOptions) Dialer {
	return func(ctx context.Context, address string) (Connection, error) {
		wsURL, err := webSocketURL(address)
		if err != nil {
			return nil, err
		}
		ws, _, err := websocket.Dial(ctx, wsURL, opts)
		if err != nil {
			return nil, err
		}
		// The dial context only bounds the opening handshake
		return NewWebSocketConnection(context.Background(), getConnectionID(), ws), nil
	}
}

func webSocketURL(address string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func (w *webSocketConnection) Write(p []byte) (n int, err error) {
	if err = w.conn.Write(w.Context(), websocket.MessageText, p); err != nil {
		return 0, fmt.Errorf("%T: %w", w, err)
	}
	return len(p), nil
}

func (w *webSocketConnection) Read(p []byte) (n int, err error) {
	w.mx.Lock()
	defer w.mx.Unlock()
	for {
		if w.reader == nil {
			var r io.Reader
			if _, r, err = w.conn.Reader(w.Context()); err != nil {
				return 0, w.readError(err)
			}
			w.reader = r
		}
		n, err = w.reader.Read(p)
		if errors.Is(err, io.EOF) {
			// end of this websocket message, the next Read starts the next one
			w.reader = nil
			if n == 0 {
				continue
			}
			return n, nil
		}
		if err != nil {
			return n, w.readError(err)
		}
		return n, nil
	}
}

func (w *webSocketConnection) readError(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		w.SetState(TransportCloseReceived)
		return io.EOF
	case -1:
		w.SetState(TransportClosed)
	default:
		w.SetState(TransportCloseReceived)
	}
	return fmt.Errorf("%T: %w", w, err)
}

func (w *webSocketConnection) Close() error {
	w.SetState(TransportClosed)
	err := w.conn.Close(websocket.StatusNormalClosure, "")
	w.Cancel()
	if errors.Is(err, net.ErrClosed) || websocket.CloseStatus(err) != -1 {
		return nil
	}
	return err
}
