package signalr

import (
	"context"
	"io"
)

// TransportState is the state of the socket below a Connection
type TransportState int32

const (
	TransportConnecting TransportState = iota
	TransportOpen
	// TransportCloseReceived means the server has started to close the socket
	TransportCloseReceived
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportConnecting:
		return "Connecting"
	case TransportOpen:
		return "Open"
	case TransportCloseReceived:
		return "CloseReceived"
	case TransportClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Connection describes a connection between a signalR client and a server.
// Read returns io.EOF when the server closed the socket gracefully.
// Write is never called concurrently by the client.
type Connection interface {
	io.Reader
	io.Writer
	Context() context.Context
	ConnectionID() string
	State() TransportState
	Close() error
}

// Dialer opens a Connection to the hub at address.
// The Connection must not depend on ctx after Dialer has returned.
type Dialer func(ctx context.Context, address string) (Connection, error)
