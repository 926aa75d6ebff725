package signalr

import (
	"context"
	"fmt"
)

// ClientState is the connection state of a Client.
type ClientState int

const (
	ClientDisconnected ClientState = iota
	ClientConnecting
	ClientSocketOpen
	// ClientReady means the handshake has been sent and invocations can be made.
	ClientReady
)

func (s ClientState) String() string {
	switch s {
	case ClientDisconnected:
		return "Disconnected"
	case ClientConnecting:
		return "Connecting"
	case ClientSocketOpen:
		return "SocketOpen"
	case ClientReady:
		return "Ready"
	default:
		return fmt.Sprintf("ClientState(%d)", int(s))
	}
}

// WaitForClientState returns a channel for waiting on the Client to reach a specific ClientState.
// The channel either returns an error if ctx has been canceled
// or is closed without a value when the ClientState waitFor was reached.
func WaitForClientState(ctx context.Context, client Client, waitFor ClientState) <-chan error {
	ch := make(chan error, 1)
	stateCh := make(chan struct{}, 1)
	client.PushStateChanged(stateCh)
	go func() {
		defer close(ch)
		defer client.PullStateChanged(stateCh)
		if client.State() == waitFor {
			return
		}
		for {
			select {
			case <-stateCh:
				if client.State() == waitFor {
					return
				}
			case <-ctx.Done():
				ch <- fmt.Errorf("waiting for client state %v: %w", waitFor, ctx.Err())
				return
			}
		}
	}()
	return ch
}
