package signalr

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync/atomic"
)

// NewConnectionBase initializes a ConnectionBase with a context.Context and an id.
// The context is canceled by Cancel.
func NewConnectionBase(ctx context.Context, connectionID string) *ConnectionBase {
	cb := &ConnectionBase{connectionID: connectionID}
	cb.ctx, cb.cancel = context.WithCancel(ctx)
	cb.state.Store(int32(TransportOpen))
	return cb
}

// ConnectionBase is a baseclass for implementers of the Connection interface.
type ConnectionBase struct {
	ctx          context.Context
	cancel       context.CancelFunc
	connectionID string
	state        atomic.Int32
}

// Context returns the context of the connection. It is canceled when the connection is closed.
func (cb *ConnectionBase) Context() context.Context {
	return cb.ctx
}

// ConnectionID is the id of the connection.
func (cb *ConnectionBase) ConnectionID() string {
	return cb.connectionID
}

// State returns the TransportState of the connection.
func (cb *ConnectionBase) State() TransportState {
	return TransportState(cb.state.Load())
}

// SetState sets the TransportState. A closed connection stays closed.
func (cb *ConnectionBase) SetState(state TransportState) {
	for {
		current := cb.state.Load()
		if TransportState(current) == TransportClosed {
			return
		}
		if cb.state.CompareAndSwap(current, int32(state)) {
			return
		}
	}
}

// Cancel marks the connection as closed and cancels its context.
func (cb *ConnectionBase) Cancel() {
	cb.SetState(TransportClosed)
	cb.cancel()
}

func getConnectionID() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return base64.StdEncoding.EncodeToString(bytes)
}
