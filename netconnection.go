package signalr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

type netConnection struct {
	*ConnectionBase
	conn net.Conn
}

// NewNetConnection wraps net.Conn into a Connection.
// The connection is closed when ctx is canceled.
func NewNetConnection(ctx context.Context, conn net.Conn) Connection {
	netConn := &netConnection{
		ConnectionBase: NewConnectionBase(ctx, getConnectionID()),
		conn:           conn,
	}
	go func() {
		<-netConn.Context().Done()
		netConn.SetState(TransportClosed)
		_ = conn.Close()
	}()
	return netConn
}

// NetDialer returns a Dialer which opens a TCP (or any other net) connection to the hub.
func NetDialer(network string) Dialer {
	return func(ctx context.Context, address string) (Connection, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		return NewNetConnection(context.Background(), conn), nil
	}
}

func (nc *netConnection) Write(p []byte) (n int, err error) {
	n, err = ReadWriteWithContext(nc.Context(),
		func() (int, error) { return nc.conn.Write(p) },
		func() { _ = nc.conn.SetWriteDeadline(time.Now()) })
	if err != nil {
		err = fmt.Errorf("%T: %w", nc, err)
	}
	return n, err
}

func (nc *netConnection) Read(p []byte) (n int, err error) {
	n, err = ReadWriteWithContext(nc.Context(),
		func() (int, error) { return nc.conn.Read(p) },
		func() { _ = nc.conn.SetReadDeadline(time.Now()) })
	if errors.Is(err, io.EOF) {
		nc.SetState(TransportCloseReceived)
		return n, io.EOF
	}
	if err != nil {
		err = fmt.Errorf("%T: %w", nc, err)
	}
	return n, err
}

func (nc *netConnection) Close() error {
	nc.Cancel()
	return nc.conn.Close()
}

// RWJobResult can be used to send the result of an io.Writer / io.Reader operation over a channel
type RWJobResult struct {
	n   int
	err error
}

// ReadWriteWithContext runs doRW and returns its result, unless ctx is canceled before.
// Then unblockRW is called to end doRW and the context error is returned.
func ReadWriteWithContext(ctx context.Context, doRW func() (int, error), unblockRW func()) (int, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	resultChan := make(chan RWJobResult, 1)
	go func() {
		n, err := doRW()
		resultChan <- RWJobResult{n: n, err: err}
		close(resultChan)
	}()
	select {
	case <-ctx.Done():
		unblockRW()
		<-resultChan
		return 0, ctx.Err()
	case r := <-resultChan:
		return r.n, r.err
	}
}
