package signalr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/teivah/onecontext"
	"go.uber.org/multierr"
)

// Client is the signalR connection used on the client side.
//
//	Connect(ctx context.Context) error
//
// Connect opens the socket, sends the handshake and starts the receive loop.
// It returns immediately if the client is already connecting or connected.
//
//	Disconnect() error
//
// Disconnect closes the connection. All invocations waiting for their completion fail.
//
//	Invoke(method string, arguments ...interface{}) <-chan InvokeResult
//
// Invoke invokes a method on the server and returns a channel which will return the InvokeResult.
// When failing, InvokeResult.Error contains the client side error or a *RequestFailedError.
//
//	Send(method string, arguments ...interface{}) <-chan error
//
// Send invokes a method on the server and returns a channel which delivers the completion error,
// nil if the server completed the invocation without error.
//
//	On(method string, handler Handler)
//
// On registers a handler for server-initiated invocations of method.
// Method names are matched case-insensitively, "notify" handles invocations of "Notify".
// A later registration for the same method replaces the earlier one of the same kind.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	State() ClientState
	PushStateChanged(ch chan<- struct{})
	PullStateChanged(ch chan<- struct{})
	On(method string, handler Handler)
	OnMessage(observer func(message HubMessage))
	OnDisconnected(observer func(reason string))
	Invoke(method string, arguments ...interface{}) <-chan InvokeResult
	Send(method string, arguments ...interface{}) <-chan error
}

const (
	defaultConnectTimeout            = 1500 * time.Millisecond
	defaultKeepAliveInterval         = 15 * time.Second
	defaultReadBufferSize            = 1 << 15 // 32KB
	defaultMaximumReceiveMessageSize = 1 << 20 // 1MB
)

// disconnect reasons used as metric labels
const (
	disconnectClient = "client"
	disconnectServer = "server"
	disconnectError  = "error"
)

// NewClient builds a new Client. WithURL is required.
// ctx bounds the lifetime of the client, when it is canceled, the connection is closed.
func NewClient(ctx context.Context, options ...func(*client) error) (Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	warn, info, dbg := buildLoggers(log.NewLogfmtLogger(os.Stderr), false)
	c := &client{
		ctx:                       ctx,
		dial:                      WebSocketDialer(nil),
		connectTimeout:            defaultConnectTimeout,
		keepAliveInterval:         defaultKeepAliveInterval,
		readBufferSize:            defaultReadBufferSize,
		maximumReceiveMessageSize: defaultMaximumReceiveMessageSize,
		warn:                      warn,
		info:                      info,
		dbg:                       dbg,
	}
	for _, option := range options {
		if option != nil {
			if err := option(c); err != nil {
				return nil, err
			}
		}
	}
	if c.address == "" {
		return nil, &ConfigError{Message: "the url cannot be empty, use the WithURL option"}
	}
	c.warn, c.info, c.dbg = c.prefixLoggers()
	metrics, err := newClientMetrics(c.metricsRegistry, c.metricsLabels)
	if err != nil {
		return nil, &ConfigError{Message: fmt.Sprintf("can not register metrics: %v", err)}
	}
	c.metrics = metrics
	c.invokeClient = newInvokeClient(c.metrics)
	c.dispatcher = newDispatcher(c.warn, c.dbg, c.metrics)
	return c, nil
}

type client struct {
	ctx                       context.Context
	address                   string
	dial                      Dialer
	connectTimeout            time.Duration
	keepAliveInterval         time.Duration
	readBufferSize            int
	maximumReceiveMessageSize int
	warn                      StructuredLogger
	info                      StructuredLogger
	dbg                       StructuredLogger
	metricsRegistry           prometheus.Registerer
	metricsLabels             prometheus.Labels
	metrics                   *clientMetrics
	invokeClient              *invokeClient
	dispatcher                *dispatcher

	mx                  sync.Mutex
	state               ClientState
	connectGen          uint64
	session             *session
	stateChangeChans    []chan<- struct{}
	messageObservers    []func(HubMessage)
	disconnectObservers []func(string)

	// all writes to the transport are serialized
	writeMx sync.Mutex
}

// session is one connection from Connect until the disconnect.
// cancel stops exactly the loop which was started for conn.
type session struct {
	conn      Connection
	ctx       context.Context
	cancel    context.CancelFunc
	lastWrite atomic.Int64
	done      chan struct{}
}

func (c *client) prefixLoggers() (warn StructuredLogger, info StructuredLogger, dbg StructuredLogger) {
	return log.WithPrefix(c.warn, "ts", log.DefaultTimestampUTC, "class", "Client", "url", c.address),
		log.WithPrefix(c.info, "ts", log.DefaultTimestampUTC, "class", "Client", "url", c.address),
		log.WithPrefix(c.dbg, "ts", log.DefaultTimestampUTC, "class", "Client", "url", c.address)
}

func (c *client) Connect(ctx context.Context) error {
	c.mx.Lock()
	if c.state != ClientDisconnected {
		state := c.state
		c.mx.Unlock()
		_ = c.info.Log(evt, "connect", msg, "socket already opened", "state", state)
		return nil
	}
	c.connectGen++
	gen := c.connectGen
	c.setState(ClientConnecting)
	c.mx.Unlock()

	conn, err := c.openSocket(ctx)
	if err != nil {
		_ = c.warn.Log(evt, "connect", "error", err, react, "server connection failed")
		c.abortConnect(gen, nil)
		return err
	}
	s := &session{conn: conn, done: make(chan struct{})}
	if err = c.enterState(gen, ClientConnecting, ClientSocketOpen); err != nil {
		c.abortConnect(gen, s)
		return err
	}
	if err = c.processHandshake(s); err != nil {
		c.abortConnect(gen, s)
		return err
	}

	s.ctx, s.cancel = onecontext.Merge(c.ctx, conn.Context())
	c.mx.Lock()
	if c.connectGen != gen || c.state != ClientSocketOpen {
		c.mx.Unlock()
		c.abortConnect(gen, s)
		return &ConnectionError{Op: "connect", Err: errDisconnectedWhileConnecting}
	}
	c.session = s
	c.setState(ClientReady)
	c.mx.Unlock()

	info, dbg := c.sessionLoggers(conn.ConnectionID())
	l := newLoop(c, s, info, dbg)
	go l.Run()
	go c.watchSession(s)
	if c.keepAliveInterval > 0 {
		go c.keepAlive(s, info)
	}
	_ = info.Log(evt, "connect", msg, "server connected")
	return nil
}

func (c *client) sessionLoggers(connectionID string) (info StructuredLogger, dbg StructuredLogger) {
	return log.With(c.info, "connection", connectionID), log.With(c.dbg, "connection", connectionID)
}

// openSocket dials the hub, bounded by the connect timeout
func (c *client) openSocket(ctx context.Context) (Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	type dialResult struct {
		conn Connection
		err  error
	}
	resultCh := make(chan dialResult, 1)
	go func() {
		conn, err := c.dial(dialCtx, c.address)
		resultCh <- dialResult{conn, err}
	}()
	select {
	case r := <-resultCh:
		if r.err != nil {
			if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
				return nil, &ConnectionError{Op: "connect", Err: ErrConnectTimeout}
			}
			return nil, &ConnectionError{Op: "connect", Err: r.err}
		}
		return r.conn, nil
	case <-dialCtx.Done():
		// A dialer which ignores its context must not leak the connection
		go func() {
			if r := <-resultCh; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			_ = c.info.Log(evt, "connect", msg, "connection timeout", "timeout", c.connectTimeout)
			return nil, &ConnectionError{Op: "connect", Err: ErrConnectTimeout}
		}
		return nil, &ConnectionError{Op: "connect", Err: dialCtx.Err()}
	}
}

func (c *client) processHandshake(s *session) error {
	request, err := encodeFrame(handshakeRequest{Protocol: "json", Version: 1})
	if err != nil {
		return newHandshakeError(err)
	}
	if err = c.write(s, request); err != nil {
		_ = c.info.Log(evt, "handshake sent", msg, string(request), "error", err)
		return newHandshakeError(err)
	}
	_ = c.dbg.Log(evt, "handshake sent", msg, string(request))
	return nil
}

var errDisconnectedWhileConnecting = errors.New("disconnected while connecting")

// enterState changes the state from expected to next. If a Disconnect came in between, it fails.
func (c *client) enterState(gen uint64, expected ClientState, next ClientState) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.connectGen != gen || c.state != expected {
		return &ConnectionError{Op: "connect", Err: errDisconnectedWhileConnecting}
	}
	c.setState(next)
	return nil
}

// abortConnect closes the socket of a failed Connect and returns to ClientDisconnected,
// unless another Connect has started in the meantime
func (c *client) abortConnect(gen uint64, s *session) {
	if s != nil {
		if s.cancel != nil {
			s.cancel()
		}
		_ = s.conn.Close()
	}
	c.mx.Lock()
	if c.connectGen == gen && c.session == nil {
		c.setState(ClientDisconnected)
	}
	c.mx.Unlock()
}

// watchSession ends the session when the client context is canceled or the connection closed itself
func (c *client) watchSession(s *session) {
	select {
	case <-s.done:
		return
	case <-s.ctx.Done():
	}
	message := "connection closed"
	if c.ctx.Err() != nil {
		message = fmt.Sprintf("client context: %v", c.ctx.Err())
	}
	_ = c.endSession(s, disconnectError, message)
}

func (c *client) Disconnect() error {
	c.mx.Lock()
	s := c.session
	if s == nil {
		// Connect is still running, it will notice the state change
		c.connectGen++
		c.setState(ClientDisconnected)
		c.mx.Unlock()
		c.invokeClient.failAll()
		return nil
	}
	c.mx.Unlock()
	return c.endSession(s, disconnectClient, "disconnected by client")
}

// endSession tears down s if it is still the active session.
// For all reasons but disconnectClient the disconnect observers are notified.
func (c *client) endSession(s *session, reason string, message string) error {
	c.mx.Lock()
	if c.session != s {
		c.mx.Unlock()
		return nil
	}
	c.session = nil
	c.setState(ClientDisconnected)
	observers := make([]func(string), len(c.disconnectObservers))
	copy(observers, c.disconnectObservers)
	c.mx.Unlock()

	var err error
	if reason == disconnectClient && s.conn.State() == TransportOpen {
		// Tell the server, but don't let a broken socket keep us from closing
		if frame, fErr := encodeFrame(closeMessage{Type: int(MessageClose)}); fErr == nil {
			err = multierr.Append(err, c.write(s, frame))
		}
	}
	s.cancel()
	failed := c.invokeClient.failAll()
	err = multierr.Append(err, s.conn.Close())
	c.metrics.disconnects.WithLabelValues(reason).Inc()
	_ = c.info.Log(evt, "disconnect", "reason", reason, msg, message, "failed requests", failed)

	if reason != disconnectClient {
		for _, observer := range observers {
			observer(message)
		}
	}
	return err
}

func (c *client) IsConnected() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.session == nil || c.state != ClientReady {
		return false
	}
	state := c.session.conn.State()
	return state == TransportOpen || state == TransportConnecting
}

func (c *client) State() ClientState {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.state
}

// setState must be called with mx held
func (c *client) setState(state ClientState) {
	if c.state == state {
		return
	}
	c.state = state
	for _, ch := range c.stateChangeChans {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// PushStateChanged registers ch to be signaled on every state change.
// The signal is dropped if ch is not ready to receive it.
func (c *client) PushStateChanged(ch chan<- struct{}) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.stateChangeChans = append(c.stateChangeChans, ch)
}

// PullStateChanged removes a channel registered with PushStateChanged
func (c *client) PullStateChanged(ch chan<- struct{}) {
	c.mx.Lock()
	defer c.mx.Unlock()
	for i, stateChangeChan := range c.stateChangeChans {
		if stateChangeChan == ch {
			c.stateChangeChans = append(c.stateChangeChans[:i], c.stateChangeChans[i+1:]...)
			return
		}
	}
}

func (c *client) On(method string, handler Handler) {
	c.dispatcher.register(method, handler)
}

// OnMessage registers an observer which is called from the receive loop for every message.
func (c *client) OnMessage(observer func(message HubMessage)) {
	if observer == nil {
		return
	}
	c.mx.Lock()
	defer c.mx.Unlock()
	c.messageObservers = append(c.messageObservers, observer)
}

// OnDisconnected registers an observer which is called once when the connection is lost.
// It is not called after Disconnect.
func (c *client) OnDisconnected(observer func(reason string)) {
	if observer == nil {
		return
	}
	c.mx.Lock()
	defer c.mx.Unlock()
	c.disconnectObservers = append(c.disconnectObservers, observer)
}

func (c *client) observe(message HubMessage) {
	c.mx.Lock()
	observers := make([]func(HubMessage), len(c.messageObservers))
	copy(observers, c.messageObservers)
	c.mx.Unlock()
	for _, observer := range observers {
		observer(message)
	}
}

func (c *client) readySession() (*session, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.session == nil || c.state != ClientReady {
		return nil, &ConnectionError{Op: "send", Err: ErrNotConnected}
	}
	return c.session, nil
}

func (c *client) Invoke(method string, arguments ...interface{}) <-chan InvokeResult {
	s, err := c.readySession()
	if err != nil {
		return newInvokeResultChanWithError(err)
	}
	id := c.invokeClient.beginRequest()
	c.metrics.invocations.Inc()
	if err = c.sendInvocation(s, id, method, arguments); err != nil {
		c.invokeClient.markFailed(id, err)
		c.invokeClient.discard(id)
		return newInvokeResultChanWithError(err)
	}
	c.invokeClient.markSent(id)
	ch := make(chan InvokeResult, 1)
	go func() {
		defer close(ch)
		message, err := c.invokeClient.awaitResult(id)
		ch <- InvokeResult{Value: message.Result, Error: err}
	}()
	return ch
}

func (c *client) Send(method string, arguments ...interface{}) <-chan error {
	if _, err := c.readySession(); err != nil {
		return newErrChanWithError(err)
	}
	resultCh := c.Invoke(method, arguments...)
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		result := <-resultCh
		errCh <- result.Error
	}()
	return errCh
}

func (c *client) sendInvocation(s *session, id string, method string, arguments []interface{}) error {
	if arguments == nil {
		arguments = make([]interface{}, 0)
	}
	frame, err := encodeFrame(invocationMessage{
		Type:         int(MessageInvocation),
		InvocationID: id,
		Target:       method,
		Arguments:    arguments,
	})
	if err != nil {
		return fmt.Errorf("encode invocation of %v: %w", method, err)
	}
	if err = c.write(s, frame); err != nil {
		_ = c.info.Log(evt, msgSend, "error", err, msg, string(frame), react, "close connection")
		sendErr := &ConnectionError{Op: "send", Err: err}
		_ = c.endSession(s, disconnectError, err.Error())
		return sendErr
	}
	return nil
}

// write sends frame on the session's connection. All writes go through here.
func (c *client) write(s *session, frame []byte) error {
	c.writeMx.Lock()
	defer c.writeMx.Unlock()
	if _, err := s.conn.Write(frame); err != nil {
		return err
	}
	s.lastWrite.Store(time.Now().UnixNano())
	_ = c.dbg.Log(evt, "write", msg, string(frame))
	return nil
}

// keepAlive sends a ping when nothing has been written for the keep alive interval
func (c *client) keepAlive(s *session, info StructuredLogger) {
	ticker := time.NewTicker(c.keepAliveInterval)
	defer ticker.Stop()
	ping, _ := encodeFrame(pingMessage{Type: int(MessagePing)})
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if time.Since(time.Unix(0, s.lastWrite.Load())) < c.keepAliveInterval {
				continue
			}
			if err := c.write(s, ping); err != nil {
				_ = info.Log(evt, msgSend, "error", err, msg, "ping", react, "close connection")
				_ = c.endSession(s, disconnectError, err.Error())
				return
			}
		}
	}
}
