package signalr

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"
)

// serverClosedReason is the disconnect reason when the server closed the socket gracefully
const serverClosedReason = "disconnected by server request"

// loop reads frames from the connection of a session and routes them to
// the invokeClient (completions) or the dispatcher (server-initiated invocations).
type loop struct {
	client *client
	s      *session
	frames *frameBuffer
	info   StructuredLogger
	dbg    StructuredLogger
}

func newLoop(c *client, s *session, info StructuredLogger, dbg StructuredLogger) *loop {
	return &loop{
		client: c,
		s:      s,
		frames: newFrameBuffer(c.maximumReceiveMessageSize),
		info:   info,
		dbg:    dbg,
	}
}

// Run reads until the connection fails or is closed
func (l *loop) Run() {
	defer close(l.s.done)
	defer func() {
		if err := recover(); err != nil {
			// Unexpected failure while decoding or routing. Waiters would hang forever, so disconnect.
			_ = l.client.warn.Log(evt, "message loop", "error", err, react, "close connection")
			_ = l.dbg.Log(evt, "message loop", "error", err, "stack", string(debug.Stack()))
			_ = l.client.endSession(l.s, disconnectError, fmt.Sprintf("unexpected error in message loop: %v", err))
		}
		_ = l.dbg.Log(evt, "message loop ended")
	}()
	data := make([]byte, l.client.readBufferSize)
	for {
		n, err := l.s.conn.Read(data)
		if n > 0 {
			_ = l.dbg.Log(evt, "read", "bytes", n)
			l.receive(data[:n])
		}
		if err != nil {
			l.readFailed(err)
			return
		}
		if n == 0 && l.s.conn.State() == TransportCloseReceived {
			l.closedByServer()
			return
		}
	}
}

func (l *loop) readFailed(err error) {
	if errors.Is(err, io.EOF) {
		l.closedByServer()
		return
	}
	if l.s.ctx.Err() != nil {
		// Disconnect was called, or the client context canceled. Whoever did it ends the session.
		_ = l.dbg.Log(evt, msgRecv, "error", err, react, "stop message loop")
		return
	}
	_ = l.client.warn.Log(evt, msgRecv, "error", err, react, "close connection")
	_ = l.client.endSession(l.s, disconnectError, err.Error())
}

func (l *loop) closedByServer() {
	_ = l.info.Log(evt, msgRecv, msg, serverClosedReason, react, "close connection")
	_ = l.client.endSession(l.s, disconnectServer, serverClosedReason)
}

func (l *loop) receive(chunk []byte) {
	frames, err := l.frames.feed(chunk)
	if err != nil {
		_ = l.client.warn.Log(evt, msgRecv, "error", err, react, "drop message")
	}
	for _, frame := range frames {
		// A Disconnect from a handler ends processing of the remaining frames
		if l.s.ctx.Err() != nil {
			return
		}
		l.handleFrame(frame)
	}
}

func (l *loop) handleFrame(frame []byte) {
	message, err := parseMessage(frame)
	if err != nil {
		_ = l.client.warn.Log(evt, msgRecv, "error", err, react, "ignore message")
		return
	}
	_ = l.dbg.Log(evt, msgRecv, msg, fmtMsg(message))
	l.client.metrics.messagesReceived.WithLabelValues(message.Kind.String()).Inc()
	l.client.observe(message)

	if message.Kind == MessageCompletion && message.Error != "" && message.HasResult() {
		_ = l.client.warn.Log(evt, msgRecv, "error", "completion carries both result and error", msg, fmtMsg(message), react, "fail invocation")
	}
	if l.client.invokeClient.handles(message.InvocationID) {
		l.handleResponse(message)
		return
	}
	switch message.Kind {
	case MessageInvocation:
		l.handleInvocation(message)
	case MessageCompletion:
		// A completion nobody waits for
		if err := l.client.invokeClient.resolve(message); err != nil {
			_ = l.client.warn.Log(evt, msgRecv, "error", err, msg, fmtMsg(message), react, "ignore message")
		}
	case MessageClose:
		if message.Error != "" {
			_ = l.info.Log(evt, msgRecv, msg, "close", "error", message.Error)
		}
	case MessageUnknown:
		// The handshake response is {} or {"error":"..."}
		if message.Error != "" {
			_ = l.client.warn.Log(evt, msgRecv, "error", message.Error, msg, fmtMsg(message))
		}
	default:
		_ = l.dbg.Log(evt, msgRecv, msg, fmtMsg(message), react, "ignore message")
	}
}

func (l *loop) handleResponse(message HubMessage) {
	if err := l.client.invokeClient.resolve(message); err != nil {
		_ = l.client.warn.Log(evt, msgRecv, "error", err, msg, fmtMsg(message), react, "ignore message")
	}
}

func (l *loop) handleInvocation(invocation HubMessage) {
	if invocation.InvocationID != "" {
		// The server waits for a completion, which this client does not send
		_ = l.info.Log(evt, msgRecv, "name", invocation.Target, "invocationId", invocation.InvocationID,
			"error", "completion for server invocation not supported")
	}
	if _, err := l.client.dispatcher.dispatch(l.s.ctx, invocation.Target, invocation.Arguments); err != nil {
		_ = l.client.warn.Log(evt, "dispatch", "name", invocation.Target, "error", err)
	}
}

func fmtMsg(msg interface{}) string {
	return fmt.Sprintf("%v", msg)
}
