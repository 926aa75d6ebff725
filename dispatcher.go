package signalr

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"go.uber.org/multierr"
)

// dispatcher keeps the handlers for server-initiated invocations.
// Method names are matched case-insensitive, like hub method names on the server.
type dispatcher struct {
	mx       sync.RWMutex
	handlers map[string]handlerEntry
	warn     StructuredLogger
	dbg      StructuredLogger
	metrics  *clientMetrics
}

type handlerEntry struct {
	method string
	sync   Handler
	async  Handler
}

func newDispatcher(warn StructuredLogger, dbg StructuredLogger, metrics *clientMetrics) *dispatcher {
	return &dispatcher{
		handlers: make(map[string]handlerEntry),
		warn:     warn,
		dbg:      dbg,
		metrics:  metrics,
	}
}

// register replaces the handler of the same kind for method.
// A zero Handler leaves the registration untouched.
func (d *dispatcher) register(method string, handler Handler) {
	if handler.isZero() {
		return
	}
	key := strings.ToLower(method)
	d.mx.Lock()
	defer d.mx.Unlock()
	entry := d.handlers[key]
	entry.method = method
	switch handler.kind {
	case asyncHandler:
		entry.async = handler
	default:
		entry.sync = handler
	}
	d.handlers[key] = entry
}

func (d *dispatcher) lookup(method string) (handlerEntry, bool) {
	d.mx.RLock()
	defer d.mx.RUnlock()
	entry, ok := d.handlers[strings.ToLower(method)]
	return entry, ok
}

// dispatch calls the handlers registered for method.
// The sync handler runs first, then dispatch waits for the async handler or ctx.
// All errors, including recovered panics, are combined into the returned error.
func (d *dispatcher) dispatch(ctx context.Context, method string, arguments []json.RawMessage) (handled bool, err error) {
	entry, ok := d.lookup(method)
	if !ok || (entry.sync.isZero() && entry.async.isZero()) {
		_ = d.warn.Log(evt, "dispatch", "error", "missing handler", "name", method, react, "drop invocation")
		d.metrics.dispatched.WithLabelValues("unhandled").Inc()
		return false, nil
	}
	_ = d.dbg.Log(evt, "dispatch", "name", method, "arguments", len(arguments))
	if !entry.sync.isZero() {
		err = multierr.Append(err, d.call(ctx, method, entry.sync, arguments))
	}
	if !entry.async.isZero() {
		errCh := make(chan error, 1)
		go func() {
			errCh <- d.call(ctx, method, entry.async, arguments)
		}()
		select {
		case asyncErr := <-errCh:
			err = multierr.Append(err, asyncErr)
		case <-ctx.Done():
			// the handler goroutine runs on until fn returns, it sees the same ctx
			err = multierr.Append(err, fmt.Errorf("async handler %v: %w", method, ctx.Err()))
		}
	}
	if err != nil {
		d.metrics.dispatched.WithLabelValues("failed").Inc()
	} else {
		d.metrics.dispatched.WithLabelValues("handled").Inc()
	}
	return true, err
}

func (d *dispatcher) call(ctx context.Context, method string, handler Handler, arguments []json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			_ = d.dbg.Log(evt, "panic in handler", "error", r, "name", method, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic in handler %v: %v", method, r)
		}
	}()
	if handler.arity > len(arguments) {
		_ = d.dbg.Log(evt, "dispatch", "name", method, msg, fmt.Sprintf("%d of %d arguments, missing ones are zero values", len(arguments), handler.arity))
	}
	return handler.call(ctx, arguments)
}
