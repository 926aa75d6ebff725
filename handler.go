package signalr

import (
	"context"
	"encoding/json"
)

type handlerKind int

const (
	syncHandler handlerKind = iota
	asyncHandler
)

// Handler is a receiver for a server-initiated invocation.
// Handlers are built with one of the Sync* or Async* constructors,
// which capture the argument types of the callback and decode the
// invocation arguments for it.
//
// Sync handlers run on the receive loop. Async handlers run in their own goroutine,
// but the receive loop waits until they have returned.
// A handler must therefore never wait for the result of an Invoke call
// of the same client. Start a goroutine if you need to do this.
type Handler struct {
	kind  handlerKind
	arity int
	call  func(ctx context.Context, arguments []json.RawMessage) error
}

// rawArity is the arity of handlers taking the whole argument array
const rawArity = -1

func (h Handler) isZero() bool {
	return h.call == nil
}

// Sync0 handles invocations without looking at their arguments.
func Sync0(fn func()) Handler {
	if fn == nil {
		return Handler{}
	}
	return Handler{kind: syncHandler, arity: 0, call: func(context.Context, []json.RawMessage) error {
		fn()
		return nil
	}}
}

// Sync1 handles invocations with the first argument converted to T.
func Sync1[T any](fn func(T)) Handler {
	if fn == nil {
		return Handler{}
	}
	return Handler{kind: syncHandler, arity: 1, call: func(_ context.Context, arguments []json.RawMessage) error {
		var t T
		if err := convertArgument(argumentAt(arguments, 0), &t); err != nil {
			return err
		}
		fn(t)
		return nil
	}}
}

// Sync2 handles invocations with the first two arguments converted to T1 and T2.
func Sync2[T1, T2 any](fn func(T1, T2)) Handler {
	if fn == nil {
		return Handler{}
	}
	return Handler{kind: syncHandler, arity: 2, call: func(_ context.Context, arguments []json.RawMessage) error {
		var t1 T1
		var t2 T2
		if err := convertArgument(argumentAt(arguments, 0), &t1); err != nil {
			return err
		}
		if err := convertArgument(argumentAt(arguments, 1), &t2); err != nil {
			return err
		}
		fn(t1, t2)
		return nil
	}}
}

// SyncRaw handles invocations with all arguments as raw JSON.
func SyncRaw(fn func(arguments []json.RawMessage)) Handler {
	if fn == nil {
		return Handler{}
	}
	return Handler{kind: syncHandler, arity: rawArity, call: func(_ context.Context, arguments []json.RawMessage) error {
		fn(arguments)
		return nil
	}}
}

// Async0 is the asynchronous variant of Sync0.
// Async handlers run in their own goroutine. The dispatch stops waiting for them when ctx
// is canceled, so fn must return on ctx.Done() to not outlive its session.
func Async0(fn func(ctx context.Context) error) Handler {
	if fn == nil {
		return Handler{}
	}
	return Handler{kind: asyncHandler, arity: 0, call: func(ctx context.Context, _ []json.RawMessage) error {
		return fn(ctx)
	}}
}

// Async1 is the asynchronous variant of Sync1. Cancellation works as for Async0.
func Async1[T any](fn func(ctx context.Context, arg T) error) Handler {
	if fn == nil {
		return Handler{}
	}
	return Handler{kind: asyncHandler, arity: 1, call: func(ctx context.Context, arguments []json.RawMessage) error {
		var t T
		if err := convertArgument(argumentAt(arguments, 0), &t); err != nil {
			return err
		}
		return fn(ctx, t)
	}}
}

// Async2 is the asynchronous variant of Sync2. Cancellation works as for Async0.
func Async2[T1, T2 any](fn func(ctx context.Context, arg1 T1, arg2 T2) error) Handler {
	if fn == nil {
		return Handler{}
	}
	return Handler{kind: asyncHandler, arity: 2, call: func(ctx context.Context, arguments []json.RawMessage) error {
		var t1 T1
		var t2 T2
		if err := convertArgument(argumentAt(arguments, 0), &t1); err != nil {
			return err
		}
		if err := convertArgument(argumentAt(arguments, 1), &t2); err != nil {
			return err
		}
		return fn(ctx, t1, t2)
	}}
}

// AsyncRaw is the asynchronous variant of SyncRaw. Cancellation works as for Async0.
func AsyncRaw(fn func(ctx context.Context, arguments []json.RawMessage) error) Handler {
	if fn == nil {
		return Handler{}
	}
	return Handler{kind: asyncHandler, arity: rawArity, call: fn}
}

// argumentAt returns nil for missing arguments, which convertArgument maps to the zero value
func argumentAt(arguments []json.RawMessage, i int) json.RawMessage {
	if i < 0 || i >= len(arguments) {
		return nil
	}
	return arguments[i]
}
