package signalr

import (
	"encoding/json"
)

// InvokeResult is the combined value/error result for async invocations. Used as channel type.
// Value is the raw JSON result of the completion, nil if the server did not send one.
type InvokeResult struct {
	Value json.RawMessage
	Error error
}

// Decode converts the result value into v, which must be a non-nil pointer.
// Booleans, numbers and strings are converted natively, other values are unmarshaled.
func (r InvokeResult) Decode(v interface{}) error {
	if r.Error != nil {
		return r.Error
	}
	return convertArgument(r.Value, v)
}

// InvokeAs invokes method on the server, waits for its completion and converts the result to T.
// If the server completes without a result, ErrNullResult is returned.
func InvokeAs[T any](c Client, method string, arguments ...interface{}) (T, error) {
	var t T
	result := <-c.Invoke(method, arguments...)
	if result.Error != nil {
		return t, result.Error
	}
	if len(result.Value) == 0 || string(result.Value) == "null" {
		return t, ErrNullResult
	}
	err := result.Decode(&t)
	return t, err
}

func newInvokeResultChanWithError(err error) <-chan InvokeResult {
	ch := make(chan InvokeResult, 1)
	ch <- InvokeResult{Error: err}
	close(ch)
	return ch
}

func newErrChanWithError(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	close(ch)
	return ch
}
