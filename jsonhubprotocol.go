package signalr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/tidwall/gjson"
)

// recordSeparator terminates every frame of the JSON hub protocol
const recordSeparator = 0x1e

// encodeFrame marshals message to JSON and appends the record separator.
func encodeFrame(message interface{}) ([]byte, error) {
	b, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	return append(b, recordSeparator), nil
}

// frameBuffer reassembles frames from the chunks read from the transport.
// A chunk may contain no separator, one, or several, and a frame may be
// split across any number of chunks.
type frameBuffer struct {
	buf     []byte
	maxSize int
}

func newFrameBuffer(maxSize int) *frameBuffer {
	return &frameBuffer{maxSize: maxSize}
}

// feed appends chunk and returns all payloads completed by it, without their separators.
// The bytes after the last separator are kept for the next call.
// Payloads larger than maxSize are dropped and reported by the returned error.
func (f *frameBuffer) feed(chunk []byte) ([][]byte, error) {
	// The retained bytes never contain a separator, so the scan starts at the new data
	scanFrom := len(f.buf)
	f.buf = append(f.buf, chunk...)
	var frames [][]byte
	var err error
	start := 0
	for {
		i := bytes.IndexByte(f.buf[scanFrom:], recordSeparator)
		if i < 0 {
			break
		}
		end := scanFrom + i
		switch size := end - start; {
		case f.maxSize > 0 && size > f.maxSize:
			err = f.tooLarge("message", size)
		case size > 0:
			frame := make([]byte, size)
			copy(frame, f.buf[start:end])
			frames = append(frames, frame)
		}
		start = end + 1
		scanFrom = start
	}
	rest := copy(f.buf, f.buf[start:])
	f.buf = f.buf[:rest]
	if f.maxSize > 0 && len(f.buf) > f.maxSize {
		err = f.tooLarge("incomplete message", len(f.buf))
		f.buf = f.buf[:0]
	}
	return frames, err
}

func (f *frameBuffer) tooLarge(what string, size int) error {
	return &ProtocolError{
		Reason: fmt.Sprintf("%s of %d bytes exceeds the maximum receive message size of %d bytes", what, size, f.maxSize),
	}
}

// buffered returns the number of bytes of the incomplete frame
func (f *frameBuffer) buffered() int {
	return len(f.buf)
}

// parseMessage decodes one frame payload into a HubMessage
func parseMessage(payload []byte) (HubMessage, error) {
	message := HubMessage{}
	if !gjson.ValidBytes(payload) {
		return message, &ProtocolError{Reason: "malformed message", Raw: string(payload)}
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return message, &ProtocolError{Reason: "message is not a JSON object", Raw: string(payload)}
	}
	if t := root.Get("type"); t.Exists() {
		if t.Type != gjson.Number {
			return message, &ProtocolError{Reason: "message type is not a number", Raw: string(payload)}
		}
		if kind := MessageKind(t.Int()); kind >= MessageInvocation && kind <= MessageClose {
			message.Kind = kind
		}
	}
	var err error
	if message.InvocationID, err = stringField(root, "invocationId", payload); err != nil {
		return message, err
	}
	if message.Target, err = stringField(root, "target", payload); err != nil {
		return message, err
	}
	if message.Error, err = stringField(root, "error", payload); err != nil {
		return message, err
	}
	if args := root.Get("arguments"); args.Exists() && args.Type != gjson.Null {
		if !args.IsArray() {
			return message, &ProtocolError{Reason: "arguments is not an array", Raw: string(payload)}
		}
		message.Arguments = make([]json.RawMessage, 0)
		args.ForEach(func(_, value gjson.Result) bool {
			message.Arguments = append(message.Arguments, json.RawMessage(value.Raw))
			return true
		})
	}
	if result := root.Get("result"); result.Exists() {
		message.Result = json.RawMessage(result.Raw)
	}
	if item := root.Get("item"); item.Exists() {
		message.Item = json.RawMessage(item.Raw)
	}
	return message, nil
}

func stringField(root gjson.Result, name string, payload []byte) (string, error) {
	field := root.Get(name)
	switch field.Type {
	case gjson.Null:
		return "", nil
	case gjson.String:
		return field.Str, nil
	default:
		return "", &ProtocolError{Reason: fmt.Sprintf("%s is not a string", name), Raw: string(payload)}
	}
}

// convertArgument decodes the raw JSON argument into value, which must be a non-nil pointer.
// Booleans, numbers and strings are converted natively, so "42" fills an int and 42 fills a string.
// A missing or null argument sets value to its zero value.
// Everything else is unmarshaled from its JSON representation.
func convertArgument(raw json.RawMessage, value interface{}) error {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return &ProtocolError{Reason: fmt.Sprintf("can not convert argument into %T", value)}
	}
	target := rv.Elem()
	arg := gjson.ParseBytes(raw)
	if len(bytes.TrimSpace(raw)) == 0 || arg.Type == gjson.Null {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}
	if _, ok := value.(json.Unmarshaler); ok {
		return unmarshalArgument(raw, value)
	}
	fail := func(err error) error {
		return &ProtocolError{Reason: fmt.Sprintf("can not convert argument into %v", target.Type()), Raw: string(raw), Err: err}
	}
	switch target.Kind() {
	case reflect.String:
		switch arg.Type {
		case gjson.String:
			target.SetString(arg.Str)
		default:
			// numbers and booleans keep their literal, objects and arrays their JSON text
			target.SetString(arg.Raw)
		}
		return nil
	case reflect.Bool:
		switch arg.Type {
		case gjson.True, gjson.False:
			target.SetBool(arg.Bool())
		case gjson.Number:
			target.SetBool(arg.Num != 0)
		case gjson.String:
			b, err := strconv.ParseBool(arg.Str)
			if err != nil {
				return fail(err)
			}
			target.SetBool(b)
		default:
			return fail(fmt.Errorf("unexpected %v", arg.Type))
		}
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		text, err := numberText(arg)
		if err != nil {
			return fail(err)
		}
		i, err := strconv.ParseInt(text, 10, target.Type().Bits())
		if err != nil {
			return fail(err)
		}
		target.SetInt(i)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		text, err := numberText(arg)
		if err != nil {
			return fail(err)
		}
		u, err := strconv.ParseUint(text, 10, target.Type().Bits())
		if err != nil {
			return fail(err)
		}
		target.SetUint(u)
		return nil
	case reflect.Float32, reflect.Float64:
		text, err := numberText(arg)
		if err != nil {
			return fail(err)
		}
		f, err := strconv.ParseFloat(text, target.Type().Bits())
		if err != nil {
			return fail(err)
		}
		target.SetFloat(f)
		return nil
	}
	return unmarshalArgument(raw, value)
}

func numberText(arg gjson.Result) (string, error) {
	switch arg.Type {
	case gjson.Number:
		return arg.Raw, nil
	case gjson.String:
		return arg.Str, nil
	default:
		return "", fmt.Errorf("unexpected %v", arg.Type)
	}
}

func unmarshalArgument(raw json.RawMessage, value interface{}) error {
	if err := json.Unmarshal(raw, value); err != nil {
		return &ProtocolError{
			Reason: fmt.Sprintf("can not convert argument into %v", reflect.TypeOf(value).Elem()),
			Raw:    string(raw),
			Err:    err,
		}
	}
	return nil
}
