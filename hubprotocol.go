package signalr

import (
	"encoding/json"
	"fmt"
)

// MessageKind is the value of the "type" field of a hub message.
type MessageKind int

const (
	MessageUnknown MessageKind = iota
	MessageInvocation
	MessageStreamItem
	MessageCompletion
	MessageStreamInvocation
	MessageCancelInvocation
	MessagePing
	MessageClose
)

func (k MessageKind) String() string {
	switch k {
	case MessageInvocation:
		return "Invocation"
	case MessageStreamItem:
		return "StreamItem"
	case MessageCompletion:
		return "Completion"
	case MessageStreamInvocation:
		return "StreamInvocation"
	case MessageCancelInvocation:
		return "CancelInvocation"
	case MessagePing:
		return "Ping"
	case MessageClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// HubMessage is a message received from the server.
// Arguments, Result and Item keep their raw JSON, they are decoded when the
// receiving side knows which type it expects.
type HubMessage struct {
	Kind         MessageKind
	InvocationID string
	Target       string
	Arguments    []json.RawMessage
	Result       json.RawMessage
	Item         json.RawMessage
	Error        string
}

// HasResult reports if the message carried a non-null result.
func (m HubMessage) HasResult() bool {
	return len(m.Result) > 0 && string(m.Result) != "null"
}

func (m HubMessage) String() string {
	return fmt.Sprintf("{kind:%v id:%q target:%q args:%d result:%s error:%q}",
		m.Kind, m.InvocationID, m.Target, len(m.Arguments), string(m.Result), m.Error)
}

// Messages sent by the client

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type invocationMessage struct {
	Type         int           `json:"type"`
	InvocationID string        `json:"invocationId"`
	Target       string        `json:"target"`
	Arguments    []interface{} `json:"arguments"`
}

type pingMessage struct {
	Type int `json:"type"`
}

type closeMessage struct {
	Type  int    `json:"type"`
	Error string `json:"error,omitempty"`
}
