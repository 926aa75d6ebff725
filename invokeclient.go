package signalr

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type requestStatus int

const (
	requestCreated requestStatus = iota
	requestSent
	requestResponseReceived
	requestFailed
)

func (s requestStatus) String() string {
	switch s {
	case requestCreated:
		return "Created"
	case requestSent:
		return "Sent"
	case requestResponseReceived:
		return "ResponseReceived"
	case requestFailed:
		return "RequestFailed"
	default:
		return fmt.Sprintf("requestStatus(%d)", int(s))
	}
}

func (s requestStatus) terminal() bool {
	return s == requestResponseReceived || s == requestFailed
}

type pendingRequest struct {
	id       string
	status   requestStatus
	response *HubMessage
	cause    error
	// closed when status becomes terminal
	done chan struct{}
}

// invokeClient correlates the invocations sent by the client with the completions sent by the server.
type invokeClient struct {
	mx       sync.Mutex
	requests map[string]*pendingRequest
	metrics  *clientMetrics
}

func newInvokeClient(metrics *clientMetrics) *invokeClient {
	return &invokeClient{
		requests: make(map[string]*pendingRequest),
		metrics:  metrics,
	}
}

// beginRequest registers a new request and returns its invocation id
func (i *invokeClient) beginRequest() string {
	id := uuid.New().String()
	i.mx.Lock()
	i.requests[id] = &pendingRequest{
		id:     id,
		status: requestCreated,
		done:   make(chan struct{}),
	}
	i.mx.Unlock()
	i.metrics.pendingInvocations.Inc()
	return id
}

// markSent is called after the invocation frame has been written
func (i *invokeClient) markSent(id string) {
	i.mx.Lock()
	defer i.mx.Unlock()
	if r, ok := i.requests[id]; ok && r.status == requestCreated {
		r.status = requestSent
	}
}

// markFailed is called when the invocation frame could not be written
func (i *invokeClient) markFailed(id string, cause error) {
	i.mx.Lock()
	defer i.mx.Unlock()
	if r, ok := i.requests[id]; ok {
		i.terminate(r, requestFailed, nil, cause)
	}
}

// terminate must be called with mx held. A terminal status is never overwritten.
func (i *invokeClient) terminate(r *pendingRequest, status requestStatus, response *HubMessage, cause error) bool {
	if r.status.terminal() {
		return false
	}
	r.status = status
	r.response = response
	r.cause = cause
	close(r.done)
	return true
}

// handles reports if id belongs to a request which still waits for its completion
func (i *invokeClient) handles(id string) bool {
	if id == "" {
		return false
	}
	i.mx.Lock()
	defer i.mx.Unlock()
	r, ok := i.requests[id]
	return ok && !r.status.terminal()
}

// resolve stores the server answer for the request with the message's invocation id and wakes its waiter
func (i *invokeClient) resolve(message HubMessage) error {
	i.mx.Lock()
	defer i.mx.Unlock()
	r, ok := i.requests[message.InvocationID]
	if !ok || r.status.terminal() {
		return &ProtocolError{Reason: fmt.Sprintf("unknown completion id %q", message.InvocationID)}
	}
	status := requestResponseReceived
	if message.Error != "" {
		status = requestFailed
	}
	i.terminate(r, status, &message, nil)
	return nil
}

// awaitResult blocks until the request has been answered or failed and removes it.
func (i *invokeClient) awaitResult(id string) (HubMessage, error) {
	i.mx.Lock()
	r, ok := i.requests[id]
	if !ok || r.status == requestCreated {
		i.mx.Unlock()
		return HubMessage{}, &MisuseError{Message: fmt.Sprintf("request %q must be sent first", id)}
	}
	i.mx.Unlock()

	<-r.done

	i.mx.Lock()
	delete(i.requests, id)
	status, response, cause := r.status, r.response, r.cause
	i.mx.Unlock()
	i.metrics.pendingInvocations.Dec()

	if status == requestResponseReceived {
		return *response, nil
	}
	i.metrics.invocationFailures.Inc()
	failed := &RequestFailedError{InvocationID: id, cause: cause}
	if response != nil {
		failed.Message = response.Error
		return *response, failed
	}
	return HubMessage{}, failed
}

// discard removes a request without waiting for it. Used when its frame could not be sent.
func (i *invokeClient) discard(id string) {
	i.mx.Lock()
	r, ok := i.requests[id]
	if ok {
		i.terminate(r, requestFailed, nil, nil)
		delete(i.requests, id)
	}
	i.mx.Unlock()
	if ok {
		i.metrics.pendingInvocations.Dec()
		i.metrics.invocationFailures.Inc()
	}
}

// failAll fails all requests which are not answered yet. The entries stay
// in the table until their waiters have consumed the failure.
func (i *invokeClient) failAll() int {
	i.mx.Lock()
	defer i.mx.Unlock()
	failed := 0
	for _, r := range i.requests {
		if i.terminate(r, requestFailed, nil, errConnectionLost) {
			failed++
		}
	}
	return failed
}

// status returns the current status of the request, ok is false if there is none.
func (i *invokeClient) status(id string) (status requestStatus, ok bool) {
	i.mx.Lock()
	defer i.mx.Unlock()
	r, ok := i.requests[id]
	if !ok {
		return 0, false
	}
	return r.status, true
}

func (i *invokeClient) len() int {
	i.mx.Lock()
	defer i.mx.Unlock()
	return len(i.requests)
}
