package signalr

import (
	"fmt"
	"net/url"
	"time"
)

// WithURL sets the address of the hub. http(s) and ws(s) urls are accepted by the default websocket dialer.
func WithURL(address string) func(*client) error {
	return func(c *client) error {
		if address == "" {
			return &ConfigError{Message: "the url cannot be empty"}
		}
		if _, err := url.Parse(address); err != nil {
			return &ConfigError{Message: fmt.Sprintf("invalid url %q: %v", address, err)}
		}
		c.address = address
		return nil
	}
}

// WithDialer sets the Dialer used to open the connection to the hub.
// Default is a websocket dialer.
func WithDialer(dialer Dialer) func(*client) error {
	return func(c *client) error {
		if dialer == nil {
			return &ConfigError{Message: "dialer must not be nil"}
		}
		c.dial = dialer
		return nil
	}
}

// ConnectTimeout is the time Connect waits for the socket to open.
// Default is 1.5 seconds.
func ConnectTimeout(timeout time.Duration) func(*client) error {
	return func(c *client) error {
		if timeout <= 0 {
			return &ConfigError{Message: fmt.Sprintf("connect timeout must be positive, got %v", timeout)}
		}
		c.connectTimeout = timeout
		return nil
	}
}

// KeepAliveInterval is the interval if the client hasn't sent a message within,
// a ping message is sent automatically to keep the connection open.
// The server closes connections which have been silent for its client timeout (30 seconds by default).
// Default is 15 seconds, 0 disables the pings.
func KeepAliveInterval(interval time.Duration) func(*client) error {
	return func(c *client) error {
		if interval < 0 {
			return &ConfigError{Message: fmt.Sprintf("keep alive interval must not be negative, got %v", interval)}
		}
		c.keepAliveInterval = interval
		return nil
	}
}

// ReadBufferSize is the size of the buffer for a single read from the connection.
// Default is 32KB.
func ReadBufferSize(size int) func(*client) error {
	return func(c *client) error {
		if size <= 0 {
			return &ConfigError{Message: fmt.Sprintf("read buffer size must be positive, got %v", size)}
		}
		c.readBufferSize = size
		return nil
	}
}

// MaximumReceiveMessageSize is the maximum size of a single incoming message, without its separator.
// Larger messages are dropped, complete ones as well as incomplete ones. Default is 1MB, 0 means unlimited.
func MaximumReceiveMessageSize(size int) func(*client) error {
	return func(c *client) error {
		if size < 0 {
			return &ConfigError{Message: fmt.Sprintf("maximum receive message size must not be negative, got %v", size)}
		}
		c.maximumReceiveMessageSize = size
		return nil
	}
}
