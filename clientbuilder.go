package signalr

import (
	"context"
)

// ClientBuilder collects the configuration of a Client.
//
//	client, err := signalr.NewClientBuilder().
//		WithURL("https://example.com/chathub").
//		AddLogger(logger, false).
//		Build(ctx)
type ClientBuilder struct {
	url     string
	logger  StructuredLogger
	debug   bool
	options []func(*client) error
}

// NewClientBuilder returns an empty ClientBuilder
func NewClientBuilder() *ClientBuilder {
	return &ClientBuilder{}
}

// WithURL sets the address of the hub
func (b *ClientBuilder) WithURL(url string) *ClientBuilder {
	b.url = url
	return b
}

// AddLogger sets the logger of the client. Without a logger, info events are logged to stderr.
func (b *ClientBuilder) AddLogger(logger StructuredLogger, debug bool) *ClientBuilder {
	b.logger = logger
	b.debug = debug
	return b
}

// WithOptions adds further client options, e.g. WithDialer or KeepAliveInterval.
func (b *ClientBuilder) WithOptions(options ...func(*client) error) *ClientBuilder {
	b.options = append(b.options, options...)
	return b
}

// Build creates the Client. It fails with a *ConfigError if no url has been set.
func (b *ClientBuilder) Build(ctx context.Context) (Client, error) {
	if b.url == "" {
		return nil, &ConfigError{Message: `the url cannot be empty, use the "WithURL" method`}
	}
	options := []func(*client) error{WithURL(b.url)}
	if b.logger != nil {
		options = append(options, Logger(b.logger, b.debug))
	}
	options = append(options, b.options...)
	return NewClient(ctx, options...)
}
