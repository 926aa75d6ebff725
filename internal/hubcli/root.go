package hubcli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/hubkit/signalr"
)

// settings are shared by all commands. They are filled from the
// environment and then overridden by the flags the user has set.
type settings struct {
	config Config
	logger log.Logger
	// dialer replaces the websocket dialer in tests
	dialer signalr.Dialer
}

// NewRootCmd creates the hubcli command with all sub commands.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&settings{})
}

func newRootCmd(s *settings) *cobra.Command {
	var (
		url     string
		debug   bool
		timeout time.Duration
		retries uint64
	)
	rootCmd := &cobra.Command{
		Use:   "hubcli",
		Short: "Talk to a SignalR hub from the command line",
		Long: `hubcli connects to a SignalR hub with the JSON hub protocol,
invokes hub methods and prints the methods the hub invokes on the client.

Settings are read from .env.local and the environment
(HUBCLI_URL, HUBCLI_DEBUG, HUBCLI_CONNECT_TIMEOUT, HUBCLI_CONNECT_RETRIES)
and can be overridden by flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config, err := LoadConfig(cmd.Context())
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("url") {
				config.URL = url
			}
			if flags.Changed("debug") {
				config.Debug = debug
			}
			if flags.Changed("timeout") {
				config.ConnectTimeout = timeout
			}
			if flags.Changed("retries") {
				config.ConnectRetries = retries
			}
			if config.URL == "" {
				return errors.New("no hub url, use --url or HUBCLI_URL")
			}
			s.config = *config
			if s.logger == nil {
				s.logger = newLogger(cmd.ErrOrStderr(), config.Debug)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&url, "url", "u", "", "The url of the hub, e.g. http://localhost:5000/chat")
	flags.BoolVar(&debug, "debug", false, "Log every message sent and received")
	flags.DurationVar(&timeout, "timeout", 1500*time.Millisecond, "The time to wait for the socket to open")
	flags.Uint64Var(&retries, "retries", 3, "How often a failed connect is retried")

	rootCmd.AddCommand(
		newInvokeCmd(s),
		newSendCmd(s),
		newListenCmd(s),
	)
	return rootCmd
}

// Execute runs hubcli and exits with 1 on error.
func Execute(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, debug bool) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	if debug {
		return level.NewFilter(logger, level.AllowDebug())
	}
	return level.NewFilter(logger, level.AllowWarn())
}

// connect creates a client and connects it, retrying with exponential backoff.
// Handlers registered by register are in place before the first message arrives.
func (s *settings) connect(ctx context.Context, register func(client signalr.Client)) (signalr.Client, error) {
	builder := signalr.NewClientBuilder().
		WithURL(s.config.URL).
		AddLogger(s.logger, s.config.Debug).
		WithOptions(signalr.ConnectTimeout(s.config.ConnectTimeout))
	if s.dialer != nil {
		builder.WithOptions(signalr.WithDialer(s.dialer))
	}
	client, err := builder.Build(ctx)
	if err != nil {
		return nil, err
	}
	if register != nil {
		register(client)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.config.ConnectRetries), ctx)
	err = backoff.RetryNotify(func() error {
		return client.Connect(ctx)
	}, b, func(err error, next time.Duration) {
		_ = level.Warn(s.logger).Log("event", "connect", "error", err, "reaction", "retry", "next", next)
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
