package hubcli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/hubkit/signalr"
)

func newInvokeCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "invoke METHOD [ARG...]",
		Short: "Invoke a hub method and print its result",
		Long: `Invoke a hub method and print the JSON result.

Arguments which are valid JSON are sent as they are, all others as strings:
	hubcli invoke Add 1 2
	hubcli invoke Echo hello`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			client, err := s.connect(ctx, nil)
			if err != nil {
				return err
			}
			defer func() { _ = client.Disconnect() }()

			select {
			case result := <-client.Invoke(args[0], parseArguments(args[1:])...):
				if result.Error != nil {
					return result.Error
				}
				value := string(result.Value)
				if value == "" {
					value = "null"
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

func newSendCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "send METHOD [ARG...]",
		Short: "Invoke a hub method and only report if it succeeded",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			client, err := s.connect(ctx, nil)
			if err != nil {
				return err
			}
			defer func() { _ = client.Disconnect() }()

			select {
			case err = <-client.Send(args[0], parseArguments(args[1:])...):
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

func newListenCmd(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "listen METHOD...",
		Short: "Print the invocations of the given methods until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			ctx, cancel := context.WithCancelCause(ctx)
			defer cancel(nil)

			out := cmd.OutOrStdout()
			client, err := s.connect(ctx, func(client signalr.Client) {
				for _, method := range args {
					method := method
					client.On(method, signalr.SyncRaw(func(arguments []json.RawMessage) {
						_, _ = fmt.Fprintln(out, formatCall(method, arguments))
					}))
				}
				client.OnDisconnected(func(reason string) {
					cancel(fmt.Errorf("disconnected: %s", reason))
				})
			})
			if err != nil {
				return err
			}
			defer func() { _ = client.Disconnect() }()
			_ = level.Info(s.logger).Log("event", "listen", "methods", fmt.Sprint(args))

			<-ctx.Done()
			if cause := context.Cause(ctx); cause != nil && cause != context.Canceled {
				return cause
			}
			return nil
		},
	}
}
