package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trickstertwo/xmux"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Sessions int
	LogTypes []string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a runtime until interrupted",
		Long: `Run a runtime until interrupted, logging the updates it receives.

On SIGINT or SIGTERM every session is closed and the runtime shuts down.

Example:
  xmux run --native redis-streams -o addr=localhost:6379 --sessions 2 --log-type updateNewMessage`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runRuntime(ctx, opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Sessions, "sessions", 1, "sessions to open at start")
	cmd.Flags().StringSliceVar(&opts.LogTypes, "log-type", nil, "update types to log (repeatable)")

	return cmd
}

func runRuntime(ctx context.Context, opts *RunOptions, cmd *cobra.Command) error {
	dp := NewLoggingDispatcher(opts.LogTypes)
	rt, err := opts.build(func(rb *xmux.RuntimeBuilder) { rb.WithDispatcher(dp) })
	if err != nil {
		return err
	}
	if err := rt.Start(ctx); err != nil {
		return err
	}
	for i := 0; i < opts.Sessions; i++ {
		s, err := rt.CreateSession()
		if err != nil {
			_ = rt.Shutdown(context.Background())
			return fmt.Errorf("create session: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %d open\n", s.ID())
	}

	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "shutting down")
	return rt.Shutdown(context.Background())
}

// NewLoggingDispatcher returns a dispatcher logging every update of the given types.
func NewLoggingDispatcher(types []string) *xmux.Dispatcher {
	dp := xmux.NewDispatcher()
	dp.Use(xmux.RecoveryMiddleware())
	for _, typ := range types {
		dp.AddHandler(typ, func(ctx context.Context, u *xmux.Update) error {
			logger, ok := xmux.KeyLogger.Get(u.Data)
			if !ok {
				return nil
			}
			logger.Info().
				Str("type", u.Message.Type).
				Str("session_id", fmt.Sprint(u.Session)).
				Str("payload", string(u.Message.Payload)).
				Msg("update")
			return nil
		})
	}
	return dp
}
