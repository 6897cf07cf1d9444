package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trickstertwo/xmux"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Session bool
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <request-json>",
		Short: "Send one request and print the response",
		Long: `Send one request and print the response as JSON.

By default the request is executed synchronously without a session. With
--session a session is opened, the request is issued through it and the
runtime is shut down afterwards.

Example:
  xmux exec '{"@type":"getOption","name":"version"}'
  xmux exec --session '{"@type":"getMe"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execRequest(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Session, "session", false, "issue the request through a fresh session")

	return cmd
}

func execRequest(ctx context.Context, opts *ExecOptions, raw string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := xmux.JSONCodec{}.Decode([]byte(raw))
	if err != nil {
		return fmt.Errorf("invalid request JSON: %w", err)
	}
	req.CorrelationID, req.SessionID = 0, 0

	rt, err := opts.build(nil)
	if err != nil {
		return err
	}

	var resp *xmux.Message
	if opts.Session {
		resp, err = callInSession(ctx, rt, req)
	} else {
		resp, err = rt.Execute(req)
		if serr := rt.Shutdown(context.Background()); err == nil {
			err = serr
		}
	}
	if err != nil {
		return err
	}

	// the envelope fields are runtime bookkeeping, not part of the answer
	resp.CorrelationID, resp.SessionID = 0, 0
	out, err := xmux.JSONCodec{}.Encode(resp)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

func callInSession(ctx context.Context, rt *xmux.Runtime, req *xmux.Message) (*xmux.Message, error) {
	defer func() { _ = rt.Shutdown(context.Background()) }()
	s, err := rt.CreateSession()
	if err != nil {
		return nil, err
	}
	return s.Call(ctx, req, 0)
}
