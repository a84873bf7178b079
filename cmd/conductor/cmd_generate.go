// ABOUTME: The "generate" subcommand: submits a prompt headlessly and streams the session log to stdout.
// ABOUTME: Exits non-zero when the generation fails or the channel drops before it finishes.
package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/2389-research/conductor/eventlog"
	"github.com/2389-research/conductor/lifecycle"
	"github.com/2389-research/conductor/session"
)

func newGenerateCmd(opts *globalOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate a project, streaming progress until it completes or fails",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), false, func(a *app) error {
				ctx := cmd.Context()
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				s, err := a.startSession(ctx)
				if err != nil {
					return err
				}
				defer s.Close()
				return streamGeneration(ctx, s, prompt, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits until the generation ends)")
	return cmd
}

// generator is the session surface streamGeneration drives.
type generator interface {
	Submit(ctx context.Context, prompt string) (string, error)
	Snapshot() session.Snapshot
	Subscribe() <-chan session.Snapshot
	Unsubscribe(ch <-chan session.Snapshot)
}

// streamGeneration submits prompt and prints each new log entry until the
// generation for the returned project reaches a terminal state.
func streamGeneration(ctx context.Context, s generator, prompt string, out io.Writer) error {
	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	id, err := s.Submit(ctx, prompt)
	if err != nil {
		return err
	}

	var last ulid.ULID
	snap := s.Snapshot()
	for {
		// Entry ids increase, so anything at or below last was printed or
		// predates the submission.
		for _, e := range snap.Log {
			if e.ID.Compare(last) <= 0 {
				continue
			}
			fmt.Fprintln(out, formatEntry(e))
			last = e.ID
		}

		gen := snap.Generation
		if gen.ProjectID == id && gen.State.Terminal() {
			if gen.State == lifecycle.GenFailed {
				return fmt.Errorf("generation of %s failed: %s", id, gen.Error)
			}
			st := snap.StatsAt(snap.TakenAt)
			fmt.Fprintf(out, "project %s: %d agent calls, %d files, %s\n",
				id, st.AgentCalls, st.FilesCreated, st.Elapsed.Round(time.Millisecond))
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case next, ok := <-sub:
			if !ok {
				return session.ErrClosed
			}
			snap = next
		}
	}
}

// formatEntry renders an entry as one plain line.
func formatEntry(e eventlog.Entry) string {
	return fmt.Sprintf("%s %-7s %s", e.Timestamp.Local().Format("15:04:05"), e.Severity, e.Message)
}
