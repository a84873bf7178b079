// ABOUTME: Project control subcommands: run, stop, running, and history.
// ABOUTME: Plain calls go straight to the backend client; run --wait follows a session's running view.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/2389-research/conductor/backend"
	"github.com/2389-research/conductor/lifecycle"
	"github.com/2389-research/conductor/session"
)

func newRunCmd(opts *globalOptions) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "run <project-id>",
		Short: "Launch a generated project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), false, func(a *app) error {
				ctx := cmd.Context()
				if !wait {
					resp, err := a.client.Run(ctx, id)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), describeRun(id, resp))
					return nil
				}
				s, err := a.startSession(ctx)
				if err != nil {
					return err
				}
				defer s.Close()
				return runAndWait(ctx, s, id, a.cfg.PollInterval, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the project stops running")
	return cmd
}

// runner is the session surface runAndWait drives.
type runner interface {
	Run(ctx context.Context, projectID string) (backend.RunResponse, error)
	Snapshot() session.Snapshot
	Subscribe() <-chan session.Snapshot
	Unsubscribe(ch <-chan session.Snapshot)
}

// runAndWait launches id and returns once it leaves the running view or its
// execution fails.
func runAndWait(ctx context.Context, s runner, id string, pollInterval time.Duration, out io.Writer) error {
	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	resp, err := s.Run(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, describeRun(id, resp))

	snap := s.Snapshot()
	// A poll issued before the ack may still omit the project; only trust
	// absence once a full poll interval has passed.
	settleAt := snap.TakenAt.Add(pollInterval)
	for {
		exec, _ := snap.Execution(id)
		if exec.State == lifecycle.ExecError {
			return fmt.Errorf("execution of %s failed: %s", id, exec.Error)
		}
		if !snap.IsRunning(id) && !snap.TakenAt.Before(settleAt) {
			if exec.Output != "" {
				fmt.Fprintln(out, exec.Output)
			}
			fmt.Fprintf(out, "%s is no longer running\n", id)
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

func newStopCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <project-id>",
		Short: "Stop a running project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), false, func(a *app) error {
				if err := a.client.Stop(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s stopped\n", args[0])
				return nil
			})
		},
	}
}

func newRunningCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "running",
		Short: "List running projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), false, func(a *app) error {
				ids, err := a.client.Running(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, ids)
				}
				if len(ids) == 0 {
					fmt.Fprintln(out, "nothing running")
					return nil
				}
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	var cached, asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List previously generated projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, cmd.ErrOrStderr(), false, func(a *app) error {
				ctx := cmd.Context()
				var (
					items []backend.ProjectSummary
					err   error
				)
				if cached {
					if a.cache == nil {
						return fmt.Errorf("history cache is disabled")
					}
					items, err = a.cache.List(ctx)
				} else {
					items, err = a.refresher.Refresh(ctx)
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, items)
				}
				if cached {
					if at, ok, err := a.cache.RefreshedAt(ctx); err == nil && ok {
						fmt.Fprintf(out, "cached %s\n", at.Local().Format(time.DateTime))
					}
				}
				fmt.Fprintln(out, historyTable(items))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "Read the local cache without contacting the backend")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func historyTable(items []backend.ProjectSummary) string {
	if len(items) == 0 {
		return "no projects"
	}
	rows := make([][]string, 0, len(items))
	for _, p := range items {
		created := ""
		if !p.CreatedAt.IsZero() {
			created = p.CreatedAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{p.ProjectID, p.Status, fmt.Sprint(p.FilesCreated), created, p.Prompt})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("PROJECT", "STATUS", "FILES", "CREATED", "PROMPT").
		Rows(rows...).
		String()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
