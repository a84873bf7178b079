// ABOUTME: The "tui" subcommand: runs the Bubble Tea interface against a live session.
// ABOUTME: Logs go to the data-dir log file since the terminal belongs to the UI.
package main

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/2389-research/conductor/tui"
)

func newTUICmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Interactive terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, nil, true, func(a *app) error {
				ctx, cancel := context.WithCancel(cmd.Context())
				defer cancel()

				s, err := a.startSession(ctx)
				if err != nil {
					return err
				}
				defer s.Close()

				p := tea.NewProgram(tui.NewAppModel(ctx, s), tea.WithAltScreen(), tea.WithContext(ctx))
				go tui.NewBridge(s, p.Send).Run(ctx)
				go func() {
					if _, err := s.RefreshHistory(ctx); err != nil {
						a.log.Debug("initial history refresh failed", "error", err)
					}
				}()

				_, err = p.Run()
				if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
					return nil
				}
				return err
			})
		},
	}
}
