// ABOUTME: The "serve-stub" subcommand: runs the in-process stub backend for local development.
// ABOUTME: The stub speaks the same HTTP and channel contract the client side expects.
package main

import (
	"github.com/spf13/cobra"

	"github.com/2389-research/conductor/devserver"
	"github.com/2389-research/conductor/logging"
)

func newServeStubCmd(opts *globalOptions) *cobra.Command {
	cfg := devserver.Config{}
	var logLevel string
	cmd := &cobra.Command{
		Use:   "serve-stub",
		Short: "Run a stub backend that simulates generation and execution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lg, err := logging.New(logging.Options{
				Level:   logLevel,
				Verbose: opts.verbose,
				Console: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			defer func() { _ = lg.Close() }()

			cfg.Logger = lg.Logger
			srv := devserver.New(cfg)
			lg.Info("stub backend listening", "addr", cfg.Addr, "socket", devserver.SocketPath)
			return srv.ListenAndServe(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Addr, "addr", devserver.DefaultAddr, "Listen address")
	f.DurationVar(&cfg.StageDelay, "stage-delay", devserver.DefaultStageDelay, "Delay between progress stages")
	f.DurationVar(&cfg.ExecDelay, "exec-delay", devserver.DefaultExecDelay, "Delay before an execution reports")
	f.StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	return cmd
}
