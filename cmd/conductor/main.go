// ABOUTME: CLI entrypoint for conductor: interactive TUI, headless generate, project control, and a stub backend.
// ABOUTME: Builds the cobra command tree and the global flags shared by every subcommand.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389-research/conductor/config"
)

var version = "dev"

// errSilent marks a failure that was already reported to the user.
var errSilent = errors.New("command failed")

// globalOptions holds the persistent flags.
type globalOptions struct {
	configPath string
	backendURL string
	socketURL  string
	dataDir    string
	verbose    bool
}

// dotEnv is what .env loading found; help reports it.
var dotEnv *config.DotEnv

func main() {
	var err error
	dotEnv, err = config.LoadDotEnvAuto()
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errSilent) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "conductor",
		Short:         "Drive a code-generation backend from the terminal",
		Long:          rootLong(dotEnv),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("conductor {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Path to config.yaml (default: $XDG_CONFIG_HOME/conductor/config.yaml)")
	pf.StringVar(&opts.backendURL, "backend-url", "", "Backend base URL")
	pf.StringVar(&opts.socketURL, "socket-url", "", "Backend channel URL (default: derived from --backend-url)")
	pf.StringVar(&opts.dataDir, "data-dir", "", "Data directory for the history cache and logs")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(
		newTUICmd(opts),
		newGenerateCmd(opts),
		newRunCmd(opts),
		newStopCmd(opts),
		newRunningCmd(opts),
		newHistoryCmd(opts),
		newServeStubCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadConfig layers defaults, the config file, the environment, and flags.
func (o *globalOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.backendURL != "" {
		cfg.BackendURL = o.backendURL
		if o.socketURL == "" {
			// re-derive from the overridden backend
			cfg.SocketURL = ""
		}
	}
	if o.socketURL != "" {
		cfg.SocketURL = o.socketURL
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Finalize(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "conductor %s\n", version)
		},
	}
}
