// ABOUTME: Long help text for the root command, including environment override status.
// ABOUTME: envStatus reports whether a CONDUCTOR_* variable is set, and by which .env file, without echoing its value.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/2389-research/conductor/config"
)

// helpEnv lists the environment overrides shown in help.
var helpEnv = []string{
	"BACKEND_URL",
	"SOCKET_URL",
	"POLL_INTERVAL",
	"REQUEST_TIMEOUT",
	"DATA_DIR",
	"LOG_LEVEL",
	"METRICS_ADDR",
}

func rootLong(env *config.DotEnv) string {
	var b strings.Builder
	b.WriteString("conductor submits prompts to a code-generation backend, streams its progress,\n")
	b.WriteString("and launches or stops the generated projects.\n\n")
	b.WriteString("Examples:\n")
	b.WriteString("  conductor serve-stub &\n")
	b.WriteString("  conductor tui\n")
	b.WriteString("  conductor generate \"a todo app with a REST API\"\n")
	b.WriteString("  conductor run <project-id> --wait\n")
	b.WriteString("  conductor history --cached\n\n")
	b.WriteString("Environment:\n")
	for _, key := range helpEnv {
		name := config.EnvPrefix + key
		fmt.Fprintf(&b, "  %-28s %s\n", name, envStatus(env, name))
	}
	b.WriteString("\nA .env file in the working directory, any parent, or the config directory\n")
	b.WriteString("is loaded first; variables already set in the environment win.")
	if env != nil && len(env.Files) > 0 {
		b.WriteString("\nLoaded:")
		for _, f := range env.Files {
			fmt.Fprintf(&b, "\n  %s", f)
		}
	}
	return b.String()
}

// envStatus returns "[set]" if the named variable is non-empty, "[set by
// <file>]" when a loaded .env file supplied it, or "[not set]".
func envStatus(env *config.DotEnv, key string) string {
	if os.Getenv(key) == "" {
		return "[not set]"
	}
	if file, ok := env.Source(key); ok {
		return fmt.Sprintf("[set by %s]", file)
	}
	return "[set]"
}
