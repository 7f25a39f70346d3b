// Copyright 2024-2026 Aiku AI

package internal

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/aiku/chatrelay/pkg/relay"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// ConfigFlag is the persistent root flag holding the config file path.
const ConfigFlag = "config"

// FormatVersion returns the tag with the commit appended when known.
func FormatVersion() string {
	if Commit == "unknown" || Commit == "" {
		return Tag
	}
	return fmt.Sprintf("%s (git: %s)", Tag, Commit)
}

// FormatBuildInfo returns the build time and Go version.
func FormatBuildInfo() (string, string) {
	return BuildTime, runtime.Version()
}

// ConfigPath returns the --config value visible to cmd, or "" when the flag
// is not defined on it or any parent.
func ConfigPath(cmd *cobra.Command) string {
	f := cmd.Flag(ConfigFlag)
	if f == nil {
		return ""
	}
	return f.Value.String()
}

// LoadConfig loads the config named by --config, falling back to the
// built-in defaults.
func LoadConfig(cmd *cobra.Command, save bool) (*relay.Config, error) {
	return relay.LoadConfig(ConfigPath(cmd), save)
}
