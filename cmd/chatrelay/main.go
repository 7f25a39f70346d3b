// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command chatrelay bridges a messaging-network session to an HTTP webhook.
// Inbound messages are enriched and relayed to a configured target, and an
// admin API sends outbound messages, exposes the session status and hands
// out the pairing token.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aiku/chatrelay/cmd/chatrelay/internal"
	"github.com/aiku/chatrelay/cmd/chatrelay/internal/number"
	"github.com/aiku/chatrelay/cmd/chatrelay/internal/pairing"
	"github.com/aiku/chatrelay/cmd/chatrelay/internal/serve"
	"github.com/aiku/chatrelay/cmd/chatrelay/internal/version"
)

func NewChatrelayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "chatrelay",
		Short:   fmt.Sprintf("chatrelay %s - messaging session to webhook relay", internal.FormatVersion()),
		Example: "chatrelay serve --config config.yaml",
	}

	cmd.PersistentFlags().StringP(internal.ConfigFlag, "c", "", "Path to the YAML config file (defaults are used when empty)")

	cmd.AddCommand(
		serve.NewServeCommand(),
		number.NewNormalizeCommand(),
		number.NewValidateCommand(),
		pairing.NewPairingQRCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewChatrelayCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
