// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package pairing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/aiku/chatrelay/cmd/chatrelay/internal"
)

const (
	fetchTimeout = 10 * time.Second
	pngSize      = 256
)

// ErrNoToken is returned when the running relay has no pairing token to
// hand out, usually because the session is already paired.
var ErrNoToken = errors.New("no pairing token available")

func NewPairingQRCommand() *cobra.Command {
	var (
		apiURL  string
		token   string
		pngPath string
	)

	cmd := &cobra.Command{
		Use:   "pairing-qr [token]",
		Short: "Render the session pairing token as a QR code",
		Long: "Render the current pairing token as a terminal QR code. Without an\n" +
			"argument the token is fetched from a running relay's admin API.",
		Example: "chatrelay pairing-qr --api http://127.0.0.1:3000",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pairingToken string
			if len(args) == 1 {
				pairingToken = args[0]
			} else {
				base, bearer, err := adminEndpoint(cmd, apiURL, token)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), fetchTimeout)
				defer cancel()
				pairingToken, err = FetchToken(ctx, http.DefaultClient, base, bearer)
				if err != nil {
					return err
				}
			}
			if pngPath != "" {
				if err := qrcode.WriteFile(pairingToken, qrcode.Medium, pngSize, pngPath); err != nil {
					return fmt.Errorf("failed to write %s: %w", pngPath, err)
				}
			}
			code, err := qrcode.New(pairingToken, qrcode.Medium)
			if err != nil {
				return fmt.Errorf("failed to encode pairing token: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), code.ToSmallString(false))
			return nil
		},
	}

	cmd.Flags().StringVar(&apiURL, "api", "", "Admin API base URL (defaults to api.addr from the config)")
	cmd.Flags().StringVar(&token, "token", "", "Admin API bearer token (defaults to api.token from the config)")
	cmd.Flags().StringVar(&pngPath, "png", "", "Also write the QR code as a PNG to this path")

	return cmd
}

// adminEndpoint fills whatever the flags leave empty from the config.
func adminEndpoint(cmd *cobra.Command, apiURL, token string) (string, string, error) {
	if apiURL != "" && token != "" {
		return apiURL, token, nil
	}
	cfg, err := internal.LoadConfig(cmd, false)
	if err != nil {
		return "", "", err
	}
	if apiURL == "" {
		apiURL = baseURL(cfg.API.Addr)
	}
	if token == "" {
		token = cfg.API.Token
	}
	return apiURL, token, nil
}

// baseURL turns a listen address into a URL reachable from this host.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

// FetchToken asks a running relay for its current pairing token.
func FetchToken(ctx context.Context, client *http.Client, base, bearer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/api/pairing", nil)
	if err != nil {
		return "", err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach admin API: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("failed to read admin API response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", ErrNoToken
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("admin API returned %s: %s", resp.Status, gjson.GetBytes(body, "error").String())
	}
	pairingToken := gjson.GetBytes(body, "token").String()
	if pairingToken == "" {
		return "", ErrNoToken
	}
	return pairingToken, nil
}
