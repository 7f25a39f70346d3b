// Copyright 2024-2026 Aiku AI

package number

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aiku/chatrelay/cmd/chatrelay/internal"
	"github.com/aiku/chatrelay/pkg/relay/phone"
)

type regionFlags struct {
	countryCode  string
	mobileMarker string
}

func (f *regionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.countryCode, "country-code", "", "Country prefix (overrides phone.country_code)")
	cmd.Flags().StringVar(&f.mobileMarker, "mobile-marker", "", "Mobile marker digit (overrides phone.mobile_marker)")
}

func (f *regionFlags) normalizer(cmd *cobra.Command) (*phone.Normalizer, error) {
	cfg, err := internal.LoadConfig(cmd, false)
	if err != nil {
		return nil, err
	}
	cc, mm := cfg.Phone.CountryCode, cfg.Phone.MobileMarker
	if f.countryCode != "" {
		cc = f.countryCode
	}
	if f.mobileMarker != "" {
		mm = f.mobileMarker
	}
	return phone.New(cc, mm)
}

func NewNormalizeCommand() *cobra.Command {
	var flags regionFlags

	cmd := &cobra.Command{
		Use:     "normalize <number>...",
		Short:   "Print the canonical form and chat address of phone numbers",
		Example: "chatrelay normalize '11 2345-6789' 91134083140",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := flags.normalizer(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, raw := range args {
				fmt.Fprintf(out, "%s\t%s\n", n.Normalize(raw), n.ToNetworkForm(raw))
			}
			return nil
		},
	}
	flags.register(cmd)

	return cmd
}

func NewValidateCommand() *cobra.Command {
	var flags regionFlags

	cmd := &cobra.Command{
		Use:     "validate <number>...",
		Short:   "Check phone numbers against the regional pattern",
		Example: "chatrelay validate 1123456789 123",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := flags.normalizer(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			invalid := 0
			for _, raw := range args {
				canonical, err := n.Parse(raw)
				if err != nil {
					invalid++
					fmt.Fprintf(out, "%s\tinvalid\n", raw)
					continue
				}
				fmt.Fprintf(out, "%s\tvalid\t%s\n", raw, canonical)
			}
			if invalid > 0 {
				cmd.SilenceUsage = true
				return fmt.Errorf("%d of %d numbers are invalid", invalid, len(args))
			}
			return nil
		},
	}
	flags.register(cmd)

	return cmd
}
