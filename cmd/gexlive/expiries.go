package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func expiriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expiries",
		Short: "List the expiries offered by the GEX service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			expiries, err := newAPIClient(cfg).ExpiryList(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetching expiries: %w", err)
			}
			return printYAML(map[string]any{"expiries": expiries})
		},
	}
}
