package main

import (
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/gexlive/internal/instrument"
)

type parseResult struct {
	Identifier string               `yaml:"identifier"`
	Valid      bool                 `yaml:"valid"`
	Contract   *instrument.Contract `yaml:"contract,omitempty"`
}

func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse IDENTIFIER [IDENTIFIER...]",
		Short: "Parse instrument identifiers",
		Long: `Parse instrument identifiers such as NIFTY_26JUN2025_24000_CE into
symbol, expiry, strike and option side.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results := make([]parseResult, 0, len(args))
			for _, id := range args {
				r := parseResult{Identifier: id}
				if c, ok := instrument.ParseContract(id); ok {
					r.Valid = true
					r.Contract = &c
				}
				results = append(results, r)
			}
			return printYAML(results)
		},
	}
}
