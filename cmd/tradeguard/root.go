package main

import (
	"context"

	"github.com/spf13/cobra"
)

// Execute runs the tradeguard CLI.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:   "tradeguard",
		Short: "Validated, gated trade execution pipeline",
		Long:  "tradeguard fuses multi-source market data into gated trade decisions and guards every order attempt with kill switches, a circuit breaker, and rate limits.",
	}
	root.AddCommand(runCmd(ctx))
	root.AddCommand(healthCmd(ctx))
	root.AddCommand(statusCmd(ctx))
	return root.ExecuteContext(ctx)
}
