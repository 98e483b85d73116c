package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jamesmcfarland/keyforge/internal/revocation"
	"github.com/jamesmcfarland/keyforge/pkg/config"
	"github.com/jamesmcfarland/keyforge/pkg/database"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func newPruneCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete revoked tokens that have expired",
		Long:  `Delete revoked tokens that have expired. Reads the DB_* settings the server uses.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := database.InitDB(&cfg.DB)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, database.Close(db))
			}()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			n, err := revocation.NewStore(db, nil).Prune(ctx)
			if err != nil {
				return fmt.Errorf("prune revoked tokens: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d expired revoked tokens\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "maximum time to spend pruning")
	return cmd
}
