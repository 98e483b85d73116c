package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jamesmcfarland/keyforge/internal/token"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and inspect tokens",
	}
	cmd.AddCommand(newTokenSignCmd())
	cmd.AddCommand(newTokenDecodeCmd())
	return cmd
}

func newTokenSignCmd() *cobra.Command {
	var (
		keyFile  string
		subject  string
		tenantID string
		ttl      time.Duration
		admin    bool
		metadata []string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a token with a private key",
		Long: `Sign a token. Use --sub root with the root private key, or the instance id
as both --sub and --tenant with the private key returned at instance creation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return errors.New("--tenant is required")
			}
			if subject == "" {
				subject = tenantID
			}
			pem, err := os.ReadFile(keyFile)
			if err != nil {
				return fmt.Errorf("read key: %w", err)
			}
			key, err := token.ParsePrivateKey(string(pem))
			if err != nil {
				return err
			}

			claims := token.NewClaims(subject, tenantID, time.Now(), ttl)
			claims.IsAdmin = admin
			if len(metadata) > 0 {
				claims.Metadata = make(map[string]interface{}, len(metadata))
				for _, kv := range metadata {
					k, v, ok := strings.Cut(kv, "=")
					if !ok || k == "" {
						return fmt.Errorf("invalid metadata %q, want key=value", kv)
					}
					claims.Metadata[k] = v
				}
			}

			raw, err := token.Issue(claims, key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	cmd.Flags().StringVarP(&keyFile, "key", "k", "", "PEM encoded private key")
	cmd.Flags().StringVar(&subject, "sub", "", "subject claim (default: the tenant id)")
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenantId claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant admin access")
	cmd.Flags().StringArrayVarP(&metadata, "metadata", "m", nil, "metadata entry key=value, repeatable")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newTokenDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <token>",
		Short: "Print the claims of a token without verifying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			claims, err := token.DecodeUnverified(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(claims)
		},
	}
}
