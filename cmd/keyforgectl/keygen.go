package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jamesmcfarland/keyforge/internal/token"
	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a P-256 signing key pair",
		Long: `Generate a P-256 key pair in PEM form. The public key is the value of
ROOT_JWT_PUBLIC_KEY; the private key signs root tokens.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			privatePEM, publicPEM, err := token.GenerateKeyPair()
			if err != nil {
				return err
			}
			if outDir == "" {
				fmt.Fprint(cmd.OutOrStdout(), privatePEM)
				fmt.Fprint(cmd.OutOrStdout(), publicPEM)
				return nil
			}

			privPath := filepath.Join(outDir, "private.pem")
			pubPath := filepath.Join(outDir, "public.pem")
			if err := os.WriteFile(privPath, []byte(privatePEM), 0o600); err != nil {
				return fmt.Errorf("write private key: %w", err)
			}
			if err := os.WriteFile(pubPath, []byte(publicPEM), 0o644); err != nil {
				return fmt.Errorf("write public key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", privPath, pubPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "directory to write private.pem and public.pem to (default: stdout)")
	return cmd
}
