package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "keyforgectl",
		Short:         "keyforge operator CLI",
		Long:          `Generate signing keys, issue and inspect tokens, and maintain the keyforge database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newKeygenCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newPruneCmd())
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
