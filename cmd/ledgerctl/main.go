// Package main implements ledgerctl, an offline tool for inspecting the
// currency table and the conversions the ledger service applies.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &converterOptions{}

	cmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Tuma ledger CLI tool",
		Long:          `ledgerctl prints the currency table and converts amounts with the same spread the ledger service uses.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.tablePath, "table", "", "YAML currency table (defaults to CURRENCY_TABLE_PATH or the built-in table)")
	cmd.PersistentFlags().StringVar(&opts.markup, "markup", "", "markup percentage (defaults to MARKUP_PERCENTAGE or 10)")

	cmd.AddCommand(currenciesCmd(opts))
	cmd.AddCommand(convertCmd(opts))
	cmd.AddCommand(rateCmd(opts))

	return cmd
}
