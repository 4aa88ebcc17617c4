package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Prrash278/tuma/internal/config"
	"github.com/Prrash278/tuma/internal/currency"
)

// converterOptions are the persistent flags; empty values fall back to the environment
type converterOptions struct {
	tablePath string
	markup    string
}

func (o *converterOptions) converter() (*currency.Converter, error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, err
	}

	path := cfg.Currency.TablePath
	if o.tablePath != "" {
		path = o.tablePath
	}
	table := currency.DefaultTable()
	if path != "" {
		if table, err = currency.LoadTable(path); err != nil {
			return nil, err
		}
	}

	markup := cfg.Currency.MarkupPercentage
	if o.markup != "" {
		if markup, err = decimal.NewFromString(o.markup); err != nil {
			return nil, fmt.Errorf("invalid --markup %q: %w", o.markup, err)
		}
	}
	if markup.IsNegative() {
		return nil, fmt.Errorf("markup must not be negative")
	}

	return currency.NewConverter(table, markup.Div(decimal.NewFromInt(100)))
}

func currenciesCmd(opts *converterOptions) *cobra.Command {
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "currencies",
		Short: "List supported currencies",
		Long:  `List supported currencies with their base and final rates. --yaml prints the table in the CURRENCY_TABLE_PATH format.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := opts.converter()
			if err != nil {
				return err
			}

			if asYAML {
				data, err := conv.Table().EncodeYAML()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNAME\tSYMBOL\tBASE RATE\tFINAL RATE")
			for _, c := range conv.Table().List() {
				final, err := conv.Rate(currency.USD, c.Code)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.Code, c.Name, c.Symbol, c.ExchangeRate, final)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print the table as YAML")
	return cmd
}

func convertCmd(opts *converterOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "convert AMOUNT FROM TO",
		Short:   "Convert an amount between currencies",
		Example: "  ledgerctl convert 10 USD NGN",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := opts.converter()
			if err != nil {
				return err
			}

			amount, err := decimal.NewFromString(args[0])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[0], err)
			}
			from, to, err := parsePair(conv, args[1], args[2])
			if err != nil {
				return err
			}

			converted, err := conv.Convert(amount, from, to)
			if err != nil {
				return err
			}
			formatted, err := conv.Format(converted, to)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s\n", amount, from, formatted)
			return nil
		},
	}
}

func rateCmd(opts *converterOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rate FROM TO",
		Short: "Print the final rate for a currency pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := opts.converter()
			if err != nil {
				return err
			}

			from, to, err := parsePair(conv, args[0], args[1])
			if err != nil {
				return err
			}
			rate, err := conv.Rate(from, to)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "1 %s = %s %s\n", from, rate, to)
			return nil
		},
	}
}

func parsePair(conv *currency.Converter, from, to string) (currency.Code, currency.Code, error) {
	f, err := conv.Table().ParseCode(from)
	if err != nil {
		return "", "", err
	}
	t, err := conv.Table().ParseCode(to)
	if err != nil {
		return "", "", err
	}
	return f, t, nil
}
