package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fandomvelocity/internal/ledger"
)

// NewBalanceCommand creates the balance command group.
func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Inspect and adjust user credit balances",
	}
	cmd.AddCommand(newBalanceShowCommand(rootOpts))
	cmd.AddCommand(newBalanceAdjustCommand(rootOpts, ledger.TypeCredit))
	cmd.AddCommand(newBalanceAdjustCommand(rootOpts, ledger.TypeDebit))
	cmd.AddCommand(newBalanceHistoryCommand(rootOpts))
	return cmd
}

func newBalanceShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user>",
		Short: "Print a user's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				b, err := a.ledger.Balance(cmd.Context(), args[0])
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Render(b, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %s\n", b.UserID, b.Balance.StringFixed(2))
				})
			})
		},
	}
}

// newBalanceAdjustCommand builds "credit" or "debit".
func newBalanceAdjustCommand(rootOpts *RootOptions, kind ledger.TransactionType) *cobra.Command {
	var description string

	short := "Add credits to a user's balance"
	if kind == ledger.TypeDebit {
		short = "Take credits from a user's balance; fails rather than going negative"
	}

	cmd := &cobra.Command{
		Use:   string(kind) + " <user> <amount>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				amount, err := parseAmount(a.out, args[1])
				if err != nil {
					return err
				}
				desc := description
				if desc == "" {
					desc = "manual " + string(kind)
				}

				adjust := a.ledger.Credit
				if kind == ledger.TypeDebit {
					adjust = a.ledger.Debit
				}
				balance, err := adjust(cmd.Context(), args[0], amount, desc)
				if err != nil {
					return a.out.Fail(err)
				}

				b := ledger.UserBalance{UserID: args[0], Balance: balance}
				return a.out.Render(b, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %s\n", b.UserID, b.Balance.StringFixed(2))
				})
			})
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "ledger entry description")
	return cmd
}

func newBalanceHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <user>",
		Short: "List a user's ledger entries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				txs, err := a.ledger.Transactions(cmd.Context(), args[0], limit)
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Render(txs, func(w io.Writer) {
					if len(txs) == 0 {
						fmt.Fprintln(w, "No transactions.")
						return
					}
					for _, tx := range txs {
						fmt.Fprintf(w, "%s\t%-8s\t%10s\t%s\n",
							tx.CreatedAt.Format(time.RFC3339), tx.Type, tx.Amount.StringFixed(2), tx.Description)
					}
				})
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries (0 = all)")
	return cmd
}
