package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/fandomvelocity/internal/ledger"
)

// NewPaymentCommand creates the payment command group.
func NewPaymentCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Manage payment intents",
		Long: `Manage payment intents. Completing an intent credits the user exactly
once, however many times the completion is delivered.`,
	}
	cmd.AddCommand(newPaymentCreateCommand(rootOpts))
	cmd.AddCommand(newPaymentCompleteCommand(rootOpts))
	cmd.AddCommand(newPaymentTerminateCommand(rootOpts, ledger.PaymentFailed))
	cmd.AddCommand(newPaymentTerminateCommand(rootOpts, ledger.PaymentCancelled))
	return cmd
}

func newPaymentCreateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <payment-id> <user> <amount>",
		Short: "Record a pending payment intent",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				amount, err := parseAmount(a.out, args[2])
				if err != nil {
					return err
				}
				p, err := a.ledger.CreatePayment(cmd.Context(), args[0], args[1], amount)
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Render(p, printPayment(p))
			})
		},
	}
}

func newPaymentCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <payment-id> <user> <amount>",
		Short: "Settle a payment and credit the user once",
		Long: `Settle a pending payment and credit its amount to the user. Repeating
the completion is safe: it reports the current balance without crediting
again.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				amount, err := parseAmount(a.out, args[2])
				if err != nil {
					return err
				}
				out, err := a.ledger.ProcessPaymentBalance(cmd.Context(), args[0], args[1], amount)
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Render(out, func(w io.Writer) {
					if out.Updated {
						fmt.Fprintf(w, "Payment %s settled; %s balance %s\n", args[0], args[1], out.Balance.StringFixed(2))
						return
					}
					fmt.Fprintf(w, "Payment %s already %s; %s balance %s\n", args[0], out.Status, args[1], out.Balance.StringFixed(2))
				})
			})
		},
	}
}

// newPaymentTerminateCommand builds "fail" or "cancel".
func newPaymentTerminateCommand(rootOpts *RootOptions, to ledger.PaymentStatus) *cobra.Command {
	use, short := "fail", "Mark a pending payment as failed"
	terminate := (*ledger.Ledger).FailPayment
	if to == ledger.PaymentCancelled {
		use, short = "cancel", "Cancel a pending payment"
		terminate = (*ledger.Ledger).CancelPayment
	}

	return &cobra.Command{
		Use:   use + " <payment-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				p, err := terminate(a.ledger, cmd.Context(), args[0])
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Render(p, printPayment(p))
			})
		},
	}
}

func printPayment(p ledger.Payment) func(w io.Writer) {
	return func(w io.Writer) {
		fmt.Fprintf(w, "Payment %s: %s %s for %s\n", p.ID, p.Status, p.Amount.StringFixed(2), p.UserID)
	}
}
