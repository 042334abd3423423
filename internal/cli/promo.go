package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fandomvelocity/internal/config"
)

// NewPromoCommand creates the promo command group.
func NewPromoCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promo",
		Short: "Load and redeem promo codes",
	}
	cmd.AddCommand(newPromoLoadCommand(rootOpts))
	cmd.AddCommand(newPromoShowCommand(rootOpts))
	cmd.AddCommand(newPromoRedeemCommand(rootOpts))
	return cmd
}

func newPromoLoadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load [catalog.cue]",
		Short: "Create or update promo codes from a CUE catalog",
		Long: `Create or update promo codes from a CUE catalog. Without an argument
the catalog named by promo_catalog in the config file is loaded.

The catalog is validated as a whole before any code is written. Usage
counts of existing codes are kept.

Example catalog:
  promos: {
    WELCOME10: {value: 10.00, maxUses: 100}
    LAUNCH:    {value: 5, expiresAt: "2025-12-31T23:59:59Z"}
  }`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				path := a.cfg.PromoCatalog
				if len(args) == 1 {
					path = args[0]
				}
				if path == "" {
					return NewExitError(ExitCommandError, "no catalog given and promo_catalog is not configured")
				}

				promos, err := config.LoadPromoCatalog(path)
				if err != nil {
					return a.out.Fail(err)
				}
				for _, p := range promos {
					if err := a.ledger.CreatePromo(cmd.Context(), p); err != nil {
						return a.out.Fail(err)
					}
					a.out.VerboseLog("loaded promo %s", p.Code)
				}
				a.logger.Info("promo catalog loaded", "path", path, "codes", len(promos))

				return a.out.Render(promos, func(w io.Writer) {
					fmt.Fprintf(w, "Loaded %d promo codes from %s\n", len(promos), path)
				})
			})
		},
	}
}

func newPromoShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <code>",
		Short: "Print a promo code's definition and usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				p, err := a.ledger.Promo(cmd.Context(), args[0])
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Render(p, func(w io.Writer) {
					limit := "unlimited"
					if p.MaxUses > 0 {
						limit = fmt.Sprintf("%d", p.MaxUses)
					}
					fmt.Fprintf(w, "%s: %s credits, %d/%s uses, active=%t", p.Code, p.Value.StringFixed(2), p.CurrentUses, limit, p.IsActive)
					if p.ExpiresAt != nil {
						fmt.Fprintf(w, ", expires %s", p.ExpiresAt.UTC().Format(time.RFC3339))
					}
					fmt.Fprintln(w)
				})
			})
		},
	}
}

func newPromoRedeemCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "redeem <code> <user>",
		Short: "Redeem a promo code for a user",
		Long: `Redeem a promo code for a user. Each user can redeem a code once, and
codes stop working when inactive, expired or used up.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app) error {
				r, err := a.ledger.RedeemPromo(cmd.Context(), args[0], args[1])
				if err != nil {
					return a.out.Fail(err)
				}
				return a.out.Render(r, func(w io.Writer) {
					fmt.Fprintf(w, "Redeemed %s: +%s, %s balance %s\n", r.Code, r.Value.StringFixed(2), r.UserID, r.Balance.StringFixed(2))
				})
			})
		},
	}
}
