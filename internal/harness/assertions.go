package harness

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/fandomvelocity/internal/ledger"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Subject  string // user, payment or promo code the assertion is about
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion %s(%s) failed: expected %s, actual %s", e.Type, e.Subject, e.Expected, e.Actual)
}

// EvaluateAssertions checks every assertion against the ledger and
// returns one message per failure.
func EvaluateAssertions(ctx context.Context, l *ledger.Ledger, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(ctx, l, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(ctx context.Context, l *ledger.Ledger, a Assertion) error {
	switch a.Type {
	case AssertFinalBalance:
		return assertFinalBalance(ctx, l, a)
	case AssertTransactionCount:
		return assertTransactionCount(ctx, l, a)
	case AssertPaymentStatus:
		return assertPaymentStatus(ctx, l, a)
	case AssertPromoUses:
		return assertPromoUses(ctx, l, a)
	case AssertLedgerConsistent:
		return assertLedgerConsistent(ctx, l, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertFinalBalance(ctx context.Context, l *ledger.Ledger, a Assertion) error {
	b, err := l.Balance(ctx, a.User)
	if err != nil {
		return err
	}
	want := decimal.RequireFromString(a.Balance)
	if !b.Balance.Equal(want) {
		return &AssertionError{
			Type:     a.Type,
			Subject:  a.User,
			Expected: want.StringFixed(2),
			Actual:   b.Balance.StringFixed(2),
		}
	}
	return nil
}

func assertTransactionCount(ctx context.Context, l *ledger.Ledger, a Assertion) error {
	txs, err := l.Transactions(ctx, a.User, 0)
	if err != nil {
		return err
	}
	if len(txs) != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Subject:  a.User,
			Expected: fmt.Sprintf("%d transactions", *a.Count),
			Actual:   fmt.Sprintf("%d transactions", len(txs)),
		}
	}
	return nil
}

func assertPaymentStatus(ctx context.Context, l *ledger.Ledger, a Assertion) error {
	p, err := l.Payment(ctx, a.Payment)
	if err != nil {
		return err
	}
	if string(p.Status) != a.Status {
		return &AssertionError{Type: a.Type, Subject: a.Payment, Expected: a.Status, Actual: string(p.Status)}
	}
	return nil
}

func assertPromoUses(ctx context.Context, l *ledger.Ledger, a Assertion) error {
	p, err := l.Promo(ctx, a.Code)
	if err != nil {
		return err
	}
	if p.CurrentUses != int64(*a.Count) {
		return &AssertionError{
			Type:     a.Type,
			Subject:  p.Code,
			Expected: fmt.Sprintf("%d uses", *a.Count),
			Actual:   fmt.Sprintf("%d uses", p.CurrentUses),
		}
	}
	return nil
}

// assertLedgerConsistent checks that the balance equals the sum of the
// user's ledger entries.
func assertLedgerConsistent(ctx context.Context, l *ledger.Ledger, a Assertion) error {
	b, err := l.Balance(ctx, a.User)
	if err != nil {
		return err
	}
	txs, err := l.Transactions(ctx, a.User, 0)
	if err != nil {
		return err
	}
	sum := decimal.Zero
	for _, tx := range txs {
		sum = sum.Add(tx.Amount)
	}
	if !sum.Equal(b.Balance) {
		return &AssertionError{
			Type:     a.Type,
			Subject:  a.User,
			Expected: "balance " + sum.StringFixed(2) + " (sum of entries)",
			Actual:   "balance " + b.Balance.StringFixed(2),
		}
	}
	return nil
}
