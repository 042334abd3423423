package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/fandomvelocity/internal/metrics"
	"github.com/roach88/fandomvelocity/internal/store"
)

// PaymentStatus is the state of a payment intent.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = store.PaymentPending
	PaymentSucceeded PaymentStatus = store.PaymentSucceeded
	PaymentFailed    PaymentStatus = store.PaymentFailed
	PaymentCancelled PaymentStatus = store.PaymentCancelled
)

// Terminal reports whether no further transition is possible.
func (s PaymentStatus) Terminal() bool {
	return s != PaymentPending
}

// Payment is a payment intent.
type Payment struct {
	ID               string          `json:"paymentId"`
	UserID           string          `json:"userId"`
	Amount           decimal.Decimal `json:"amount"`
	Status           PaymentStatus   `json:"status"`
	BalanceProcessed bool            `json:"balanceProcessed"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// PaymentOutcome is the result of ProcessPaymentBalance.
//
// Updated is true only for the call that performed the pending ->
// succeeded transition and credited the balance. Every other call gets
// Updated=false and the user's current balance.
type PaymentOutcome struct {
	Updated bool            `json:"updated"`
	Balance decimal.Decimal `json:"balance"`
	Status  PaymentStatus   `json:"status"`
}

// CreatePayment records a pending payment intent.
//
// Creating the same intent again is a no-op that returns the stored
// intent. Reusing the id with another user or amount returns
// ErrPaymentMismatch.
func (l *Ledger) CreatePayment(ctx context.Context, paymentID, userID string, amount decimal.Decimal) (Payment, error) {
	if paymentID == "" || userID == "" {
		return Payment{}, fmt.Errorf("create payment: payment and user: %w", ErrMissingID)
	}
	cents, err := ToCents(amount)
	if err != nil {
		return Payment{}, err
	}

	if _, err := l.store.InsertPaymentIntent(ctx, store.PaymentIntentRow{
		PaymentID: paymentID,
		UserID:    userID,
		Amount:    cents,
		CreatedAt: l.clock.Now(),
	}); err != nil {
		return Payment{}, err
	}

	row, err := l.intent(ctx, paymentID)
	if err != nil {
		return Payment{}, err
	}
	if row.UserID != userID || row.Amount != cents {
		return Payment{}, fmt.Errorf("create payment %s: %w", paymentID, ErrPaymentMismatch)
	}
	return toPayment(row), nil
}

// ProcessPaymentBalance completes a payment and credits its amount to
// the user exactly once, however many callers report the completion.
//
// userID and amount must match the intent. Returns ErrPaymentNotFound
// for an unknown id and ErrPaymentMismatch when they differ; neither
// changes any state.
func (l *Ledger) ProcessPaymentBalance(ctx context.Context, paymentID, userID string, amount decimal.Decimal) (PaymentOutcome, error) {
	cents, err := ToCents(amount)
	if err != nil {
		return PaymentOutcome{}, err
	}

	// Intent fields other than status never change, so checking them
	// before the transition is race free.
	row, err := l.intent(ctx, paymentID)
	if err != nil {
		return PaymentOutcome{}, err
	}
	if row.UserID != userID || row.Amount != cents {
		return PaymentOutcome{}, fmt.Errorf("process payment %s: %w", paymentID, ErrPaymentMismatch)
	}

	entry := l.entry(userID, cents, TypePurchase, "Payment "+paymentID, paymentID)
	settled, balance, err := l.store.SettlePayment(ctx, paymentID, entry)
	if err != nil {
		return PaymentOutcome{}, fmt.Errorf("process payment %s: %w", paymentID, err)
	}

	if !settled {
		current, err := l.intent(ctx, paymentID)
		if err != nil {
			return PaymentOutcome{}, err
		}
		metrics.DuplicateCompletion()
		l.logger.Info("payment already processed",
			"payment_id", paymentID,
			"user_id", userID,
			"status", current.Status)
		return PaymentOutcome{Updated: false, Balance: FromCents(balance), Status: PaymentStatus(current.Status)}, nil
	}

	metrics.PaymentSettled()
	l.logger.Info("payment settled",
		"payment_id", paymentID,
		"user_id", userID,
		"amount", amount.StringFixed(2))
	return PaymentOutcome{Updated: true, Balance: FromCents(balance), Status: PaymentSucceeded}, nil
}

// FailPayment moves a pending payment to failed.
func (l *Ledger) FailPayment(ctx context.Context, paymentID string) (Payment, error) {
	return l.terminate(ctx, paymentID, PaymentFailed)
}

// CancelPayment moves a pending payment to cancelled.
func (l *Ledger) CancelPayment(ctx context.Context, paymentID string) (Payment, error) {
	return l.terminate(ctx, paymentID, PaymentCancelled)
}

// Payment returns a payment intent.
func (l *Ledger) Payment(ctx context.Context, paymentID string) (Payment, error) {
	row, err := l.intent(ctx, paymentID)
	if err != nil {
		return Payment{}, err
	}
	return toPayment(row), nil
}

func (l *Ledger) terminate(ctx context.Context, paymentID string, to PaymentStatus) (Payment, error) {
	err := l.store.TransitionPayment(ctx, paymentID, string(to), l.clock.Now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return Payment{}, fmt.Errorf("%s payment %s: %w", to, paymentID, ErrPaymentNotFound)
	case errors.Is(err, store.ErrConditionFailed):
		return Payment{}, fmt.Errorf("%s payment %s: %w", to, paymentID, ErrInvalidTransition)
	case err != nil:
		return Payment{}, err
	}
	return l.Payment(ctx, paymentID)
}

func (l *Ledger) intent(ctx context.Context, paymentID string) (store.PaymentIntentRow, error) {
	row, err := l.store.GetPaymentIntent(ctx, paymentID)
	if errors.Is(err, store.ErrNotFound) {
		return store.PaymentIntentRow{}, fmt.Errorf("payment %s: %w", paymentID, ErrPaymentNotFound)
	}
	return row, err
}

func toPayment(row store.PaymentIntentRow) Payment {
	return Payment{
		ID:               row.PaymentID,
		UserID:           row.UserID,
		Amount:           FromCents(row.Amount),
		Status:           PaymentStatus(row.Status),
		BalanceProcessed: row.BalanceProcessed,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
}
