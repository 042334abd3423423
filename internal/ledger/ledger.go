package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/fandomvelocity/internal/clock"
	"github.com/roach88/fandomvelocity/internal/store"
)

// TransactionType labels ledger entries.
type TransactionType string

const (
	TypeCredit   TransactionType = "credit"
	TypeDebit    TransactionType = "debit"
	TypePurchase TransactionType = "purchase"
	TypePromo    TransactionType = "promo"
)

// Transaction is one append-only ledger entry. Debits are negative.
type Transaction struct {
	ID          int64           `json:"id"`
	UserID      string          `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Type        TransactionType `json:"type"`
	Reference   string          `json:"reference,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// UserBalance is a user's current balance.
type UserBalance struct {
	UserID  string
	Balance decimal.Decimal
}

// MarshalJSON renders the balance with two decimals. The "credits" key
// mirrors "balance" for clients that still read the old field name.
func (b UserBalance) MarshalJSON() ([]byte, error) {
	amount := json.Number(b.Balance.StringFixed(2))
	return json.Marshal(struct {
		UserID  string      `json:"userId"`
		Balance json.Number `json:"balance"`
		Credits json.Number `json:"credits"`
	}{b.UserID, amount, amount})
}

// Ledger mutates balances through the store's guarded operations.
type Ledger struct {
	store  *store.Store
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the clock used to stamp entries.
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) {
		l.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// New creates a Ledger over s.
func New(s *store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  s,
		clock:  clock.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Balance returns the user's balance. Unknown users have a zero balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (UserBalance, error) {
	cents, err := l.store.GetBalance(ctx, userID)
	if err != nil {
		return UserBalance{}, err
	}
	return UserBalance{UserID: userID, Balance: FromCents(cents)}, nil
}

// Credit unconditionally adds amount to the user's balance and returns
// the new balance.
func (l *Ledger) Credit(ctx context.Context, userID string, amount decimal.Decimal, description string) (decimal.Decimal, error) {
	cents, err := ToCents(amount)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if userID == "" {
		return decimal.Decimal{}, fmt.Errorf("credit: user: %w", ErrMissingID)
	}

	balance, err := l.store.CreditBalance(ctx, l.entry(userID, cents, TypeCredit, description, ""))
	if err != nil {
		return decimal.Decimal{}, err
	}
	return FromCents(balance), nil
}

// Debit subtracts amount if the balance covers it and returns the new
// balance. Returns ErrInsufficientBalance otherwise.
func (l *Ledger) Debit(ctx context.Context, userID string, amount decimal.Decimal, description string) (decimal.Decimal, error) {
	cents, err := ToCents(amount)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if userID == "" {
		return decimal.Decimal{}, fmt.Errorf("debit: user: %w", ErrMissingID)
	}

	balance, err := l.store.DebitBalance(ctx, l.entry(userID, cents, TypeDebit, description, ""))
	if errors.Is(err, store.ErrConditionFailed) {
		l.logger.Info("debit rejected",
			"user_id", userID,
			"amount", amount.StringFixed(2))
		return decimal.Decimal{}, fmt.Errorf("debit %s for %s: %w", amount.StringFixed(2), userID, ErrInsufficientBalance)
	}
	if err != nil {
		return decimal.Decimal{}, err
	}
	return FromCents(balance), nil
}

// Transactions returns the user's ledger entries newest first.
// A limit of 0 returns all of them.
func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	rows, err := l.store.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, len(rows))
	for i, r := range rows {
		out[i] = Transaction{
			ID:          r.ID,
			UserID:      r.UserID,
			Amount:      FromCents(r.Amount),
			Description: r.Description,
			Type:        TransactionType(r.Type),
			Reference:   r.Reference,
			CreatedAt:   r.CreatedAt,
		}
	}
	return out, nil
}

func (l *Ledger) entry(userID string, cents int64, kind TransactionType, description, reference string) store.TransactionEntry {
	if description == "" {
		description = string(kind)
	}
	return store.TransactionEntry{
		UserID:      userID,
		Amount:      cents,
		Description: description,
		Type:        string(kind),
		Reference:   reference,
		CreatedAt:   l.clock.Now(),
	}
}
