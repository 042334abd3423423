package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Payment statuses as persisted.
const (
	PaymentPending   = "pending"
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
	PaymentCancelled = "cancelled"
)

// TransactionEntry is one append-only ledger row. Amount is in cents;
// debits are negative.
type TransactionEntry struct {
	ID          int64
	UserID      string
	Amount      int64
	Description string
	Type        string
	Reference   string
	CreatedAt   time.Time
}

// PaymentIntentRow is a persisted payment intent.
type PaymentIntentRow struct {
	PaymentID        string
	UserID           string
	Amount           int64
	Status           string
	BalanceProcessed bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PromoRow is a persisted promo code.
type PromoRow struct {
	Code        string
	Value       int64
	MaxUses     int64 // 0 = unlimited
	CurrentUses int64
	ExpiresAt   *time.Time
	IsActive    bool
}

// RedeemStatus reports the result of RedeemPromo.
type RedeemStatus string

const (
	RedeemApplied         RedeemStatus = "applied"
	RedeemNotFound        RedeemStatus = "not_found"
	RedeemInactive        RedeemStatus = "inactive"
	RedeemExpired         RedeemStatus = "expired"
	RedeemAlreadyRedeemed RedeemStatus = "already_redeemed"
	RedeemExhausted       RedeemStatus = "exhausted"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetBalance returns a user's balance in cents; unknown users have 0.
func (s *Store) GetBalance(ctx context.Context, userID string) (int64, error) {
	balance, err := balanceOf(ctx, s.db, userID)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// CreditBalance atomically increments a balance and appends entry.
// Returns the balance after the credit.
func (s *Store) CreditBalance(ctx context.Context, entry TransactionEntry) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("credit: begin tx: %w", err)
	}
	defer tx.Rollback()

	balance, err := credit(ctx, tx, entry)
	if err != nil {
		return 0, fmt.Errorf("credit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("credit: commit: %w", err)
	}
	return balance, nil
}

// DebitBalance atomically decrements a balance guarded by balance >= amount.
// entry.Amount is the positive debit amount; it is recorded negated.
// Returns ErrConditionFailed, with no mutation, when the guard fails.
func (s *Store) DebitBalance(ctx context.Context, entry TransactionEntry) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("debit: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE user_balances
		SET balance = balance - ?, updated_at = ?
		WHERE user_id = ? AND balance >= ?
	`, entry.Amount, toMillis(entry.CreatedAt), entry.UserID, entry.Amount)
	if err != nil {
		return 0, fmt.Errorf("debit: update: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("debit: rows affected: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("debit %s: %w", entry.UserID, ErrConditionFailed)
	}

	entry.Amount = -entry.Amount
	if err := appendTransaction(ctx, tx, entry); err != nil {
		return 0, fmt.Errorf("debit: %w", err)
	}

	balance, err := balanceOf(ctx, tx, entry.UserID)
	if err != nil {
		return 0, fmt.Errorf("debit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("debit: commit: %w", err)
	}
	return balance, nil
}

// InsertPaymentIntent creates a pending intent. Returns inserted=false
// if an intent with the same id already exists (nothing is changed).
func (s *Store) InsertPaymentIntent(ctx context.Context, p PaymentIntentRow) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_intents
		(payment_id, user_id, amount, status, balance_processed, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(payment_id) DO NOTHING
	`, p.PaymentID, p.UserID, p.Amount, PaymentPending, toMillis(p.CreatedAt), toMillis(p.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert payment intent: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert payment intent: rows affected: %w", err)
	}
	return n > 0, nil
}

// GetPaymentIntent retrieves an intent. Returns ErrNotFound if absent.
func (s *Store) GetPaymentIntent(ctx context.Context, paymentID string) (PaymentIntentRow, error) {
	p, err := paymentIntent(ctx, s.db, paymentID)
	if err != nil {
		return PaymentIntentRow{}, fmt.Errorf("get payment intent: %w", err)
	}
	return p, nil
}

// SettlePayment performs the pending -> succeeded transition and, only
// if this call performed it, credits the intent's amount to the intent's
// user and appends entry (whose UserID and Amount are overwritten from
// the intent).
//
// Returns settled=false and the user's current balance when the intent
// was already terminal. Returns ErrNotFound if the intent does not exist.
func (s *Store) SettlePayment(ctx context.Context, paymentID string, entry TransactionEntry) (settled bool, balance int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("settle payment: begin tx: %w", err)
	}
	defer tx.Rollback()

	// The conditional UPDATE is the single winner-takes-all point.
	result, err := tx.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = ?, balance_processed = 1, updated_at = ?
		WHERE payment_id = ? AND status = ?
	`, PaymentSucceeded, toMillis(entry.CreatedAt), paymentID, PaymentPending)
	if err != nil {
		return false, 0, fmt.Errorf("settle payment: transition: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("settle payment: rows affected: %w", err)
	}

	intent, err := paymentIntent(ctx, tx, paymentID)
	if err != nil {
		return false, 0, fmt.Errorf("settle payment: %w", err)
	}

	if n == 0 {
		balance, err = balanceOf(ctx, tx, intent.UserID)
		if err != nil {
			return false, 0, fmt.Errorf("settle payment: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return false, 0, fmt.Errorf("settle payment: commit: %w", err)
		}
		return false, balance, nil
	}

	entry.UserID = intent.UserID
	entry.Amount = intent.Amount
	balance, err = credit(ctx, tx, entry)
	if err != nil {
		return false, 0, fmt.Errorf("settle payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("settle payment: commit: %w", err)
	}
	return true, balance, nil
}

// TransitionPayment moves a pending intent to a terminal non-crediting
// status. Returns ErrConditionFailed if the intent is not pending and
// ErrNotFound if it does not exist.
func (s *Store) TransitionPayment(ctx context.Context, paymentID, status string, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = ?, updated_at = ?
		WHERE payment_id = ? AND status = ?
	`, status, toMillis(now), paymentID, PaymentPending)
	if err != nil {
		return fmt.Errorf("transition payment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition payment: rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := paymentIntent(ctx, s.db, paymentID); err != nil {
		return fmt.Errorf("transition payment: %w", err)
	}
	return fmt.Errorf("transition payment %s to %s: %w", paymentID, status, ErrConditionFailed)
}

// ListTransactions returns a user's ledger entries newest first.
func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]TransactionEntry, error) {
	query := `
		SELECT id, user_id, amount, description, type, reference, created_at
		FROM transactions
		WHERE user_id = ?
		ORDER BY id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	entries := []TransactionEntry{}
	for rows.Next() {
		var e TransactionEntry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Description, &e.Type, &e.Reference, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		e.CreatedAt = fromMillis(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return entries, nil
}

// UpsertPromo inserts a promo code or updates its definition. Usage
// counts of an existing code are preserved.
func (s *Store) UpsertPromo(ctx context.Context, p PromoRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO promo_codes (code, value, max_uses, current_uses, expires_at, is_active)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			value = excluded.value,
			max_uses = excluded.max_uses,
			expires_at = excluded.expires_at,
			is_active = excluded.is_active
	`, p.Code, p.Value, p.MaxUses, nullMillis(p.ExpiresAt), p.IsActive)
	if err != nil {
		return fmt.Errorf("upsert promo %s: %w", p.Code, err)
	}
	return nil
}

// GetPromo retrieves a promo code. Returns ErrNotFound if absent.
func (s *Store) GetPromo(ctx context.Context, code string) (PromoRow, error) {
	p, err := promo(ctx, s.db, code)
	if err != nil {
		return PromoRow{}, fmt.Errorf("get promo: %w", err)
	}
	return p, nil
}

// RedeemPromo records a redemption of code by entry.UserID and credits
// the promo value, all in one transaction. Checks run in order: exists,
// active, not expired, not yet redeemed by this user, uses remaining.
// Any status other than RedeemApplied leaves the store unchanged.
func (s *Store) RedeemPromo(ctx context.Context, code string, entry TransactionEntry) (RedeemStatus, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", 0, fmt.Errorf("redeem promo: begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := promo(ctx, tx, code)
	if errors.Is(err, ErrNotFound) {
		return RedeemNotFound, 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("redeem promo: %w", err)
	}
	if !p.IsActive {
		return RedeemInactive, 0, nil
	}
	if p.ExpiresAt != nil && !entry.CreatedAt.Before(*p.ExpiresAt) {
		return RedeemExpired, 0, nil
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO promo_redemptions (code, user_id, redeemed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(code, user_id) DO NOTHING
	`, code, entry.UserID, toMillis(entry.CreatedAt))
	if err != nil {
		return "", 0, fmt.Errorf("redeem promo: record redemption: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return "", 0, fmt.Errorf("redeem promo: rows affected: %w", err)
	} else if n == 0 {
		return RedeemAlreadyRedeemed, 0, nil
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE promo_codes
		SET current_uses = current_uses + 1
		WHERE code = ? AND (max_uses = 0 OR current_uses < max_uses)
	`, code)
	if err != nil {
		return "", 0, fmt.Errorf("redeem promo: count use: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return "", 0, fmt.Errorf("redeem promo: rows affected: %w", err)
	} else if n == 0 {
		return RedeemExhausted, 0, nil
	}

	entry.Amount = p.Value
	balance, err := credit(ctx, tx, entry)
	if err != nil {
		return "", 0, fmt.Errorf("redeem promo: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", 0, fmt.Errorf("redeem promo: commit: %w", err)
	}
	return RedeemApplied, balance, nil
}

func credit(ctx context.Context, db execer, entry TransactionEntry) (int64, error) {
	if _, err := db.ExecContext(ctx, `
		INSERT INTO user_balances (user_id, balance, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			balance = balance + excluded.balance,
			updated_at = excluded.updated_at
	`, entry.UserID, entry.Amount, toMillis(entry.CreatedAt)); err != nil {
		return 0, fmt.Errorf("increment balance: %w", err)
	}

	if err := appendTransaction(ctx, db, entry); err != nil {
		return 0, err
	}
	return balanceOf(ctx, db, entry.UserID)
}

func appendTransaction(ctx context.Context, db execer, e TransactionEntry) error {
	if _, err := db.ExecContext(ctx, `
		INSERT INTO transactions (user_id, amount, description, type, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.UserID, e.Amount, e.Description, e.Type, e.Reference, toMillis(e.CreatedAt)); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func balanceOf(ctx context.Context, db execer, userID string) (int64, error) {
	var balance int64
	err := db.QueryRowContext(ctx, `SELECT balance FROM user_balances WHERE user_id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

func paymentIntent(ctx context.Context, db execer, paymentID string) (PaymentIntentRow, error) {
	var p PaymentIntentRow
	var processed int64
	var createdAt, updatedAt int64
	err := db.QueryRowContext(ctx, `
		SELECT payment_id, user_id, amount, status, balance_processed, created_at, updated_at
		FROM payment_intents
		WHERE payment_id = ?
	`, paymentID).Scan(&p.PaymentID, &p.UserID, &p.Amount, &p.Status, &processed, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PaymentIntentRow{}, fmt.Errorf("payment %s: %w", paymentID, ErrNotFound)
	}
	if err != nil {
		return PaymentIntentRow{}, fmt.Errorf("read payment %s: %w", paymentID, err)
	}
	p.BalanceProcessed = processed != 0
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return p, nil
}

func promo(ctx context.Context, db execer, code string) (PromoRow, error) {
	var p PromoRow
	var expiresAt sql.NullInt64
	var active int64
	err := db.QueryRowContext(ctx, `
		SELECT code, value, max_uses, current_uses, expires_at, is_active
		FROM promo_codes
		WHERE code = ?
	`, code).Scan(&p.Code, &p.Value, &p.MaxUses, &p.CurrentUses, &expiresAt, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return PromoRow{}, fmt.Errorf("promo %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return PromoRow{}, fmt.Errorf("read promo %s: %w", code, err)
	}
	p.ExpiresAt = fromNullMillis(expiresAt)
	p.IsActive = active != 0
	return p, nil
}
