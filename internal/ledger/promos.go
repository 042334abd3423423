package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/fandomvelocity/internal/metrics"
	"github.com/roach88/fandomvelocity/internal/store"
)

// PromoCode is a redeemable credit grant.
type PromoCode struct {
	Code        string          `json:"code"`
	Value       decimal.Decimal `json:"value"`
	MaxUses     int64           `json:"maxUses"` // 0 = unlimited
	CurrentUses int64           `json:"currentUses"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
	IsActive    bool            `json:"isActive"`
}

// Redemption is a successful promo redemption.
type Redemption struct {
	Code    string          `json:"code"`
	UserID  string          `json:"userId"`
	Value   decimal.Decimal `json:"value"`
	Balance decimal.Decimal `json:"balance"`
}

// NormalizeCode returns the canonical spelling of a promo code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreatePromo inserts or updates a promo definition. The usage count of
// an existing code is kept.
func (l *Ledger) CreatePromo(ctx context.Context, p PromoCode) error {
	code := NormalizeCode(p.Code)
	if code == "" {
		return fmt.Errorf("create promo: code is required")
	}
	cents, err := ToCents(p.Value)
	if err != nil {
		return fmt.Errorf("create promo %s: %w", code, err)
	}
	if p.MaxUses < 0 {
		return fmt.Errorf("create promo %s: max uses must not be negative", code)
	}

	return l.store.UpsertPromo(ctx, store.PromoRow{
		Code:      code,
		Value:     cents,
		MaxUses:   p.MaxUses,
		ExpiresAt: p.ExpiresAt,
		IsActive:  p.IsActive,
	})
}

// Promo returns a promo definition, or a PROMO_NOT_FOUND *PromoError.
func (l *Ledger) Promo(ctx context.Context, code string) (PromoCode, error) {
	code = NormalizeCode(code)
	row, err := l.store.GetPromo(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return PromoCode{}, newPromoError(PromoNotFound, code)
	}
	if err != nil {
		return PromoCode{}, err
	}
	return PromoCode{
		Code:        row.Code,
		Value:       FromCents(row.Value),
		MaxUses:     row.MaxUses,
		CurrentUses: row.CurrentUses,
		ExpiresAt:   row.ExpiresAt,
		IsActive:    row.IsActive,
	}, nil
}

// RedeemPromo credits the promo's value to userID.
//
// Rejections are returned as *PromoError; checks run in the order
// exists, active, not expired, not already redeemed by this user, uses
// remaining. A rejected redemption changes nothing.
func (l *Ledger) RedeemPromo(ctx context.Context, code, userID string) (Redemption, error) {
	code = NormalizeCode(code)
	if userID == "" {
		return Redemption{}, fmt.Errorf("redeem promo: user: %w", ErrMissingID)
	}

	entry := l.entry(userID, 0, TypePromo, "Promo code "+code, code)
	status, balance, err := l.store.RedeemPromo(ctx, code, entry)
	if err != nil {
		return Redemption{}, err
	}
	metrics.PromoRedemption(string(status))

	var rejection PromoErrorCode
	switch status {
	case store.RedeemApplied:
	case store.RedeemNotFound:
		rejection = PromoNotFound
	case store.RedeemInactive:
		rejection = PromoInactive
	case store.RedeemExpired:
		rejection = PromoExpired
	case store.RedeemAlreadyRedeemed:
		rejection = PromoAlreadyRedeemed
	case store.RedeemExhausted:
		rejection = PromoExhausted
	default:
		return Redemption{}, fmt.Errorf("redeem promo %s: unexpected status %q", code, status)
	}
	if rejection != "" {
		l.logger.Info("promo rejected", "code", code, "user_id", userID, "reason", string(rejection))
		return Redemption{}, newPromoError(rejection, code)
	}

	p, err := l.Promo(ctx, code)
	if err != nil {
		return Redemption{}, err
	}
	return Redemption{Code: code, UserID: userID, Value: p.Value, Balance: FromCents(balance)}, nil
}
