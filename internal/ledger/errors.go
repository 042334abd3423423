package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance is returned by Debit when the balance does
	// not cover the amount. Nothing was changed.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidAmount is returned for non-positive or sub-cent amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrMissingID is returned when a user or payment id is empty.
	ErrMissingID = errors.New("id is required")

	// ErrPaymentNotFound is returned for an unknown payment id.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrPaymentMismatch is returned when a payment id is reused with a
	// different user or amount.
	ErrPaymentMismatch = errors.New("payment does not match intent")

	// ErrInvalidTransition is returned when failing or cancelling a
	// payment that is no longer pending.
	ErrInvalidTransition = errors.New("invalid payment transition")
)

// PromoErrorCode categorizes promo rejections.
type PromoErrorCode string

const (
	PromoNotFound        PromoErrorCode = "PROMO_NOT_FOUND"
	PromoInactive        PromoErrorCode = "PROMO_INACTIVE"
	PromoExpired         PromoErrorCode = "PROMO_EXPIRED"
	PromoExhausted       PromoErrorCode = "PROMO_EXHAUSTED"
	PromoAlreadyRedeemed PromoErrorCode = "PROMO_ALREADY_REDEEMED"
)

// PromoError is a redemption rejection meant to be shown to the user.
type PromoError struct {
	Code    PromoErrorCode
	Promo   string
	Message string
}

// Error implements the error interface.
func (e *PromoError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// PromoErrorCodeOf returns the code of a *PromoError in err's chain,
// or "" if there is none.
func PromoErrorCodeOf(err error) PromoErrorCode {
	var pe *PromoError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func newPromoError(code PromoErrorCode, promo string) *PromoError {
	var msg string
	switch code {
	case PromoNotFound:
		msg = "promo code does not exist"
	case PromoInactive:
		msg = "promo code is not active"
	case PromoExpired:
		msg = "promo code has expired"
	case PromoExhausted:
		msg = "promo code has reached its usage limit"
	case PromoAlreadyRedeemed:
		msg = "promo code already redeemed"
	}
	return &PromoError{Code: code, Promo: promo, Message: msg}
}
