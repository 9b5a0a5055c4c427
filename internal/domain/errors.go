package domain

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindNotFound
	KindConflict
	KindRateLimited
)

// Error is a domain failure with a stable numeric code. Callers add detail by
// wrapping: fmt.Errorf("%w: bead %s", domain.ErrUnknownSKU, id).
type Error struct {
	Code    int
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrInvalidInput          = &Error{Code: 40001, Kind: KindValidation, Message: "invalid input"}
	ErrUnknownSKU            = &Error{Code: 40002, Kind: KindValidation, Message: "unknown sku"}
	ErrAmountMismatch        = &Error{Code: 40003, Kind: KindValidation, Message: "amount mismatch, please refresh and retry"}
	ErrCouponThresholdNotMet = &Error{Code: 40004, Kind: KindValidation, Message: "coupon minimum amount not met"}
	ErrAddressNotFound       = &Error{Code: 40005, Kind: KindValidation, Message: "address not found"}
	ErrOrderNotFound         = &Error{Code: 40401, Kind: KindNotFound, Message: "order not found"}
	ErrCouponNotFound        = &Error{Code: 40402, Kind: KindNotFound, Message: "coupon not found"}
	ErrNotificationNotFound  = &Error{Code: 40403, Kind: KindNotFound, Message: "notification not found"}
	ErrInsufficientStock     = &Error{Code: 40901, Kind: KindConflict, Message: "insufficient stock"}
	ErrCouponUnavailable     = &Error{Code: 40902, Kind: KindConflict, Message: "coupon locked or used"}
	ErrInsufficientPoints    = &Error{Code: 40903, Kind: KindConflict, Message: "insufficient points"}
	ErrIllegalTransition     = &Error{Code: 40904, Kind: KindConflict, Message: "illegal order status transition"}
	ErrNotCancellable        = &Error{Code: 40905, Kind: KindConflict, Message: "order cannot be cancelled"}
	ErrTooFrequent           = &Error{Code: 42901, Kind: KindRateLimited, Message: "too many orders, please try again later"}
)

// TransitionError reports a rejected status change along with the status the
// order actually had.
type TransitionError struct {
	Op   string
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot move order from %s to %s", e.Op, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	if e.Op == "cancel" {
		return ErrNotCancellable
	}
	return ErrIllegalTransition
}

// AsError extracts the domain error from err, if any.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
