// README: Order engine error taxonomy and its stable kind labels.
package order

import (
	"context"
	"errors"
	"fmt"

	"drop/internal/modules/earnings"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrRiderNotFound     = fmt.Errorf("%w: rider", ErrNotFound)
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidState is the claim-path rejection: the order is not READY_FOR_PICKUP.
	ErrInvalidState    = fmt.Errorf("%w: order not claimable", ErrInvalidTransition)
	ErrAlreadyAssigned = errors.New("order already assigned")
	ErrNotAuthorized   = errors.New("actor may not act on this order")
	ErrDuplicate       = errors.New("order number already exists")
	ErrBadRequest      = errors.New("bad request")
)

const (
	KindNotFound          = "not_found"
	KindInvalidTransition = "invalid_transition"
	KindAlreadyAssigned   = "already_assigned"
	KindNotAuthorized     = "not_authorized"
	KindDuplicate         = "duplicate"
	KindBadRequest        = "bad_request"
	KindTimeout           = "timeout"
	KindCanceled          = "canceled"
	KindInternal          = "internal"
)

// Kind maps err to a label for logs, metrics and transport status codes. A nil error has no kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound), errors.Is(err, earnings.ErrRiderNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrAlreadyAssigned):
		return KindAlreadyAssigned
	case errors.Is(err, ErrNotAuthorized):
		return KindNotAuthorized
	case errors.Is(err, ErrDuplicate):
		return KindDuplicate
	case errors.Is(err, ErrBadRequest):
		return KindBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindInternal
	}
}

func invalidTransition(from, to Status, role Role) error {
	return fmt.Errorf("%w: %s -> %s not allowed for %s", ErrInvalidTransition, from, to, role)
}
