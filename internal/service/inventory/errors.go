package inventory

import "github.com/kirinyoku/tix-checkout/internal/apperr"

var (
	ErrEventNotFound         = apperr.New(apperr.NotFound, "event not found")
	ErrInsufficientInventory = apperr.New(apperr.InvalidState, "not enough tickets available")
	ErrInvalidQuantity       = apperr.New(apperr.Validation, "quantity must be positive")
)
