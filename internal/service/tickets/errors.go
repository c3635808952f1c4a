package tickets

import "github.com/kirinyoku/tix-checkout/internal/apperr"

var (
	ErrOrderNotFound    = apperr.New(apperr.NotFound, "order not found")
	ErrOrderNotPaid     = apperr.New(apperr.InvalidState, "order is not paid")
	ErrTicketNotFound   = apperr.New(apperr.NotFound, "ticket not found")
	ErrTicketNotActive  = apperr.New(apperr.InvalidState, "ticket is not active")
	ErrAlreadyCheckedIn = apperr.New(apperr.Conflict, "ticket already checked in")
	ErrInvalidBatch     = apperr.New(apperr.Validation, "ticket batch must contain between 1 and 500 ids")
	ErrMissingOperator  = apperr.New(apperr.Validation, "operator is required")
	ErrRenderingFailed  = apperr.New(apperr.Unavailable, "ticket rendering failed")
)
