package admin

import "github.com/kirinyoku/tix-checkout/internal/apperr"

var (
	ErrInvalidEvent        = apperr.New(apperr.Validation, "event needs a title, a positive quota, a non-negative price and ends after it starts")
	ErrEventConflict       = apperr.New(apperr.Conflict, "event already exists")
	ErrEventNotFound       = apperr.New(apperr.NotFound, "event not found")
	ErrEventNotPublishable = apperr.New(apperr.InvalidState, "only draft events can be published")
)
