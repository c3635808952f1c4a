package webhook

import "github.com/kirinyoku/tix-checkout/internal/apperr"

var (
	ErrAuthentication        = apperr.New(apperr.Authentication, "callback could not be authenticated")
	ErrPaymentNotFound       = apperr.New(apperr.NotFound, "payment not found")
	ErrSimulationUnsupported = apperr.New(apperr.Validation, "payment simulation is only available in mock mode")
	ErrInvalidStatus         = apperr.New(apperr.Validation, "status must be PAID, EXPIRED or FAILED")
)
