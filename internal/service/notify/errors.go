package notify

import "github.com/kirinyoku/tix-checkout/internal/apperr"

var ErrNotificationNotFound = apperr.New(apperr.NotFound, "notification not found")
