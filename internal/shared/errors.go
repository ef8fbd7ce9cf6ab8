package shared

import (
	"errors"

	"github.com/scanstock/scanstock/internal/ledger"
)

// UserSafeMessage converts a domain error into a message safe to show to an
// API consumer without leaking storage details.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ledger.ErrNotFound):
		return "Record not found"
	case errors.Is(err, ledger.ErrDuplicateKey):
		return "A record with this identifier already exists"
	case errors.Is(err, ledger.ErrNegativeStock):
		return "Insufficient stock for this operation"
	default:
		return "An unexpected error occurred"
	}
}
