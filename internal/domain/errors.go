package domain

import "errors"

var (
	ErrInvalidRecord      = errors.New("invalid record")
	ErrDuplicateProduct   = errors.New("duplicate product")
	ErrLedgerUnavailable  = errors.New("ledger unavailable")
	ErrLedgerTimeout      = errors.New("ledger timeout")
	ErrLedgerRejected     = errors.New("ledger rejected")
	ErrLedgerNotFound     = errors.New("ledger entry not found")
	ErrLedgerPending      = errors.New("ledger entry pending reconciliation")
	ErrSigningUnavailable = errors.New("signing unavailable")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrUnknownReference   = errors.New("unknown reference")
	ErrLedgerMismatch     = errors.New("ledger mismatch")
	ErrMalformedToken     = errors.New("malformed token")
	ErrPolicyDenied       = errors.New("policy denied")
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
)

// ErrorCode returns the stable machine-readable code for a domain error.
// Unknown errors map to INTERNAL.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRecord):
		return "INVALID_RECORD"
	case errors.Is(err, ErrDuplicateProduct):
		return "DUPLICATE_PRODUCT"
	case errors.Is(err, ErrLedgerUnavailable):
		return "LEDGER_UNAVAILABLE"
	case errors.Is(err, ErrLedgerTimeout):
		return "LEDGER_TIMEOUT"
	case errors.Is(err, ErrLedgerRejected):
		return "LEDGER_REJECTED"
	case errors.Is(err, ErrLedgerPending):
		return "LEDGER_PENDING"
	case errors.Is(err, ErrSigningUnavailable):
		return "SIGNING_UNAVAILABLE"
	case errors.Is(err, ErrInvalidSignature):
		return "INVALID_SIGNATURE"
	case errors.Is(err, ErrUnknownReference):
		return "UNKNOWN_REFERENCE"
	case errors.Is(err, ErrLedgerMismatch):
		return "LEDGER_MISMATCH"
	case errors.Is(err, ErrMalformedToken):
		return "MALFORMED_TOKEN"
	case errors.Is(err, ErrPolicyDenied):
		return "POLICY_DENIED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	default:
		return "INTERNAL"
	}
}

// Retryable reports whether the caller may retry the operation with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrLedgerUnavailable) || errors.Is(err, ErrLedgerTimeout)
}
