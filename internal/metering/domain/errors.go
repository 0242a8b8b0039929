package domain

import (
	"context"
	"errors"
	"strings"

	entitlementdomain "github.com/smallbiznis/pawtrack/internal/entitlement/domain"
	ledgerdomain "github.com/smallbiznis/pawtrack/internal/ledger/domain"
	tokenaccountdomain "github.com/smallbiznis/pawtrack/internal/tokenaccount/domain"
)

// Kind classifies a metered write failure for callers and transports.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindUnauthenticated     Kind = "unauthenticated"
	KindForbidden           Kind = "forbidden"
	KindNotFound            Kind = "not_found"
	KindUpgradeRequired     Kind = "upgrade_required"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindDuplicateRequest    Kind = "duplicate_request"
	KindRateLimited         Kind = "rate_limited"
	KindTransactionFailure  Kind = "transaction_failure"
	KindUnknown             Kind = "unknown"
)

var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not_found")
	ErrValidation          = errors.New("validation_error")
	ErrTransactionFailure  = errors.New("transaction_failure")
	ErrRateLimited         = errors.New("rate_limited")
	ErrUpgradeRequired     = entitlementdomain.ErrUpgradeRequired
	ErrInsufficientBalance = tokenaccountdomain.ErrInsufficientBalance
	ErrDuplicateRequest    = ledgerdomain.ErrDuplicateRequest
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists the request fields that are missing or malformed.
type ValidationError struct {
	Fields []FieldError
}

func NewValidationError(fields ...FieldError) *ValidationError {
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Add appends a field error and returns the receiver for chaining.
func (e *ValidationError) Add(field, message string) *ValidationError {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
	return e
}

// ErrOrNil returns nil when no field errors were collected.
func (e *ValidationError) ErrOrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Classify maps err onto the failure taxonomy. Order matters: a transaction
// failure may wrap a deadline and must still classify as a transaction failure.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUpgradeRequired):
		return KindUpgradeRequired
	case errors.Is(err, ErrInsufficientBalance):
		return KindInsufficientBalance
	case errors.Is(err, ErrDuplicateRequest):
		return KindDuplicateRequest
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrTransactionFailure), errors.Is(err, context.DeadlineExceeded):
		return KindTransactionFailure
	default:
		return KindUnknown
	}
}

// Expected reports whether err is a user-facing outcome rather than a fault.
func Expected(err error) bool {
	switch Classify(err) {
	case KindTransactionFailure, KindUnknown, "":
		return false
	default:
		return true
	}
}
