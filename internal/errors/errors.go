package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, machine-readable error classification. Operational
// tooling keys off it to decide whether a failed execution attempt can be
// replayed as-is or needs a chain-state reconciliation first.
type Kind string

const (
	KindInternal Kind = "internal"

	// Validation failures. No external call has been made yet.
	KindPlanNotFound    Kind = "plan_not_found"
	KindAlreadyExecuted Kind = "already_executed"
	KindPlanInactive    Kind = "plan_inactive"
	KindBadRequest      Kind = "bad_request"

	// Pre-submission failures. Nothing moved on-chain.
	KindInsufficientAllowance Kind = "insufficient_allowance"
	KindQuoteProviderError    Kind = "quote_provider_error"
	KindQuoteMalformed        Kind = "quote_malformed"
	KindChainUnavailable      Kind = "chain_unavailable"

	// At-or-post-submission failures. A transaction may exist on-chain;
	// callers must reconcile before submitting again.
	KindExecutionReverted   Kind = "execution_reverted"
	KindConfirmationTimeout Kind = "confirmation_timeout"

	// Storage failures.
	KindStorageUnavailable    Kind = "storage_unavailable"
	KindStorageIntegrityError Kind = "storage_integrity_error"
)

// retryableKinds are safe to retry with a fresh engine invocation: they are
// raised before any transaction is broadcast, or (for storage) the commit is
// idempotent on tx hash.
var retryableKinds = map[Kind]bool{
	KindQuoteProviderError: true,
	KindChainUnavailable:   true,
	KindStorageUnavailable: true,
}

var httpStatusByKind = map[Kind]int{
	KindInternal:              http.StatusInternalServerError,
	KindBadRequest:            http.StatusBadRequest,
	KindPlanNotFound:          http.StatusNotFound,
	KindAlreadyExecuted:       http.StatusConflict,
	KindPlanInactive:          http.StatusConflict,
	KindInsufficientAllowance: http.StatusPaymentRequired,
	KindQuoteProviderError:    http.StatusBadGateway,
	KindQuoteMalformed:        http.StatusBadGateway,
	KindChainUnavailable:      http.StatusServiceUnavailable,
	KindExecutionReverted:     http.StatusBadGateway,
	KindConfirmationTimeout:   http.StatusGatewayTimeout,
	KindStorageUnavailable:    http.StatusServiceUnavailable,
	KindStorageIntegrityError: http.StatusInternalServerError,
}

// Retryable reports whether a failed attempt with this kind may be replayed
// without first checking chain state.
func (k Kind) Retryable() bool { return retryableKinds[k] }

// HTTPStatus maps the kind to the status the API layer responds with.
func (k Kind) HTTPStatus() int {
	if s, ok := httpStatusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a typed engine error carrying a stable kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf returns the kind carried by err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if typed, ok := As(err); ok {
		return typed.Kind
	}
	return KindInternal
}
