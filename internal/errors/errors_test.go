package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapPreservesKindThroughErrorChain(t *testing.T) {
	root := errors.New("connection refused")
	wrapped := fmt.Errorf("load plan: %w", Wrap(KindStorageUnavailable, "open database", root))

	typed, ok := As(wrapped)
	if !ok {
		t.Fatalf("expected typed error, got %T", wrapped)
	}
	if typed.Kind != KindStorageUnavailable {
		t.Fatalf("unexpected kind: %s", typed.Kind)
	}
	if !errors.Is(wrapped, root) {
		t.Fatal("expected cause to survive wrapping")
	}
}

func TestRetryableKindsArePreSubmissionOnly(t *testing.T) {
	retryable := []Kind{KindQuoteProviderError, KindChainUnavailable, KindStorageUnavailable}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Fatalf("expected %s to be retryable", k)
		}
	}
	notRetryable := []Kind{
		KindQuoteMalformed,
		KindExecutionReverted,
		KindConfirmationTimeout,
		KindInsufficientAllowance,
		KindStorageIntegrityError,
		KindAlreadyExecuted,
		KindPlanInactive,
		KindPlanNotFound,
	}
	for _, k := range notRetryable {
		if k.Retryable() {
			t.Fatalf("expected %s to not be retryable", k)
		}
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	if got := KindPlanNotFound.HTTPStatus(); got != http.StatusNotFound {
		t.Fatalf("plan_not_found status = %d", got)
	}
	if got := KindInsufficientAllowance.HTTPStatus(); got != http.StatusPaymentRequired {
		t.Fatalf("insufficient_allowance status = %d", got)
	}
	if got := Kind("something_new").HTTPStatus(); got != http.StatusInternalServerError {
		t.Fatalf("unknown kind status = %d", got)
	}
}

func TestKindOfUntypedError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Fatalf("expected internal kind, got %s", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("expected empty kind for nil, got %s", got)
	}
}
