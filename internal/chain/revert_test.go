package chain

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	apperr "github.com/sqrtlabs/dca-webapp/internal/errors"
)

type testRPCDataError struct {
	msg  string
	data any
}

func (e testRPCDataError) Error() string { return e.msg }

func (e testRPCDataError) ErrorData() interface{} { return e.data }

func encodeErrorString(t *testing.T, reason string) []byte {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("create abi string type: %v", err)
	}
	args := abi.Arguments{{Type: stringTy}}
	encoded, err := args.Pack(reason)
	if err != nil {
		t.Fatalf("pack revert reason: %v", err)
	}
	return append(common.FromHex("0x08c379a0"), encoded...)
}

func TestDecodeRevertDataReasonString(t *testing.T) {
	revertData := encodeErrorString(t, "slippage too high")
	if reason := decodeRevertData(revertData); reason != "slippage too high" {
		t.Fatalf("expected decoded revert reason, got %q", reason)
	}
}

func TestDecodeRevertDataCustomErrorSelector(t *testing.T) {
	revertData := common.FromHex("0x12345678")
	reason := decodeRevertData(revertData)
	if !strings.Contains(reason, "0x12345678") {
		t.Fatalf("expected custom error selector in reason, got %q", reason)
	}
}

func TestDecodeRevertFromErrorWithDataError(t *testing.T) {
	revertData := encodeErrorString(t, "insufficient output amount")
	err := testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(revertData),
	}
	if reason := decodeRevertFromError(err); reason != "insufficient output amount" {
		t.Fatalf("unexpected decoded reason: %q", reason)
	}
}

func TestWrapExecutionErrorClassifiesRevert(t *testing.T) {
	revertData := encodeErrorString(t, "allowance consumed")
	rootErr := testRPCDataError{
		msg:  "execution reverted",
		data: "0x" + common.Bytes2Hex(revertData),
	}
	wrapped := wrapExecutionError("estimate gas", rootErr)
	typed, ok := apperr.As(wrapped)
	if !ok || typed.Kind != apperr.KindExecutionReverted {
		t.Fatalf("expected execution_reverted, got %v", wrapped)
	}
	if !strings.Contains(typed.Error(), "allowance consumed") {
		t.Fatalf("expected decoded reason in message, got %v", typed)
	}
}

func TestWrapExecutionErrorPlainFailureIsUnavailable(t *testing.T) {
	wrapped := wrapExecutionError("estimate gas", errors.New("connection refused"))
	typed, ok := apperr.As(wrapped)
	if !ok || typed.Kind != apperr.KindChainUnavailable {
		t.Fatalf("expected chain_unavailable, got %v", wrapped)
	}
	if !typed.Kind.Retryable() {
		t.Fatal("expected chain_unavailable to be retryable")
	}
}
