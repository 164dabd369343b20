package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	apperr "github.com/sqrtlabs/dca-webapp/internal/errors"
)

// Error(string) selector emitted by solidity require/revert with a reason.
var errorStringSelector = common.FromHex("0x08c379a0")

type dataError interface {
	Error() string
	ErrorData() interface{}
}

// wrapExecutionError classifies an RPC failure from a simulation or gas
// estimate. A decodable revert means the transaction would fail on-chain;
// anything else is a node availability problem.
func wrapExecutionError(message string, err error) error {
	if reason := decodeRevertFromError(err); reason != "" {
		return apperr.Wrap(apperr.KindExecutionReverted, fmt.Sprintf("%s: revert: %s", message, reason), err)
	}
	return apperr.Wrap(apperr.KindChainUnavailable, message, err)
}

// decodeRevertFromError pulls ABI-encoded revert data off an RPC error, when
// the node attaches it via the ErrorData extension.
func decodeRevertFromError(err error) string {
	var de dataError
	if !errorsAs(err, &de) {
		return ""
	}
	raw, ok := de.ErrorData().(string)
	if !ok || !strings.HasPrefix(raw, "0x") {
		return ""
	}
	return decodeRevertData(common.FromHex(raw))
}

// decodeRevertData renders revert payload bytes as a human-readable reason.
// Standard Error(string) payloads are decoded; unknown custom errors are
// reported by their 4-byte selector.
func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	selector := data[:4]
	if string(selector) == string(errorStringSelector) {
		stringTy, err := abi.NewType("string", "", nil)
		if err != nil {
			return ""
		}
		args := abi.Arguments{{Type: stringTy}}
		values, err := args.Unpack(data[4:])
		if err == nil && len(values) == 1 {
			if reason, ok := values[0].(string); ok {
				return reason
			}
		}
		return ""
	}
	return fmt.Sprintf("custom error %s", hexutil.Encode(selector))
}

func errorsAs(err error, target *dataError) bool {
	for err != nil {
		if de, ok := err.(dataError); ok {
			*target = de
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
