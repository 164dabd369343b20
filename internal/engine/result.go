package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Result is a successful plan execution. Amounts come from the decoded
// SwapExecuted event; when the event could not be located the amounts are
// zero and NeedsReconciliation is set.
type Result struct {
	TxHash              common.Hash
	AmountOut           *big.Int
	FeeAmount           *big.Int
	NeedsReconciliation bool
}
