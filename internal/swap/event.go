package swap

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/sqrtlabs/dca-webapp/internal/registry"
)

// Protocol fee policy: the executor contract takes a fixed 3% of the input.
// The fee is derived here rather than read from the event's fee slot; if the
// contract's fee ever changes, this must change in lockstep.
const feePercent = 3

// DecodedSwap holds the authoritative amounts recovered from the confirmed
// transaction. When Found is false the log was missing from the receipt and
// the amounts are zero; the execution still happened and must be recorded
// for manual reconciliation.
type DecodedSwap struct {
	AmountIn  *big.Int
	AmountOut *big.Int
	FeeAmount *big.Int
	Recipient common.Address
	TokenOut  common.Address
	// RawFee is the fee slot as emitted, kept for reconciliation tooling.
	// The recorded fee is always the derived FeeAmount.
	RawFee *big.Int
	Found  bool
}

// Log layout of SwapExecuted:
//
//	topics[0]  event signature
//	topics[1]  user (indexed address, right-aligned in 32 bytes)
//	topics[2]  amountOut (indexed uint256)
//	data[0:32]    recipient (low 20 bytes)
//	data[32:64]   toToken (low 20 bytes)
//	data[64:96]   amountIn
//	data[96:128]  feeAmount
const (
	slotRecipient = 0
	slotTokenOut  = 1
	slotAmountIn  = 2
	slotRawFee    = 3
	slotSize      = 32
)

// DecodeSwapExecuted locates the SwapExecuted log emitted by the executor
// contract in the receipt and extracts the swap amounts.
func DecodeSwapExecuted(receipt *types.Receipt, executor common.Address) DecodedSwap {
	zero := DecodedSwap{
		AmountIn:  new(big.Int),
		AmountOut: new(big.Int),
		FeeAmount: new(big.Int),
		RawFee:    new(big.Int),
	}
	if receipt == nil {
		return zero
	}
	topic := common.HexToHash(registry.SwapExecutedTopic)
	for _, log := range receipt.Logs {
		if log == nil || log.Address != executor {
			continue
		}
		if len(log.Topics) < 3 || log.Topics[0] != topic {
			continue
		}
		if len(log.Data) < (slotAmountIn+1)*slotSize {
			continue
		}
		decoded := DecodedSwap{
			AmountOut: new(big.Int).SetBytes(log.Topics[2].Bytes()),
			AmountIn:  new(big.Int).SetBytes(dataSlot(log.Data, slotAmountIn)),
			Recipient: common.BytesToAddress(dataSlot(log.Data, slotRecipient)),
			TokenOut:  common.BytesToAddress(dataSlot(log.Data, slotTokenOut)),
			RawFee:    new(big.Int),
			Found:     true,
		}
		if len(log.Data) >= (slotRawFee+1)*slotSize {
			decoded.RawFee = new(big.Int).SetBytes(dataSlot(log.Data, slotRawFee))
		}
		decoded.FeeAmount = DeriveFee(decoded.AmountIn)
		return decoded
	}
	return zero
}

// DeriveFee computes floor(amountIn * 3 / 100).
func DeriveFee(amountIn *big.Int) *big.Int {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(amountIn, big.NewInt(feePercent))
	return fee.Div(fee, big.NewInt(100))
}

func dataSlot(data []byte, slot int) []byte {
	return data[slot*slotSize : (slot+1)*slotSize]
}
