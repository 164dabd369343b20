package swap

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	apperr "github.com/sqrtlabs/dca-webapp/internal/errors"
	"github.com/sqrtlabs/dca-webapp/internal/registry"
)

// Chain is the transaction surface the executor needs. *chain.Client
// satisfies it.
type Chain interface {
	Submit(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
	AwaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Order is one swap to run through the forwarding contract.
type Order struct {
	User      common.Address
	TokenOut  common.Address
	Recipient common.Address
	AmountIn  *big.Int
	// Native selects the executeNativeSwap entry point, used when the
	// destination is a wrapped native token that must be unwrapped on
	// delivery.
	Native bool
}

// Executor owns the forwarding-contract interaction: entry-point selection,
// submission and confirmation. It never checks allowances; the engine does
// that before a quote is ever requested.
type Executor struct {
	chain    Chain
	contract common.Address
	abi      abi.ABI
}

func NewExecutor(chainClient Chain, contract common.Address) (*Executor, error) {
	parsed, err := abi.JSON(strings.NewReader(registry.DCAExecutorABI))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "parse executor abi", err)
	}
	return &Executor{chain: chainClient, contract: contract, abi: parsed}, nil
}

func (e *Executor) Contract() common.Address { return e.contract }

// Calldata packs the entry-point call without submitting it.
func (e *Executor) Calldata(order Order, swapData []byte) ([]byte, error) {
	method := "executeSwap"
	if order.Native {
		method = "executeNativeSwap"
	}
	data, err := e.abi.Pack(method, order.User, order.TokenOut, order.Recipient, order.AmountIn, swapData)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "pack "+method+" call", err)
	}
	return data, nil
}

// Execute submits the swap and waits for confirmation. Once Submit returns,
// funds are in motion: any error after that point still carries the tx hash
// so the caller can record what happened on-chain.
func (e *Executor) Execute(ctx context.Context, order Order, swapData []byte) (common.Hash, *types.Receipt, error) {
	if order.AmountIn == nil || order.AmountIn.Sign() <= 0 {
		return common.Hash{}, nil, apperr.New(apperr.KindInternal, "swap amount must be positive")
	}
	data, err := e.Calldata(order, swapData)
	if err != nil {
		return common.Hash{}, nil, err
	}
	txHash, err := e.chain.Submit(ctx, e.contract, data)
	if err != nil {
		return common.Hash{}, nil, err
	}
	receipt, err := e.chain.AwaitReceipt(ctx, txHash)
	return txHash, receipt, err
}
