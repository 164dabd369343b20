package engine

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	apperr "github.com/sqrtlabs/dca-webapp/internal/errors"
	"github.com/sqrtlabs/dca-webapp/internal/quote"
	"github.com/sqrtlabs/dca-webapp/internal/store"
	"github.com/sqrtlabs/dca-webapp/internal/swap"
)

// Chain is the read surface the engine needs before anything moves on-chain.
type Chain interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// QuoteProvider supplies executable swap calldata.
type QuoteProvider interface {
	SwapInstructions(ctx context.Context, req quote.Request) ([]byte, error)
}

// SwapExecutor submits the swap and waits for its receipt.
type SwapExecutor interface {
	Contract() common.Address
	Execute(ctx context.Context, order swap.Order, swapData []byte) (common.Hash, *types.Receipt, error)
}

// Store is the durable side of an execution.
type Store interface {
	PlanByHash(ctx context.Context, planHash string) (store.Plan, error)
	TokenByAddress(ctx context.Context, address string) (store.Token, error)
	CommitExecution(ctx context.Context, exec store.Execution) error
}

// Engine runs one plan execution end to end: validate, check allowance,
// quote, submit, confirm, decode, record. It is stateless between
// invocations; everything durable lives in the store and on-chain.
type Engine struct {
	store      Store
	chain      Chain
	quotes     QuoteProvider
	executor   SwapExecutor
	stablecoin common.Address
	log        *zap.Logger
	now        func() time.Time

	mu        sync.Mutex
	planLocks map[string]*sync.Mutex
}

func New(st Store, chain Chain, quotes QuoteProvider, executor SwapExecutor, stablecoin common.Address, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:      st,
		chain:      chain,
		quotes:     quotes,
		executor:   executor,
		stablecoin: stablecoin,
		log:        log,
		now:        time.Now,
		planLocks:  make(map[string]*sync.Mutex),
	}
}

// planLock serializes executions of the same plan. Two overlapping runs
// could both pass the allowance check before either submits; the lock makes
// the second run see the first run's committed state instead.
func (e *Engine) planLock(planHash string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.planLocks[planHash]
	if !ok {
		l = &sync.Mutex{}
		e.planLocks[planHash] = l
	}
	return l
}

// ExecutePlan runs the initial investment for a plan. On success the
// execution is durably recorded and the plan's last_executed_at is advanced
// in the same transaction. After submission any failure still returns the
// transaction hash inside Result so the caller can reconcile.
func (e *Engine) ExecutePlan(ctx context.Context, planHash string) (Result, error) {
	lock := e.planLock(planHash)
	lock.Lock()
	defer lock.Unlock()

	log := e.log.With(zap.String("plan_hash", planHash))

	plan, err := e.store.PlanByHash(ctx, planHash)
	if err != nil {
		return Result{}, err
	}
	if plan.DeletedAt != 0 {
		return Result{}, apperr.New(apperr.KindPlanNotFound, "plan has been deleted")
	}
	if plan.LastExecutedAt != 0 {
		return Result{}, apperr.New(apperr.KindAlreadyExecuted, "initial investment already executed")
	}
	if !plan.Active {
		return Result{}, apperr.New(apperr.KindPlanInactive, "plan is not active")
	}

	token, err := e.store.TokenByAddress(ctx, plan.TokenOutAddress)
	if err != nil {
		return Result{}, err
	}

	user := common.HexToAddress(plan.UserWallet)
	contract := e.executor.Contract()

	allowance, err := e.chain.Allowance(ctx, e.stablecoin, user, contract)
	if err != nil {
		return Result{}, err
	}
	if allowance.Cmp(plan.AmountIn) < 0 {
		log.Info("allowance below plan amount",
			zap.String("allowance", allowance.String()),
			zap.String("amount_in", plan.AmountIn.String()))
		return Result{}, apperr.New(apperr.KindInsufficientAllowance, "allowance below plan amount")
	}

	swapData, err := e.quotes.SwapInstructions(ctx, quote.Request{
		SellToken:  e.stablecoin,
		BuyToken:   common.HexToAddress(plan.TokenOutAddress),
		SellAmount: plan.AmountIn,
		Taker:      contract,
	})
	if err != nil {
		return Result{}, err
	}

	order := swap.Order{
		User:      user,
		TokenOut:  common.HexToAddress(plan.TokenOutAddress),
		Recipient: common.HexToAddress(plan.Recipient),
		AmountIn:  plan.AmountIn,
		Native:    token.IsWrapped,
	}
	txHash, receipt, err := e.executor.Execute(ctx, order, swapData)
	if err != nil {
		// A revert or a confirmation timeout leaves a transaction on-chain
		// that did not settle a swap; nothing is recorded, and the hash is
		// surfaced for reconciliation.
		if txHash != (common.Hash{}) {
			log.Warn("swap did not settle",
				zap.String("tx_hash", txHash.Hex()), zap.Error(err))
			return Result{TxHash: txHash}, err
		}
		return Result{}, err
	}

	decoded := swap.DecodeSwapExecuted(receipt, contract)
	if !decoded.Found {
		log.Warn("swap confirmed but SwapExecuted log not found",
			zap.String("tx_hash", txHash.Hex()))
	}

	exec := store.Execution{
		TxHash:              txHash.Hex(),
		PlanHash:            planHash,
		AmountIn:            decoded.AmountIn,
		AmountOut:           decoded.AmountOut,
		FeeAmount:           decoded.FeeAmount,
		TokenOutAddress:     plan.TokenOutAddress,
		ExecutedAt:          e.now().UTC().Unix(),
		NeedsReconciliation: !decoded.Found,
	}
	if err := e.store.CommitExecution(ctx, exec); err != nil {
		log.Error("swap settled but record commit failed",
			zap.String("tx_hash", txHash.Hex()), zap.Error(err))
		return Result{TxHash: txHash}, err
	}

	log.Info("plan executed",
		zap.String("tx_hash", txHash.Hex()),
		zap.String("amount_out", decoded.AmountOut.String()),
		zap.String("fee_amount", decoded.FeeAmount.String()),
		zap.Bool("needs_reconciliation", !decoded.Found))
	return Result{
		TxHash:              txHash,
		AmountOut:           decoded.AmountOut,
		FeeAmount:           decoded.FeeAmount,
		NeedsReconciliation: !decoded.Found,
	}, nil
}
