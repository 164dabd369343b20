package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/sqrtlabs/dca-webapp/internal/chain/signer"
	apperr "github.com/sqrtlabs/dca-webapp/internal/errors"
	"github.com/sqrtlabs/dca-webapp/internal/registry"
)

// backend is the slice of ethclient the client depends on.
type backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Options struct {
	PollInterval       time.Duration
	ConfirmTimeout     time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
}

func DefaultOptions() Options {
	return Options{
		PollInterval:   2 * time.Second,
		ConfirmTimeout: 2 * time.Minute,
		GasMultiplier:  1.2,
	}
}

// Client wraps a JSON-RPC connection plus the server execution key. All
// submissions go through one instance so the shared key never races its own
// pending nonce.
type Client struct {
	rpc      backend
	closer   func()
	txSigner signer.Signer
	chainID  *big.Int
	opts     Options
	erc20    abi.ABI

	// serializes nonce fetch + broadcast for the shared signing key
	submitMu sync.Mutex
}

func Dial(ctx context.Context, rpcURL string, chainID int64, txSigner signer.Signer, opts Options) (*Client, error) {
	if strings.TrimSpace(rpcURL) == "" {
		return nil, apperr.New(apperr.KindInternal, "missing rpc url")
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindChainUnavailable, "connect rpc", err)
	}
	remote, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, apperr.Wrap(apperr.KindChainUnavailable, "read chain id", err)
	}
	if chainID != 0 && remote.Int64() != chainID {
		eth.Close()
		return nil, apperr.New(apperr.KindInternal, fmt.Sprintf("chain id mismatch: expected %d, rpc reports %d", chainID, remote.Int64()))
	}
	return newClient(eth, eth.Close, remote, txSigner, opts)
}

func newClient(rpc backend, closer func(), chainID *big.Int, txSigner signer.Signer, opts Options) (*Client, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 2 * time.Minute
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	erc20, err := abi.JSON(strings.NewReader(registry.ERC20MinimalABI))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "parse erc20 abi", err)
	}
	return &Client{
		rpc:      rpc,
		closer:   closer,
		txSigner: txSigner,
		chainID:  chainID,
		opts:     opts,
		erc20:    erc20,
	}, nil
}

func (c *Client) Close() {
	if c != nil && c.closer != nil {
		c.closer()
	}
}

func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

func (c *Client) SignerAddress() common.Address {
	if c.txSigner == nil {
		return common.Address{}
	}
	return c.txSigner.Address()
}

// Allowance reads token.allowance(owner, spender) with a read-only call.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := c.erc20.Pack("allowance", owner, spender)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "pack allowance call", err)
	}
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindChainUnavailable, "read allowance", err)
	}
	values, err := c.erc20.Unpack("allowance", out)
	if err != nil || len(values) != 1 {
		return nil, apperr.Wrap(apperr.KindChainUnavailable, "decode allowance result", err)
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, apperr.New(apperr.KindChainUnavailable, "allowance result is not uint256")
	}
	return amount, nil
}

// Submit builds, signs and broadcasts a transaction to the target contract.
// Once this returns a hash the transaction is live on the network and the
// caller must not re-submit for the same plan without reconciling.
func (c *Client) Submit(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if c.txSigner == nil {
		return common.Hash{}, apperr.New(apperr.KindInternal, "missing transaction signer")
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	from := c.txSigner.Address()
	msg := ethereum.CallMsg{From: from, To: &to, Data: data}

	gasLimit, err := c.rpc.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, wrapExecutionError("estimate gas", err)
	}
	gasLimit = uint64(float64(gasLimit) * c.opts.GasMultiplier)

	tipCap, err := c.resolveTipCap(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	header, err := c.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, apperr.Wrap(apperr.KindChainUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, c.opts.MaxFeeGwei)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := c.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, apperr.Wrap(apperr.KindChainUnavailable, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Data:      data,
	})
	signed, err := c.txSigner.SignTx(c.chainID, tx)
	if err != nil {
		return common.Hash{}, apperr.Wrap(apperr.KindInternal, "sign transaction", err)
	}
	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, apperr.Wrap(apperr.KindChainUnavailable, "broadcast transaction", err)
	}
	return signed.Hash(), nil
}

// AwaitReceipt polls for the receipt until it is mined or the confirmation
// timeout elapses. A mined-but-reverted receipt is returned alongside the
// ExecutionReverted error so callers can still inspect it.
func (c *Client) AwaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.rpc.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return receipt, nil
			}
			return receipt, apperr.New(apperr.KindExecutionReverted, "transaction reverted on-chain")
		}
		// Not-found and transient polling failures both mean "keep waiting
		// until the deadline".
		select {
		case <-waitCtx.Done():
			return nil, apperr.Wrap(apperr.KindConfirmationTimeout, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) resolveTipCap(ctx context.Context) (*big.Int, error) {
	if strings.TrimSpace(c.opts.MaxPriorityFeeGwei) != "" {
		v, err := parseGwei(c.opts.MaxPriorityFeeGwei)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "parse max priority fee", err)
		}
		return v, nil
	}
	tipCap, err := c.rpc.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "parse max fee", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, apperr.New(apperr.KindInternal, "max fee must be >= max priority fee")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}
