package chain

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	apperr "github.com/sqrtlabs/dca-webapp/internal/errors"
)

type fakeBackend struct {
	allowance     *big.Int
	callErr       error
	nonce         uint64
	sent          []*types.Transaction
	sendErr       error
	receipts      []*types.Receipt
	receiptErr    error
	receiptCalls  int32
	notFoundUntil int32
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	return common.LeftPadBytes(f.allowance.Bytes(), 32), nil
}

func (f *fakeBackend) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasTipCap(_ context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) HeaderByNumber(_ context.Context, _ *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(5_000_000_000), Number: big.NewInt(1)}, nil
}

func (f *fakeBackend) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	n := atomic.AddInt32(&f.receiptCalls, 1)
	if n <= f.notFoundUntil {
		return nil, ethereum.NotFound
	}
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if len(f.receipts) == 0 {
		return nil, ethereum.NotFound
	}
	return f.receipts[0], nil
}

type staticSigner struct{}

func (staticSigner) Address() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000aa")
}

func (staticSigner) SignTx(_ *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}

func testClient(t *testing.T, backend *fakeBackend, opts Options) *Client {
	t.Helper()
	c, err := newClient(backend, nil, big.NewInt(8453), staticSigner{}, opts)
	if err != nil {
		t.Fatalf("newClient failed: %v", err)
	}
	return c
}

func TestAllowanceDecodesUint256(t *testing.T) {
	backend := &fakeBackend{allowance: big.NewInt(2_500_000)}
	c := testClient(t, backend, DefaultOptions())

	got, err := c.Allowance(context.Background(),
		common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x00000000000000000000000000000000000000ee"))
	if err != nil {
		t.Fatalf("Allowance failed: %v", err)
	}
	if got.Int64() != 2_500_000 {
		t.Fatalf("allowance = %s", got)
	}
}

func TestAllowanceRPCFailureIsChainUnavailable(t *testing.T) {
	backend := &fakeBackend{allowance: big.NewInt(0), callErr: context.DeadlineExceeded}
	c := testClient(t, backend, DefaultOptions())

	_, err := c.Allowance(context.Background(), common.Address{}, common.Address{}, common.Address{})
	typed, ok := apperr.As(err)
	if !ok || typed.Kind != apperr.KindChainUnavailable {
		t.Fatalf("expected chain_unavailable, got %v", err)
	}
}

func TestSubmitBroadcastsSignedDynamicFeeTx(t *testing.T) {
	backend := &fakeBackend{nonce: 7}
	c := testClient(t, backend, DefaultOptions())

	to := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	hash, err := c.Submit(context.Background(), to, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if hash == (common.Hash{}) {
		t.Fatal("expected non-zero tx hash")
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(backend.sent))
	}
	tx := backend.sent[0]
	if tx.Nonce() != 7 {
		t.Fatalf("nonce = %d", tx.Nonce())
	}
	if tx.To() == nil || *tx.To() != to {
		t.Fatalf("target = %v", tx.To())
	}
	if tx.Gas() != 120_000 { // 100k estimate * 1.2 multiplier
		t.Fatalf("gas limit = %d", tx.Gas())
	}
}

func TestSubmitBroadcastFailureIsChainUnavailable(t *testing.T) {
	backend := &fakeBackend{sendErr: context.DeadlineExceeded}
	c := testClient(t, backend, DefaultOptions())

	_, err := c.Submit(context.Background(), common.Address{}, []byte{0x01})
	typed, ok := apperr.As(err)
	if !ok || typed.Kind != apperr.KindChainUnavailable {
		t.Fatalf("expected chain_unavailable, got %v", err)
	}
}

func TestAwaitReceiptPollsUntilMined(t *testing.T) {
	backend := &fakeBackend{
		receipts:      []*types.Receipt{{Status: types.ReceiptStatusSuccessful}},
		notFoundUntil: 2,
	}
	opts := DefaultOptions()
	opts.PollInterval = 5 * time.Millisecond
	opts.ConfirmTimeout = time.Second
	c := testClient(t, backend, opts)

	receipt, err := c.AwaitReceipt(context.Background(), common.HexToHash("0x01"))
	if err != nil {
		t.Fatalf("AwaitReceipt failed: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		t.Fatalf("unexpected status %d", receipt.Status)
	}
	if atomic.LoadInt32(&backend.receiptCalls) < 3 {
		t.Fatalf("expected at least 3 poll attempts, got %d", backend.receiptCalls)
	}
}

func TestAwaitReceiptRevertedTransaction(t *testing.T) {
	backend := &fakeBackend{receipts: []*types.Receipt{{Status: types.ReceiptStatusFailed}}}
	opts := DefaultOptions()
	opts.PollInterval = 5 * time.Millisecond
	c := testClient(t, backend, opts)

	receipt, err := c.AwaitReceipt(context.Background(), common.HexToHash("0x01"))
	typed, ok := apperr.As(err)
	if !ok || typed.Kind != apperr.KindExecutionReverted {
		t.Fatalf("expected execution_reverted, got %v", err)
	}
	if receipt == nil {
		t.Fatal("reverted receipt must still be returned")
	}
}

func TestAwaitReceiptTimesOut(t *testing.T) {
	backend := &fakeBackend{notFoundUntil: 1 << 30}
	opts := DefaultOptions()
	opts.PollInterval = 5 * time.Millisecond
	opts.ConfirmTimeout = 30 * time.Millisecond
	c := testClient(t, backend, opts)

	_, err := c.AwaitReceipt(context.Background(), common.HexToHash("0x01"))
	typed, ok := apperr.As(err)
	if !ok || typed.Kind != apperr.KindConfirmationTimeout {
		t.Fatalf("expected confirmation_timeout, got %v", err)
	}
	if typed.Kind.Retryable() {
		t.Fatal("confirmation timeout must not be blindly retryable")
	}
}

func TestSubmitSerializesSharedSignerKey(t *testing.T) {
	backend := &fakeBackend{}
	c := testClient(t, backend, DefaultOptions())

	c.submitMu.Lock()
	done := make(chan struct{})
	go func() {
		_, _ = c.Submit(context.Background(), common.Address{}, []byte{0x01})
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("expected Submit to block while the submit lock is held")
	case <-time.After(30 * time.Millisecond):
	}
	c.submitMu.Unlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Submit to proceed after unlock")
	}
}
