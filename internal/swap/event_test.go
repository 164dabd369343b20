package swap

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/sqrtlabs/dca-webapp/internal/registry"
)

var (
	testExecutor  = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	testUser      = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testRecipient = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testTokenOut  = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func swapLog(t *testing.T, emitter common.Address, amountIn, amountOut, rawFee *big.Int) *types.Log {
	t.Helper()
	data := make([]byte, 0, 4*32)
	data = append(data, common.LeftPadBytes(testRecipient.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(testTokenOut.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amountIn.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(rawFee.Bytes(), 32)...)
	return &types.Log{
		Address: emitter,
		Topics: []common.Hash{
			common.HexToHash(registry.SwapExecutedTopic),
			common.BytesToHash(common.LeftPadBytes(testUser.Bytes(), 32)),
			common.BytesToHash(common.LeftPadBytes(amountOut.Bytes(), 32)),
		},
		Data: data,
	}
}

func TestDecodeSwapExecutedExtractsAmounts(t *testing.T) {
	amountIn := big.NewInt(1_000_000) // 1 USDC, 6 decimals
	amountOut, _ := new(big.Int).SetString("500000000000000000", 10)
	rawFee := big.NewInt(99_999) // contract-emitted value is ignored for the recorded fee

	receipt := &types.Receipt{Logs: []*types.Log{
		{Address: common.HexToAddress("0x4444444444444444444444444444444444444444")}, // unrelated log
		swapLog(t, testExecutor, amountIn, amountOut, rawFee),
	}}

	decoded := DecodeSwapExecuted(receipt, testExecutor)
	if !decoded.Found {
		t.Fatal("expected log to be found")
	}
	if decoded.AmountIn.Cmp(amountIn) != 0 {
		t.Fatalf("amountIn = %s", decoded.AmountIn)
	}
	if decoded.AmountOut.Cmp(amountOut) != 0 {
		t.Fatalf("amountOut = %s", decoded.AmountOut)
	}
	if decoded.FeeAmount.Cmp(big.NewInt(30_000)) != 0 {
		t.Fatalf("expected derived fee 30000, got %s", decoded.FeeAmount)
	}
	if decoded.RawFee.Cmp(rawFee) != 0 {
		t.Fatalf("rawFee = %s", decoded.RawFee)
	}
	if decoded.Recipient != testRecipient {
		t.Fatalf("recipient = %s", decoded.Recipient)
	}
	if decoded.TokenOut != testTokenOut {
		t.Fatalf("tokenOut = %s", decoded.TokenOut)
	}
}

func TestDecodeSwapExecutedIgnoresOtherEmitters(t *testing.T) {
	other := common.HexToAddress("0x5555555555555555555555555555555555555555")
	receipt := &types.Receipt{Logs: []*types.Log{
		swapLog(t, other, big.NewInt(1_000_000), big.NewInt(5), big.NewInt(0)),
	}}

	decoded := DecodeSwapExecuted(receipt, testExecutor)
	if decoded.Found {
		t.Fatal("expected no match for a foreign emitter")
	}
	if decoded.AmountOut.Sign() != 0 || decoded.FeeAmount.Sign() != 0 {
		t.Fatalf("expected zeroed amounts, got out=%s fee=%s", decoded.AmountOut, decoded.FeeAmount)
	}
}

func TestDecodeSwapExecutedShortDataSkipped(t *testing.T) {
	log := swapLog(t, testExecutor, big.NewInt(1), big.NewInt(1), big.NewInt(0))
	log.Data = log.Data[:64] // truncate below the amountIn slot
	decoded := DecodeSwapExecuted(&types.Receipt{Logs: []*types.Log{log}}, testExecutor)
	if decoded.Found {
		t.Fatal("expected truncated log to be skipped")
	}
}

func TestDecodeSwapExecutedFewTopicsSkipped(t *testing.T) {
	log := swapLog(t, testExecutor, big.NewInt(1), big.NewInt(1), big.NewInt(0))
	log.Topics = log.Topics[:2]
	decoded := DecodeSwapExecuted(&types.Receipt{Logs: []*types.Log{log}}, testExecutor)
	if decoded.Found {
		t.Fatal("expected log with missing topics to be skipped")
	}
}

func TestDecodeSwapExecutedNilReceipt(t *testing.T) {
	decoded := DecodeSwapExecuted(nil, testExecutor)
	if decoded.Found || decoded.AmountOut.Sign() != 0 {
		t.Fatal("expected zero result for nil receipt")
	}
}

func TestDeriveFeeIsThreePercentFloor(t *testing.T) {
	cases := []struct {
		in   int64
		want int64
	}{
		{1_000_000, 30_000},
		{100, 3},
		{33, 0},  // floor(33*3/100) = 0
		{34, 1},  // floor(34*3/100) = 1
		{99, 2},  // floor(99*3/100) = 2
		{1, 0},
		{0, 0},
	}
	for _, tc := range cases {
		got := DeriveFee(big.NewInt(tc.in))
		if got.Int64() != tc.want {
			t.Fatalf("DeriveFee(%d) = %s, want %d", tc.in, got, tc.want)
		}
	}
}

func TestDeriveFeeBounds(t *testing.T) {
	for _, in := range []int64{1, 7, 50, 99, 100, 12345, 1_000_000, 999_999_999} {
		amountIn := big.NewInt(in)
		fee := DeriveFee(amountIn)
		if fee.Sign() < 0 {
			t.Fatalf("negative fee for %d", in)
		}
		// fee <= amountIn * 3 / 100 exactly, never rounded up
		upper := new(big.Int).Mul(amountIn, big.NewInt(3))
		upper.Div(upper, big.NewInt(100))
		if fee.Cmp(upper) > 0 {
			t.Fatalf("fee %s exceeds bound %s for input %d", fee, upper, in)
		}
	}
}
