package quote

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	apperr "github.com/sqrtlabs/dca-webapp/internal/errors"
	"github.com/sqrtlabs/dca-webapp/internal/httpx"
)

const DefaultBaseURL = "https://api.0x.org"

// Client fetches executable swap calldata from the 0x allowance-holder API.
// The taker is always the forwarding contract, which holds custody of the
// input stablecoin for the duration of the swap.
type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	chainID int64
}

func New(httpClient *httpx.Client, baseURL, apiKey string, chainID int64) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		chainID: chainID,
	}
}

type quoteResponse struct {
	Transaction struct {
		To   string `json:"to"`
		Data string `json:"data"`
	} `json:"transaction"`
	BuyAmount string `json:"buyAmount"`
}

// Request describes one swap to quote. SellAmount is in the sell token's
// base units and must be positive.
type Request struct {
	SellToken  common.Address
	BuyToken   common.Address
	SellAmount *big.Int
	Taker      common.Address
}

// SwapInstructions fetches the calldata to forward to the executor contract.
func (c *Client) SwapInstructions(ctx context.Context, req Request) ([]byte, error) {
	if c.apiKey == "" {
		return nil, apperr.New(apperr.KindQuoteProviderError, "missing 0x api key")
	}
	if req.SellAmount == nil || req.SellAmount.Sign() <= 0 {
		return nil, apperr.New(apperr.KindInternal, "sell amount must be positive")
	}

	vals := url.Values{}
	vals.Set("sellToken", req.SellToken.Hex())
	vals.Set("buyToken", req.BuyToken.Hex())
	vals.Set("sellAmount", req.SellAmount.String())
	vals.Set("taker", req.Taker.Hex())
	vals.Set("chainId", strconv.FormatInt(c.chainID, 10))

	endpoint := fmt.Sprintf("%s/swap/allowance-holder/quote?%s", c.baseURL, vals.Encode())
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "build 0x quote request", err)
	}
	hReq.Header.Set("0x-api-key", c.apiKey)
	hReq.Header.Set("0x-version", "v2")

	var resp quoteResponse
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return nil, err
	}

	data := strings.TrimSpace(resp.Transaction.Data)
	if data == "" {
		// A 200 without calldata means the pair cannot be filled; retrying
		// the same request will not help.
		return nil, apperr.New(apperr.KindQuoteMalformed, "0x quote missing transaction data")
	}
	raw := common.FromHex(data)
	if len(raw) == 0 {
		return nil, apperr.New(apperr.KindQuoteMalformed, "0x quote returned empty calldata")
	}
	return raw, nil
}
