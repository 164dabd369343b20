package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	apperr "github.com/sqrtlabs/dca-webapp/internal/errors"
)

// Client is a JSON HTTP client with bounded retries and backoff for
// transient upstream failures. Retries happen only before any chain
// transaction exists, so replaying a request is always safe here.
type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
}

func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  "dca-engine/1.0",
	}
}

// DoJSON performs the request and decodes a JSON body into out. Transient
// failures (network errors, 429, 5xx) are retried with backoff; other non-2xx
// statuses fail immediately.
func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (int, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, apperr.Wrap(apperr.KindQuoteProviderError, "request cancelled", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		cloneReq := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return 0, apperr.Wrap(apperr.KindInternal, "clone request body", err)
			}
			cloneReq.Body = body
		}

		resp, err := c.httpClient.Do(cloneReq)
		if err != nil {
			lastErr = mapNetError(err)
			if attempt < c.retries {
				continue
			}
			return 0, lastErr
		}

		buf, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return resp.StatusCode, apperr.Wrap(apperr.KindQuoteProviderError, "read upstream response", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			lastErr = apperr.New(apperr.KindQuoteProviderError, fmt.Sprintf("upstream unavailable (status %d)", resp.StatusCode))
			if attempt < c.retries {
				continue
			}
			return resp.StatusCode, lastErr
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp.StatusCode, apperr.New(apperr.KindQuoteProviderError, fmt.Sprintf("upstream returned status %d", resp.StatusCode))
		}

		if out == nil {
			return resp.StatusCode, nil
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			return resp.StatusCode, apperr.New(apperr.KindQuoteMalformed, "upstream returned empty response")
		}
		if err := json.Unmarshal(buf, out); err != nil {
			return resp.StatusCode, apperr.Wrap(apperr.KindQuoteMalformed, "decode upstream JSON", err)
		}
		return resp.StatusCode, nil
	}

	if lastErr != nil {
		return 0, lastErr
	}
	return 0, apperr.New(apperr.KindQuoteProviderError, "request failed")
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return apperr.Wrap(apperr.KindQuoteProviderError, "upstream timeout", err)
	}
	return apperr.Wrap(apperr.KindQuoteProviderError, "upstream request failed", err)
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
