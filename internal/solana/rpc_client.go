package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"futarchy-core/internal/observability"
)

// Node error codes worth retrying: the node is unhealthy or has not caught
// up with the requested slot yet.
const (
	codeNodeUnhealthy      = -32005
	codeSlotNotAvailable   = -32004
	codeMinContextNotReady = -32016
)

// RetryPolicy bounds how a failed call is retried.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy suits a slot poller: a handful of quick retries so a
// lagging node does not stall the clock for long.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 4 * time.Second}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if attempt > 30 {
		return p.MaxDelay
	}
	d := p.BaseDelay << (attempt - 1)
	if d <= 0 || d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// HTTPClient implements RPCClient over HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint   string
	commitment string
	http       *http.Client
	retry      RetryPolicy
	nextID     atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.http.Timeout = d }
}

// WithMaxRetries sets how many times a failed call is retried.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) { c.retry.MaxRetries = n }
}

// WithRetryDelay sets the first retry delay; later ones double.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.retry.BaseDelay = d }
}

// WithCommitment sets the commitment slot queries are made at.
func WithCommitment(commitment string) ClientOption {
	return func(c *HTTPClient) { c.commitment = commitment }
}

// NewHTTPClient creates a client for the node at endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:   endpoint,
		commitment: CommitmentConfirmed,
		http:       &http.Client{Timeout: 10 * time.Second},
		retry:      DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Temporary reports whether the node may answer once it catches up.
func (e *RPCError) Temporary() bool {
	switch e.Code {
	case codeNodeUnhealthy, codeSlotNotAvailable, codeMinContextNotReady:
		return true
	}
	return false
}

// retryable marks a failure of one attempt that a later attempt may not
// share.
type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	start := time.Now()
	defer func() { observability.RecordRPCLatency(method, time.Since(start).Seconds()) }()

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	var last error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(c.retry.delay(attempt))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		raw, err := c.post(ctx, body)
		var r retryable
		if errors.As(err, &r) {
			last = r.err
			continue
		}
		if err != nil {
			return err
		}
		if result == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
	return fmt.Errorf("%s: retries exhausted: %w", method, last)
}

// post sends one request and returns the raw result. Transport failures,
// throttling and temporary node errors come back as retryable.
func (c *HTTPClient) post(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retryable{fmt.Errorf("post: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, retryable{fmt.Errorf("read body: %w", err)}
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, retryable{fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var out rpcResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, retryable{fmt.Errorf("decode response: %w", err)}
	}
	if out.Error != nil {
		if out.Error.Temporary() {
			return nil, retryable{out.Error}
		}
		return nil, out.Error
	}
	return out.Result, nil
}

var _ RPCClient = (*HTTPClient)(nil)

// GetSlot returns the node's slot at the client's commitment.
func (c *HTTPClient) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	err := c.call(ctx, "getSlot", []interface{}{map[string]string{"commitment": c.commitment}}, &slot)
	return slot, err
}

// GetBlockTime returns the block's production time, nil when the node has
// none recorded.
func (c *HTTPClient) GetBlockTime(ctx context.Context, slot uint64) (*int64, error) {
	var ts *int64
	if err := c.call(ctx, "getBlockTime", []interface{}{slot}, &ts); err != nil {
		return nil, err
	}
	return ts, nil
}
