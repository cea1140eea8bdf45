// Package ledger implements domain.LedgerTransport over the vault gateway's
// JSON-RPC API.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/vaultkeeper/internal/crypto"
	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

const (
	sendMethod  = "sendTransaction"
	rpcPath     = "/rpc"
	maxBodySize = 1 << 20
)

// JSON-RPC reserves this range for implementation-defined server errors,
// which the gateway uses for transient faults.
const (
	serverErrorMin = -32099
	serverErrorMax = -32000
)

// Client is the JSON-RPC client for the vault gateway. It is safe for
// concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	nextID     atomic.Int64
}

// NewClient creates a gateway client. auth may be nil for unauthenticated
// gateways. A zero timeout selects 30 seconds.
func NewClient(baseURL string, auth *crypto.HMACAuth, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		auth:       auth,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type txReply struct {
	Link string `json:"link"`
	TxID string `json:"txId"`
}

// Send submits operation with params as a sendTransaction call.
func (c *Client) Send(ctx context.Context, operation string, params map[string]any) (domain.TxResult, error) {
	payload := make(map[string]any, len(params)+1)
	for k, v := range params {
		payload[k] = v
	}
	payload["type"] = operation

	raw, err := c.do(ctx, operation, sendMethod, payload)
	if err != nil {
		return domain.TxResult{}, err
	}

	var reply txReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return domain.TxResult{}, domain.Retryable(operation, fmt.Errorf("ledger: decode tx result: %w", err))
	}
	if reply.Link == "" {
		return domain.TxResult{}, domain.Retryable(operation, errors.New("ledger: tx result missing link"))
	}
	return domain.TxResult{Link: reply.Link, TxID: reply.TxID}, nil
}

// Call runs a read-only query and decodes its result into out.
func (c *Client) Call(ctx context.Context, method string, params map[string]any, out any) error {
	raw, err := c.do(ctx, method, method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.Retryable(method, fmt.Errorf("ledger: decode %s result: %w", method, err))
	}
	return nil
}

// do performs one JSON-RPC round trip and classifies every failure as
// retryable or fatal.
func (c *Client) do(ctx context.Context, op, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, domain.Fatal(op, fmt.Errorf("ledger: marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+rpcPath, bytes.NewReader(body))
	if err != nil {
		return nil, domain.Fatal(op, fmt.Errorf("ledger: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != nil {
		for k, v := range c.auth.Headers(http.MethodPost, rpcPath, string(body)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Retryable(op, fmt.Errorf("ledger: %s request: %w", method, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, domain.Retryable(op, fmt.Errorf("ledger: read %s response: %w", method, err))
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("ledger: %s failed (HTTP %d): %s", method, resp.StatusCode, truncate(respBody))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, domain.Retryable(op, statusErr)
		}
		return nil, domain.Fatal(op, statusErr)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, domain.Retryable(op, fmt.Errorf("ledger: decode %s response: %w", method, err))
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code >= serverErrorMin && rpcResp.Error.Code <= serverErrorMax {
			return nil, domain.Retryable(op, rpcResp.Error)
		}
		return nil, domain.Fatal(op, rpcResp.Error)
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return nil, domain.Retryable(op, fmt.Errorf("ledger: %s response has no result", method))
	}
	return rpcResp.Result, nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
