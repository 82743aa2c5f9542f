package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
)

// rpcClient is a minimal JSON-RPC 2.0 client over HTTP POST, used for the
// peer and orderer endpoints of the ledger network.
type rpcClient struct {
	address string
	client  *http.Client
	nextID  uint64
}

func newRPCClient(address string) *rpcClient {
	return &rpcClient{
		address: ensureURLScheme(address),
		client:  &http.Client{},
	}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("RPC error %d - %s: %s", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d - %s", e.Code, e.Message)
}

// Call invokes method with params and unmarshals the result into result
// (unless result is nil).
func (c *rpcClient) Call(ctx context.Context, method string, params, result interface{}) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}

	request := rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.nextID, 1),
		Method:  method,
		Params:  paramsJSON,
	}
	requestJSON, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.address, bytes.NewReader(requestJSON))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var response rpcResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	if response.ID != request.ID {
		return fmt.Errorf("response id %d does not match request id %d", response.ID, request.ID)
	}
	if response.Error != nil {
		return response.Error
	}

	if result != nil {
		if err := json.Unmarshal(response.Result, result); err != nil {
			return fmt.Errorf("malformed result: %w", err)
		}
	}

	return nil
}

func ensureURLScheme(address string) string {
	if strings.Contains(address, "://") {
		return address
	}
	return "http://" + address
}
