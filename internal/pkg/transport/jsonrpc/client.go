// Package jsonrpc provides a JSON-RPC 2.0 client over HTTP supporting single
// requests and ordered batches. It is used to talk to both compared backends.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	httptransport "github.com/gabapcia/rpcparity/internal/pkg/transport/http"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

var (
	// ErrProviderReturnedError indicates that the remote JSON-RPC server returned an error response.
	ErrProviderReturnedError = errors.New("provider error")

	// ErrUnexpectedStatus is returned when the server answers with a non-2xx
	// status and a body that is not a JSON-RPC response.
	ErrUnexpectedStatus = errors.New("unexpected http status")

	// ErrEmptyBatch is returned by FetchBatch when called without calls.
	ErrEmptyBatch = errors.New("empty batch")
)

// rpcError is the JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// response represents a standard JSON-RPC 2.0 response.
type response struct {
	JsonRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *rpcError       `json:"error"`
	Result  json.RawMessage `json:"result"`
}

// Err returns an error if the response includes a JSON-RPC error object.
// It wraps ErrProviderReturnedError with the provided error code and message.
func (r response) Err() error {
	if r.Error == nil {
		return nil
	}

	return fmt.Errorf("%w: [%d] - %s", ErrProviderReturnedError, r.Error.Code, r.Error.Message)
}

// Call is one request inside a batch.
type Call struct {
	Method string
	Params []any
}

// BatchResponse is one entry of a batch reply, in the order the server sent it.
// ID is the correlation id echoed by the server, or -1 when it is missing or
// not numeric.
type BatchResponse struct {
	ID     int
	Result json.RawMessage
	Err    error
}

// Client defines the interface for a JSON-RPC client.
type Client interface {
	// Fetch sends a single request and returns the raw JSON result.
	Fetch(ctx context.Context, method string, params ...any) (json.RawMessage, error)

	// FetchBatch sends calls as one batch with ids 1..len(calls). The returned
	// slice keeps the server's response order; per-entry failures are set on
	// BatchResponse.Err while transport failures are returned as error.
	FetchBatch(ctx context.Context, calls []Call) ([]BatchResponse, error)
}

// client sends JSON-RPC requests to a single endpoint.
type client struct {
	providerEndpoint string
	httpClient       *retryablehttp.Client
}

// Compile-time assertion that client implements the Client interface.
var _ Client = (*client)(nil)

// post sends body to the endpoint and returns the raw response payload.
func (c *client) post(ctx context.Context, body []byte) ([]byte, int, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.providerEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	return payload, res.StatusCode, err
}

// statusError wraps a decode failure with the HTTP status when the status was not 2xx.
func statusError(status int, err error) error {
	if status < 200 || status > 299 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, status)
	}
	return err
}

// Fetch sends a JSON-RPC request to the remote server with the given method and parameters.
// The `id` field in the request is generated as a UUID string.
func (c *client) Fetch(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      uuid.NewString(),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}

	payload, status, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var data response
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, statusError(status, err)
	}

	if err := data.Err(); err != nil {
		return nil, err
	}

	return data.Result, nil
}

// parseID converts a JSON-RPC id into an int, accepting numbers and numeric strings.
func parseID(raw json.RawMessage) int {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}

	return -1
}

// FetchBatch implements Client.
func (c *client) FetchBatch(ctx context.Context, calls []Call) ([]BatchResponse, error) {
	if len(calls) == 0 {
		return nil, ErrEmptyBatch
	}

	requests := make([]map[string]any, len(calls))
	for i, call := range calls {
		params := call.Params
		if params == nil {
			params = []any{}
		}

		requests[i] = map[string]any{
			"jsonrpc": "2.0",
			"id":      i + 1,
			"method":  call.Method,
			"params":  params,
		}
	}

	body, err := json.Marshal(requests)
	if err != nil {
		return nil, err
	}

	payload, status, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var data []response
	if err := json.Unmarshal(payload, &data); err != nil {
		// Some providers reject a whole batch with a single error object.
		var single response
		if json.Unmarshal(payload, &single) == nil && single.Error != nil {
			return nil, single.Err()
		}

		return nil, statusError(status, err)
	}

	responses := make([]BatchResponse, len(data))
	for i, d := range data {
		responses[i] = BatchResponse{
			ID:     parseID(d.ID),
			Result: d.Result,
			Err:    d.Err(),
		}
	}

	return responses, nil
}

// NewClient returns a Client for the JSON-RPC server at providerEndpoint. HTTP
// behavior (timeouts, retries, pooling) is tuned with the transport/http options.
func NewClient(providerEndpoint string, opts ...httptransport.Option) *client {
	return &client{
		providerEndpoint: providerEndpoint,
		httpClient:       httptransport.NewClient(opts...),
	}
}
