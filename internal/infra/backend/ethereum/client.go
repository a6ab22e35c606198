// Package ethereum implements backend.Client for Ethereum-compatible nodes
// over a JSON-RPC connection.
package ethereum

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gabapcia/rpcparity/internal/backend"
	"github.com/gabapcia/rpcparity/internal/pkg/transport/jsonrpc"
	"github.com/gabapcia/rpcparity/internal/pkg/types"

	"github.com/jonboulle/clockwork"
)

const methodBlockNumber = "eth_blockNumber"

// client implements backend.Client for one node.
type client struct {
	conn        jsonrpc.Client
	callTimeout time.Duration
	clock       clockwork.Clock
}

var _ backend.Client = (*client)(nil)

// withTimeout bounds ctx by the configured per-call timeout, if any.
func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

// BlockNumber implements backend.Client.
func (c *client) BlockNumber(ctx context.Context) backend.HeightResult {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := c.clock.Now()
	raw, err := c.conn.Fetch(ctx, methodBlockNumber)
	latency := c.clock.Since(start)
	if err != nil {
		return backend.HeightResult{Latency: latency, Err: backend.NewError(methodBlockNumber, err)}
	}

	var height types.Hex
	if err := json.Unmarshal(raw, &height); err != nil {
		return backend.HeightResult{
			Latency: latency,
			Err:     backend.NewError(methodBlockNumber, fmt.Errorf("%w: %w", ErrUndecodableResult, err)),
		}
	}

	return backend.HeightResult{Height: height.Uint64(), Latency: latency}
}

// Call implements backend.Client.
func (c *client) Call(ctx context.Context, req backend.Request) backend.Result {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := c.clock.Now()
	raw, err := c.conn.Fetch(ctx, req.Method, req.Params...)
	latency := c.clock.Since(start)
	if err != nil {
		return backend.Result{Latency: latency, Err: backend.NewError(req.Method, err)}
	}

	value, logs, err := canonicalize(req.Method, raw)
	if err != nil {
		return backend.Result{Latency: latency, Err: backend.NewError(req.Method, err)}
	}

	return backend.Result{Value: value, Logs: logs, Latency: latency}
}

// BatchCall implements backend.Client. Entries keep the order of the reply;
// an id that matches no request is reported as an entry error.
func (c *client) BatchCall(ctx context.Context, reqs []backend.Request) backend.BatchResult {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	calls := make([]jsonrpc.Call, len(reqs))
	for i, r := range reqs {
		calls[i] = jsonrpc.Call{Method: r.Method, Params: r.Params}
	}

	start := c.clock.Now()
	responses, err := c.conn.FetchBatch(ctx, calls)
	latency := c.clock.Since(start)
	if err != nil {
		return backend.BatchResult{Latency: latency, Err: backend.NewError("batch", err)}
	}

	entries := make([]backend.BatchEntry, len(responses))
	for i, resp := range responses {
		entries[i] = c.batchEntry(reqs, resp)
	}

	return backend.BatchResult{Entries: entries, Latency: latency}
}

func (c *client) batchEntry(reqs []backend.Request, resp jsonrpc.BatchResponse) backend.BatchEntry {
	entry := backend.BatchEntry{ID: resp.ID}

	if resp.ID < 1 || resp.ID > len(reqs) {
		entry.Err = backend.NewError("batch", fmt.Errorf("%w: unknown id %d", ErrUndecodableResult, resp.ID))
		return entry
	}

	method := reqs[resp.ID-1].Method
	if resp.Err != nil {
		entry.Err = backend.NewError(method, resp.Err)
		return entry
	}

	value, _, err := canonicalize(method, resp.Result)
	if err != nil {
		entry.Err = backend.NewError(method, err)
		return entry
	}

	entry.Value = value
	return entry
}

type config struct {
	callTimeout time.Duration
	clock       clockwork.Clock
}

type Option func(*config)

// NewClient returns a backend.Client talking to the node behind conn.
func NewClient(conn jsonrpc.Client, opts ...Option) *client {
	cfg := config{
		callTimeout: 10 * time.Second,
		clock:       clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &client{
		conn:        conn,
		callTimeout: cfg.callTimeout,
		clock:       cfg.clock,
	}
}

// WithCallTimeout bounds every call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(c *config) {
		c.callTimeout = d
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}
