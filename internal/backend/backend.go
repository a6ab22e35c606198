// Package backend defines the uniform request/response contract the sampler
// uses to talk to either compared RPC backend. Implementations never panic on
// backend failures: every failure is returned as an *Error inside the result
// envelope, next to the measured wall time of the call.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gabapcia/rpcparity/internal/record"
)

// Error is a failed backend call: a JSON-RPC error object, a transport failure
// or a result that could not be decoded.
type Error struct {
	Method string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Method, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a backend Error for method. A nil err yields nil.
func NewError(method string, err error) error {
	if err == nil {
		return nil
	}

	var be *Error
	if errors.As(err, &be) {
		return err
	}

	return &Error{Method: method, Err: err}
}

// Request is one logical read. Params already embed the block the read is
// pinned to, so a Request can be replayed verbatim.
type Request struct {
	Kind    record.Kind
	Method  string
	Params  []any
	Context string // human-readable target, e.g. an address or topic
}

// LogKey identifies a log entry across backends.
type LogKey struct {
	TxHash   string
	LogIndex string
}

func (k LogKey) String() string {
	return k.TxHash + ":" + k.LogIndex
}

// Result is the envelope of a single call.
type Result struct {
	Value   string   // canonical value; for log queries the canonical key list
	Logs    []LogKey // set for log queries only
	Latency time.Duration
	Err     error
}

// HeightResult is the envelope of a head height query.
type HeightResult struct {
	Height  uint64
	Latency time.Duration
	Err     error
}

// BatchEntry is one response inside a batch, in the order the backend sent it.
type BatchEntry struct {
	ID    int
	Value string
	Err   error
}

// BatchResult is the envelope of a batch call. Err is set when the batch as a
// whole failed; Entries is then empty.
type BatchResult struct {
	Entries []BatchEntry
	Latency time.Duration
	Err     error
}

// Client is the adapter over one backend.
type Client interface {
	// BlockNumber returns the backend's current head height.
	BlockNumber(ctx context.Context) HeightResult

	// Call performs a single request.
	Call(ctx context.Context, req Request) Result

	// BatchCall submits reqs as one batch with correlation ids 1..len(reqs).
	BatchCall(ctx context.Context, reqs []Request) BatchResult
}
