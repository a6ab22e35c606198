package ethereum

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gabapcia/rpcparity/internal/backend"
	"github.com/gabapcia/rpcparity/internal/pkg/transport/jsonrpc"
	"github.com/gabapcia/rpcparity/internal/record"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type connMock struct {
	mock.Mock
}

func (m *connMock) Fetch(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	args := m.Called(ctx, method, params)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func (m *connMock) FetchBatch(ctx context.Context, calls []jsonrpc.Call) ([]jsonrpc.BatchResponse, error) {
	args := m.Called(ctx, calls)
	responses, _ := args.Get(0).([]jsonrpc.BatchResponse)
	return responses, args.Error(1)
}

func TestClient_BlockNumber(t *testing.T) {
	t.Run("decodes the head height", func(t *testing.T) {
		conn := new(connMock)
		conn.On("Fetch", mock.Anything, "eth_blockNumber", []any(nil)).Return(json.RawMessage(`"0x1312d00"`), nil)

		res := NewClient(conn).BlockNumber(t.Context())
		require.NoError(t, res.Err)
		assert.Equal(t, uint64(20_000_000), res.Height)
		conn.AssertExpectations(t)
	})

	t.Run("wraps transport failures as backend errors", func(t *testing.T) {
		conn := new(connMock)
		conn.On("Fetch", mock.Anything, "eth_blockNumber", []any(nil)).Return(nil, errors.New("connection refused"))

		res := NewClient(conn).BlockNumber(t.Context())

		var be *backend.Error
		require.ErrorAs(t, res.Err, &be)
		assert.Equal(t, "eth_blockNumber", be.Method)
	})

	t.Run("rejects a non hex height", func(t *testing.T) {
		conn := new(connMock)
		conn.On("Fetch", mock.Anything, "eth_blockNumber", []any(nil)).Return(json.RawMessage(`12`), nil)

		res := NewClient(conn).BlockNumber(t.Context())
		assert.ErrorIs(t, res.Err, ErrUndecodableResult)
	})

	t.Run("bounds the call with the timeout", func(t *testing.T) {
		conn := new(connMock)
		conn.On("Fetch", mock.Anything, "eth_blockNumber", []any(nil)).
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(nil, context.DeadlineExceeded)

		res := NewClient(conn, WithCallTimeout(10*time.Millisecond)).BlockNumber(t.Context())
		assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	})
}

func TestClient_Call(t *testing.T) {
	t.Run("balances become decimal strings", func(t *testing.T) {
		conn := new(connMock)
		conn.On("Fetch", mock.Anything, "eth_getBalance", []any{"0xabc", "0x10"}).
			Return(json.RawMessage(`"0x00de0b6b3a7640000"`), nil)

		res := NewClient(conn).Call(t.Context(), backend.Request{
			Kind:   record.KindValueRead,
			Method: "eth_getBalance",
			Params: []any{"0xabc", "0x10"},
		})
		require.NoError(t, res.Err)
		assert.Equal(t, "1000000000000000000", res.Value)
	})

	t.Run("byte payloads are lower-cased", func(t *testing.T) {
		conn := new(connMock)
		conn.On("Fetch", mock.Anything, "eth_call", mock.Anything).Return(json.RawMessage(`"0x00AbCd"`), nil)

		res := NewClient(conn).Call(t.Context(), backend.Request{Method: "eth_call"})
		require.NoError(t, res.Err)
		assert.Equal(t, "0x00abcd", res.Value)
	})

	t.Run("logs become sorted keys", func(t *testing.T) {
		conn := new(connMock)
		conn.On("Fetch", mock.Anything, "eth_getLogs", mock.Anything).Return(json.RawMessage(`[
			{"transactionHash":"0xBB","logIndex":"0x1"},
			{"transactionHash":"0xaa","logIndex":"0x0a"}
		]`), nil)

		res := NewClient(conn).Call(t.Context(), backend.Request{Method: "eth_getLogs"})
		require.NoError(t, res.Err)
		assert.Equal(t, []backend.LogKey{{TxHash: "0xaa", LogIndex: "10"}, {TxHash: "0xbb", LogIndex: "1"}}, res.Logs)
		assert.Equal(t, "0xaa:10,0xbb:1", res.Value)
	})

	t.Run("unknown methods compare on compact JSON", func(t *testing.T) {
		conn := new(connMock)
		conn.On("Fetch", mock.Anything, "net_version", mock.Anything).Return(json.RawMessage(`{ "a" : 1 }`), nil)

		res := NewClient(conn).Call(t.Context(), backend.Request{Method: "net_version"})
		require.NoError(t, res.Err)
		assert.Equal(t, `{"a":1}`, res.Value)
	})

	t.Run("provider errors are returned, not raised", func(t *testing.T) {
		conn := new(connMock)
		conn.On("Fetch", mock.Anything, "eth_getBalance", mock.Anything).Return(nil, jsonrpc.ErrProviderReturnedError)

		res := NewClient(conn).Call(t.Context(), backend.Request{Method: "eth_getBalance"})
		assert.ErrorIs(t, res.Err, jsonrpc.ErrProviderReturnedError)
		assert.Empty(t, res.Value)
	})

	t.Run("malformed byte payloads are undecodable", func(t *testing.T) {
		conn := new(connMock)
		conn.On("Fetch", mock.Anything, "eth_call", mock.Anything).Return(json.RawMessage(`"0xabc"`), nil)

		res := NewClient(conn).Call(t.Context(), backend.Request{Method: "eth_call"})
		assert.ErrorIs(t, res.Err, ErrUndecodableResult)
	})
}

func TestClient_BatchCall(t *testing.T) {
	reqs := []backend.Request{
		{Method: "eth_getBalance", Params: []any{"0xa", "0x1"}},
		{Method: "eth_getBalance", Params: []any{"0xb", "0x1"}},
		{Method: "eth_getBalance", Params: []any{"0xc", "0x1"}},
	}

	t.Run("keeps the reply order and canonicalises entries", func(t *testing.T) {
		conn := new(connMock)
		conn.On("FetchBatch", mock.Anything, mock.MatchedBy(func(calls []jsonrpc.Call) bool {
			return len(calls) == 3 && calls[1].Params[0] == "0xb"
		})).Return([]jsonrpc.BatchResponse{
			{ID: 2, Result: json.RawMessage(`"0x2"`)},
			{ID: 1, Result: json.RawMessage(`"0x1"`)},
			{ID: 3, Err: jsonrpc.ErrProviderReturnedError},
			{ID: 9, Result: json.RawMessage(`"0x9"`)},
		}, nil)

		res := NewClient(conn).BatchCall(t.Context(), reqs)
		require.NoError(t, res.Err)
		require.Len(t, res.Entries, 4)

		assert.Equal(t, backend.BatchEntry{ID: 2, Value: "2"}, res.Entries[0])
		assert.Equal(t, backend.BatchEntry{ID: 1, Value: "1"}, res.Entries[1])
		assert.ErrorIs(t, res.Entries[2].Err, jsonrpc.ErrProviderReturnedError)
		assert.ErrorIs(t, res.Entries[3].Err, ErrUndecodableResult)
	})

	t.Run("reports a failed batch as a whole", func(t *testing.T) {
		conn := new(connMock)
		conn.On("FetchBatch", mock.Anything, mock.Anything).Return(nil, errors.New("eof"))

		res := NewClient(conn).BatchCall(t.Context(), reqs)
		assert.Error(t, res.Err)
		assert.Empty(t, res.Entries)
	})
}
