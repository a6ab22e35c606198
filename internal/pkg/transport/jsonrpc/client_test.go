package jsonrpc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httptransport "github.com/gabapcia/rpcparity/internal/pkg/transport/http"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponse_Err(t *testing.T) {
	t.Run("returns nil when Error field is nil", func(t *testing.T) {
		resp := response{JsonRPC: "2.0"}
		assert.NoError(t, resp.Err())
	})

	t.Run("returns formatted error when Error field is present", func(t *testing.T) {
		resp := response{
			JsonRPC: "2.0",
			Error:   &rpcError{Code: -32601, Message: "method not found"},
		}

		err := resp.Err()
		assert.ErrorIs(t, err, ErrProviderReturnedError)
		assert.Contains(t, err.Error(), fmt.Sprintf("[%d]", -32601))
		assert.Contains(t, err.Error(), "method not found")
	})
}

func TestParseID(t *testing.T) {
	assert.Equal(t, 3, parseID(json.RawMessage(`3`)))
	assert.Equal(t, 12, parseID(json.RawMessage(`"12"`)))
	assert.Equal(t, -1, parseID(json.RawMessage(`"abc"`)))
	assert.Equal(t, -1, parseID(nil))
}

func TestClient_Fetch(t *testing.T) {
	t.Run("successful response with result", func(t *testing.T) {
		var received map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &received)

			json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"result":  "0x10",
				"id":      received["id"],
			})
		}))
		defer server.Close()

		c := NewClient(server.URL)

		result, err := c.Fetch(t.Context(), "eth_getBalance", "0xabc", "0x1")
		require.NoError(t, err)
		assert.JSONEq(t, `"0x10"`, string(result))

		assert.Equal(t, "eth_getBalance", received["method"])
		assert.Equal(t, []any{"0xabc", "0x1"}, received["params"])
		assert.NotEmpty(t, received["id"])
	})

	t.Run("sends an empty params array when none are given", func(t *testing.T) {
		var received map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &received)
			w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":"0x1"}`))
		}))
		defer server.Close()

		_, err := NewClient(server.URL).Fetch(t.Context(), "eth_blockNumber")
		require.NoError(t, err)
		assert.Equal(t, []any{}, received["params"])
	})

	t.Run("response with JSON-RPC error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"jsonrpc":"2.0","id":"1","error":{"code":-32000,"message":"header not found"}}`))
		}))
		defer server.Close()

		result, err := NewClient(server.URL).Fetch(t.Context(), "eth_call")
		assert.ErrorIs(t, err, ErrProviderReturnedError)
		assert.Nil(t, result)
		assert.Contains(t, err.Error(), "header not found")
	})

	t.Run("malformed JSON response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("this is not json"))
		}))
		defer server.Close()

		result, err := NewClient(server.URL).Fetch(t.Context(), "bad_json")
		assert.Error(t, err)
		assert.Nil(t, result)
		assert.Contains(t, err.Error(), "invalid character")
	})

	t.Run("non-JSON body with a client error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("bad request"))
		}))
		defer server.Close()

		_, err := NewClient(server.URL).Fetch(t.Context(), "eth_call")
		assert.ErrorIs(t, err, ErrUnexpectedStatus)
		assert.Contains(t, err.Error(), "400")
	})

	t.Run("network error when server is down", func(t *testing.T) {
		server := httptest.NewServer(nil)
		server.Close()

		c := NewClient(server.URL, httptransport.WithTimeout(time.Second))

		result, err := c.Fetch(t.Context(), "network_failure")
		assert.Error(t, err)
		assert.Nil(t, result)
	})
}

func TestClient_FetchBatch(t *testing.T) {
	t.Run("assigns sequential ids and keeps the response order", func(t *testing.T) {
		var received []map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &received)

			w.Write([]byte(`[
				{"jsonrpc":"2.0","id":2,"result":"0x2"},
				{"jsonrpc":"2.0","id":1,"result":"0x1"},
				{"jsonrpc":"2.0","id":"3","error":{"code":429,"message":"rate limited"}}
			]`))
		}))
		defer server.Close()

		responses, err := NewClient(server.URL).FetchBatch(t.Context(), []Call{
			{Method: "eth_getBalance", Params: []any{"0xa", "0x1"}},
			{Method: "eth_getBalance", Params: []any{"0xb", "0x1"}},
			{Method: "eth_getBalance"},
		})
		require.NoError(t, err)

		require.Len(t, received, 3)
		for i, r := range received {
			assert.EqualValues(t, i+1, r["id"])
		}
		assert.Equal(t, []any{}, received[2]["params"])

		require.Len(t, responses, 3)
		assert.Equal(t, 2, responses[0].ID)
		assert.JSONEq(t, `"0x2"`, string(responses[0].Result))
		assert.Equal(t, 1, responses[1].ID)
		assert.Equal(t, 3, responses[2].ID)
		assert.ErrorIs(t, responses[2].Err, ErrProviderReturnedError)
	})

	t.Run("rejects an empty batch", func(t *testing.T) {
		_, err := NewClient("http://127.0.0.1:1").FetchBatch(t.Context(), nil)
		assert.ErrorIs(t, err, ErrEmptyBatch)
	})

	t.Run("surfaces a batch-level error object", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"batch too large"}}`))
		}))
		defer server.Close()

		_, err := NewClient(server.URL).FetchBatch(t.Context(), []Call{{Method: "eth_chainId"}})
		assert.ErrorIs(t, err, ErrProviderReturnedError)
		assert.Contains(t, err.Error(), "batch too large")
	})

	t.Run("malformed batch payload", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"jsonrpc":`))
		}))
		defer server.Close()

		_, err := NewClient(server.URL).FetchBatch(t.Context(), []Call{{Method: "eth_chainId"}})
		assert.Error(t, err)
	})
}

func TestNewClient(t *testing.T) {
	t.Run("passes transport options to the HTTP client", func(t *testing.T) {
		c := NewClient("http://localhost:8545",
			httptransport.WithTimeout(9*time.Second),
			httptransport.WithRetryMax(3),
		)

		assert.Equal(t, "http://localhost:8545", c.providerEndpoint)
		require.NotNil(t, c.httpClient)
		assert.Equal(t, 9*time.Second, c.httpClient.HTTPClient.Timeout)
		assert.Equal(t, 3, c.httpClient.RetryMax)
	})
}
