package sampler

import (
	"testing"

	"github.com/gabapcia/rpcparity/internal/pkg/types"
	"github.com/gabapcia/rpcparity/internal/record"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_Requests(t *testing.T) {
	plan := Plan{
		Addresses: []string{"0xa", "0xb"},
		Calls:     []ContractCall{{To: "0xc", Data: "0x18160ddd"}, {Name: "totalSupply", To: "0xd", Data: "0x18160ddd"}},
		BatchSize: 5,
	}

	t.Run("single reads are pinned to the block", func(t *testing.T) {
		reqs := plan.singleRequests(100)
		require.Len(t, reqs, 4)

		assert.Equal(t, record.KindValueRead, reqs[0].Kind)
		assert.Equal(t, "eth_getBalance", reqs[0].Method)
		assert.Equal(t, []any{"0xa", types.Hex("0x64")}, reqs[0].Params)

		assert.Equal(t, record.KindCall, reqs[2].Kind)
		assert.Equal(t, "0xc", reqs[2].Context)
		assert.Equal(t, "totalSupply", reqs[3].Context)
		assert.Equal(t, types.Hex("0x64"), reqs[3].Params[1])
	})

	t.Run("batches cycle over the addresses", func(t *testing.T) {
		reqs := plan.batchRequests(1)
		require.Len(t, reqs, 5)

		contexts := make([]string, len(reqs))
		for i, r := range reqs {
			contexts[i] = r.Context
			assert.Equal(t, record.KindBatch, r.Kind)
		}
		assert.Equal(t, []string{"0xa", "0xb", "0xa", "0xb", "0xa"}, contexts)
	})

	t.Run("batches need addresses and a size", func(t *testing.T) {
		assert.Nil(t, Plan{BatchSize: 3}.batchRequests(1))
		assert.Nil(t, Plan{Addresses: []string{"0xa"}}.batchRequests(1))
	})

	t.Run("log queries cover a single block", func(t *testing.T) {
		req := logRequest(LogFilter{Address: "0xe", Topics: []string{"0xddf2"}}, 255)

		query := req.Params[0].(map[string]any)
		assert.Equal(t, types.Hex("0xff"), query["fromBlock"])
		assert.Equal(t, types.Hex("0xff"), query["toBlock"])
		assert.Equal(t, []string{"0xddf2"}, query["topics"])
		assert.Equal(t, record.KindLogQuery, req.Kind)
	})
}
