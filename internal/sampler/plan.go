package sampler

import (
	"github.com/gabapcia/rpcparity/internal/backend"
	"github.com/gabapcia/rpcparity/internal/pkg/types"
	"github.com/gabapcia/rpcparity/internal/record"
)

const (
	methodGetBalance = "eth_getBalance"
	methodCall       = "eth_call"
	methodGetLogs    = "eth_getLogs"
)

// ContractCall is a read-only call issued with eth_call.
type ContractCall struct {
	Name string `yaml:"name"`
	To   string `yaml:"to" validate:"evmaddress"`
	Data string `yaml:"data" validate:"hexdata"`
}

// LogFilter selects the logs queried at the comparable block.
type LogFilter struct {
	Address string   `yaml:"address" validate:"evmaddress"`
	Topics  []string `yaml:"topics" validate:"dive,hexdata"`
}

// Plan lists the reads performed on every iteration.
type Plan struct {
	Addresses []string       `yaml:"addresses" validate:"dive,evmaddress"`
	Calls     []ContractCall `yaml:"calls" validate:"dive"`
	Logs      *LogFilter     `yaml:"logs"`
	BatchSize int            `yaml:"batchSize" validate:"gte=0"`
}

func balanceRequest(address string, block uint64) backend.Request {
	return backend.Request{
		Kind:    record.KindValueRead,
		Method:  methodGetBalance,
		Params:  []any{address, types.HexFromUint64(block)},
		Context: address,
	}
}

func callRequest(call ContractCall, block uint64) backend.Request {
	label := call.Name
	if label == "" {
		label = call.To
	}

	return backend.Request{
		Kind:   record.KindCall,
		Method: methodCall,
		Params: []any{
			map[string]string{"to": call.To, "data": call.Data},
			types.HexFromUint64(block),
		},
		Context: label,
	}
}

func logRequest(filter LogFilter, block uint64) backend.Request {
	query := map[string]any{
		"fromBlock": types.HexFromUint64(block),
		"toBlock":   types.HexFromUint64(block),
		"address":   filter.Address,
	}
	if len(filter.Topics) > 0 {
		query["topics"] = filter.Topics
	}

	return backend.Request{
		Kind:    record.KindLogQuery,
		Method:  methodGetLogs,
		Params:  []any{query},
		Context: filter.Address,
	}
}

// singleRequests returns the value reads and contract calls of p at block.
func (p Plan) singleRequests(block uint64) []backend.Request {
	reqs := make([]backend.Request, 0, len(p.Addresses)+len(p.Calls))
	for _, a := range p.Addresses {
		reqs = append(reqs, balanceRequest(a, block))
	}
	for _, c := range p.Calls {
		reqs = append(reqs, callRequest(c, block))
	}
	return reqs
}

// batchRequests returns BatchSize balance reads cycling over the addresses, or
// nil when batches are disabled.
func (p Plan) batchRequests(block uint64) []backend.Request {
	if p.BatchSize <= 0 || len(p.Addresses) == 0 {
		return nil
	}

	reqs := make([]backend.Request, p.BatchSize)
	for i := range reqs {
		reqs[i] = balanceRequest(p.Addresses[i%len(p.Addresses)], block)
		reqs[i].Kind = record.KindBatch
	}
	return reqs
}
