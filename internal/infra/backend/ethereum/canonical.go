package ethereum

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/gabapcia/rpcparity/internal/backend"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrUndecodableResult is returned when a backend result does not have the
// shape its method promises.
var ErrUndecodableResult = errors.New("undecodable result")

// shape is how the result of a method is canonicalised.
type shape int

const (
	shapeRaw shape = iota
	shapeQuantity
	shapeBytes
	shapeLogs
)

var methodShapes = map[string]shape{
	"eth_blockNumber":         shapeQuantity,
	"eth_chainId":             shapeQuantity,
	"eth_gasPrice":            shapeQuantity,
	"eth_estimateGas":         shapeQuantity,
	"eth_getBalance":          shapeQuantity,
	"eth_getTransactionCount": shapeQuantity,
	"eth_call":                shapeBytes,
	"eth_getCode":             shapeBytes,
	"eth_getStorageAt":        shapeBytes,
	"eth_getLogs":             shapeLogs,
}

// canonicalize turns a raw result into the string both sides are compared on.
// Log queries also return their keys, sorted.
func canonicalize(method string, raw json.RawMessage) (string, []backend.LogKey, error) {
	switch methodShapes[method] {
	case shapeQuantity:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", nil, fmt.Errorf("%w: %w", ErrUndecodableResult, err)
		}

		v, err := quantity(s)
		return v, nil, err
	case shapeBytes:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", nil, fmt.Errorf("%w: %w", ErrUndecodableResult, err)
		}

		b, err := hexutil.Decode(s)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %w", ErrUndecodableResult, err)
		}

		return hexutil.Encode(b), nil, nil
	case shapeLogs:
		keys, err := logKeys(raw)
		if err != nil {
			return "", nil, err
		}

		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k.String()
		}

		return strings.Join(parts, ","), keys, nil
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return "", nil, fmt.Errorf("%w: %w", ErrUndecodableResult, err)
		}

		return buf.String(), nil, nil
	}
}

// quantity converts a 0x-prefixed hex quantity into its decimal form. Leading
// zeros are accepted and values are not bounded in size.
func quantity(s string) (string, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", fmt.Errorf("%w: quantity %q lacks 0x prefix", ErrUndecodableResult, s)
	}

	digits := s[2:]
	if digits == "" {
		return "0", nil
	}

	n, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return "", fmt.Errorf("%w: invalid quantity %q", ErrUndecodableResult, s)
	}

	return n.String(), nil
}

type rawLog struct {
	TransactionHash string `json:"transactionHash"`
	LogIndex        string `json:"logIndex"`
}

func logKeys(raw json.RawMessage) ([]backend.LogKey, error) {
	var logs []rawLog
	if err := json.Unmarshal(raw, &logs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndecodableResult, err)
	}

	keys := make([]backend.LogKey, 0, len(logs))
	for _, l := range logs {
		index, err := quantity(l.LogIndex)
		if err != nil {
			return nil, err
		}

		keys = append(keys, backend.LogKey{
			TxHash:   strings.ToLower(l.TransactionHash),
			LogIndex: index,
		})
	}

	slices.SortFunc(keys, func(a, b backend.LogKey) int {
		if c := strings.Compare(a.TxHash, b.TxHash); c != 0 {
			return c
		}
		return strings.Compare(a.LogIndex, b.LogIndex)
	})

	return keys, nil
}
