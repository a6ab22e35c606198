package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Hex represents a hexadecimal-encoded quantity as a string (e.g., "0x1a"),
// the encoding JSON-RPC uses for block numbers.
type Hex string

// HexFromUint64 encodes n as a 0x-prefixed quantity.
func HexFromUint64(n uint64) Hex {
	return Hex("0x" + strconv.FormatUint(n, 16))
}

// validateHex checks whether a string is a valid hexadecimal number starting with "0x" or "0X".
func validateHex(s string) error {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return fmt.Errorf("hex string must start with 0x")
	}

	if _, err := strconv.ParseUint(s[2:], 16, 64); err != nil {
		return fmt.Errorf("invalid hexadecimal value: %w", err)
	}

	return nil
}

// MarshalJSON encodes the Hex as a JSON string.
func (h Hex) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(h))
}

// UnmarshalJSON parses and validates a JSON-encoded hexadecimal string.
func (h *Hex) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid hex string: %w", err)
	}

	if err := validateHex(s); err != nil {
		return err
	}

	*h = Hex(s)
	return nil
}

// Uint64 returns the decoded value. If parsing fails, it returns zero.
func (h Hex) Uint64() uint64 {
	if len(h) < 2 {
		return 0
	}

	v, _ := strconv.ParseUint(string(h)[2:], 16, 64)
	return v
}
