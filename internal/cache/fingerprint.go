package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint derives a deterministic cache key from an operation name, its
// input and the options that influence the result. Inputs are serialized
// with encoding/json, which orders map keys, so equal values always produce
// equal keys.
func Fingerprint(operation string, input interface{}, options interface{}) (string, error) {
	payload, err := json.Marshal(struct {
		Operation string      `json:"op"`
		Input     interface{} `json:"input"`
		Options   interface{} `json:"options,omitempty"`
	}{operation, input, options})
	if err != nil {
		return "", fmt.Errorf("failed to serialize fingerprint input: %w", err)
	}

	sum := blake2b.Sum256(payload)
	return fmt.Sprintf("%s:%s", operation, hex.EncodeToString(sum[:])), nil
}
