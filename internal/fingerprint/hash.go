package fingerprint

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// Domain prefix for fingerprints. The version suffix allows a future
// change of canonical form without colliding with old entries.
const Domain = "velocity/fingerprint/v1"

// Compute returns the fingerprint of an operation applied to input:
// hex(BLAKE3(Domain || 0x00 || canonical({"input": input, "operation": operation}))).
//
// Equal inputs produce equal fingerprints regardless of key order,
// Unicode normalization form, or number spelling.
func Compute(operation string, input any) (string, error) {
	inputJSON, err := Canonicalize(input)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", operation, err)
	}

	identity, err := Canonicalize(map[string]any{
		"operation": operation,
		"input":     json.RawMessage(inputJSON),
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", operation, err)
	}
	return hashWithDomain(Domain, identity), nil
}

// MustCompute is like Compute but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCompute(operation string, input any) string {
	fp, err := Compute(operation, input)
	if err != nil {
		panic(err)
	}
	return fp
}

// hashWithDomain computes BLAKE3(domain + 0x00 + data). The separator
// keeps domain and data from running into each other.
func hashWithDomain(domain string, data []byte) string {
	h := blake3.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
