package storage

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// emptyCodeHash is the sha256 of the empty byte string, the key of the
// sentinel code row that stands in for absent bytecode.
var emptyCodeHash = sha256Hash(nil)

// generateID generates a new UUID
func generateID() string {
	return uuid.New().String()
}

// sha256Hash computes the content address of a blob
func sha256Hash(content []byte) []byte {
	h := sha256.Sum256(content)
	return h[:]
}

func keccakHash(content []byte) []byte {
	return crypto.Keccak256(content)
}

// genesisTxHash derives a stable transaction hash for deployments without
// one, so they still fit the (chain, address, tx) uniqueness key.
func genesisTxHash(creationHash, runtimeHash []byte) common.Hash {
	return crypto.Keccak256Hash(creationHash, runtimeHash)
}

// jsonValue maps an empty blob to SQL NULL.
func jsonValue(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling json: %w", err)
	}
	return string(b), nil
}

// valuesPlaceholders renders "(?, ?), (?, ?)" for a multi-row insert.
func valuesPlaceholders(rows, cols int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	return strings.TrimSuffix(strings.Repeat(row+", ", rows), ", ")
}

func listPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// timestamp scans the timestamp representations of both SQL drivers.
type timestamp time.Time

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = timestamp(time.Time{})
	case time.Time:
		*t = timestamp(v)
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *timestamp) parse(s string) error {
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = timestamp(parsed.UTC())
			return nil
		}
	}
	return fmt.Errorf("parsing timestamp %q", s)
}

func (t timestamp) Time() time.Time {
	return time.Time(t)
}

func chunk[T any](items []T, size int) [][]T {
	var chunks [][]T
	for size < len(items) {
		items, chunks = items[size:], append(chunks, items[:size])
	}
	if len(items) > 0 {
		chunks = append(chunks, items)
	}
	return chunks
}
