// Package cas provides content-addressing utilities: BLAKE3 hashing and
// canonical JSON serialization with stable key ordering.
package cas

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"lukechampine.com/blake3"
)

// ContentHash is a BLAKE3-256 digest of a serialized payload.
type ContentHash [32]byte

// NilHash is the zero content hash.
var NilHash ContentHash

// HashBytes computes the content hash of raw bytes.
func HashBytes(data []byte) ContentHash {
	return blake3.Sum256(data)
}

// HashJSON computes the content hash of a value's canonical JSON form.
func HashJSON(v interface{}) (ContentHash, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return NilHash, err
	}
	return HashBytes(data), nil
}

// String returns the hex form of the hash.
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// IsNil reports whether the hash is the zero value.
func (h ContentHash) IsNil() bool {
	return h == NilHash
}

// MarshalText implements encoding.TextMarshaler so hashes serialize as hex
// inside JSON payloads.
func (h ContentHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *ContentHash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash parses a hex-encoded content hash.
func ParseHash(s string) (ContentHash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return NilHash, fmt.Errorf("parsing content hash: %w", err)
	}
	if len(raw) != len(NilHash) {
		return NilHash, fmt.Errorf("parsing content hash: want %d bytes, got %d", len(NilHash), len(raw))
	}
	var h ContentHash
	copy(h[:], raw)
	return h, nil
}

// NewHasher returns a streaming BLAKE3 hasher producing 32-byte digests.
func NewHasher() *blake3.Hasher {
	return blake3.New(32, nil)
}

// SumHasher finalizes a streaming hasher into a ContentHash.
func SumHasher(h *blake3.Hasher) ContentHash {
	var out ContentHash
	copy(out[:], h.Sum(nil))
	return out
}

// CanonicalJSON converts a value to canonical JSON (stable key ordering).
func CanonicalJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var obj interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}

	return canonicalMarshal(obj)
}

func canonicalMarshal(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		return marshalSortedMap(val)
	case []interface{}:
		return marshalArray(val)
	default:
		return json.Marshal(v)
	}
}

func marshalSortedMap(m map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := canonicalMarshal(m[k])
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalArray(arr []interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')

	for i, v := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		valBytes, err := canonicalMarshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}

	buf.WriteByte(']')
	return buf.Bytes(), nil
}
