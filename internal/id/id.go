// Package id provides the node identifier type: a ULID, so ids are
// globally unique and monotonically sortable by creation time.
package id

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is the stable logical identity of a graph node. It is never reused;
// structural replacement of a node allocates a fresh ID and carries the old
// identity forward through the lineage id.
type ID ulid.ULID

// Nil is the zero ID.
var Nil ID

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New allocates a fresh ID. IDs allocated later sort after IDs allocated
// earlier, including within the same millisecond.
func New() ID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ID(ulid.MustNew(ulid.Timestamp(time.Now()), entropy))
}

// Parse parses the canonical 26-character ULID string form.
func Parse(s string) (ID, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return Nil, fmt.Errorf("parsing id %q: %w", s, err)
	}
	return ID(u), nil
}

// String returns the canonical ULID string form.
func (i ID) String() string {
	return ulid.ULID(i).String()
}

// IsNil reports whether the ID is the zero value.
func (i ID) IsNil() bool {
	return i == Nil
}

// Compare orders two IDs lexicographically (equivalently, by creation time).
func (i ID) Compare(other ID) int {
	return ulid.ULID(i).Compare(ulid.ULID(other))
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
