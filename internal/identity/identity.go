// Package identity generates the ULID request identifiers used across the
// request log, access history and live feed.
package identity

import (
	"crypto/rand"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewRequestID returns a new ULID. IDs generated by one process sort in
// generation order, even within the same millisecond.
func NewRequestID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy)
	return id.String()
}

// RequestTime extracts the timestamp embedded in a request ID.
func RequestTime(s string) (time.Time, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse ULID: %w", err)
	}
	ms := id.Time()
	if ms/1000 > uint64(math.MaxInt64) {
		return time.Time{}, fmt.Errorf("ULID timestamp %d exceeds int64 range", ms)
	}
	return time.Unix(int64(ms/1000), int64(ms%1000)*1e6), nil //nolint:gosec // overflow checked above
}
