package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	return newULID(time.Now()).String()
}

// NewSessionID returns the identifier for a freshly accepted connection.
// Identifiers are never reused within a process, so a stale id can only miss.
func NewSessionID() string {
	return CreateULID()
}

// SessionTime extracts the creation time embedded in a session id.
func SessionTime(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}

func newULID(at time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy)
}
