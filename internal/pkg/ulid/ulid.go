// Package ulid generates the time-sortable identifiers used for webhook
// deliveries. Lexicographic order matches creation order, so delivery IDs
// sort chronologically in the dead letter queue and the history API.
package ulid

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// A single monotonic entropy source keeps IDs strictly increasing within
// the process, even for deliveries created in the same millisecond.
var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// New generates a delivery ID for the current time.
func New() string {
	entropyLock.Lock()
	defer entropyLock.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}
