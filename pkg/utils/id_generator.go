package utils

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// IDGenerator hands out row ids and payment references. References are
// ULIDs, so they sort by creation time.
type IDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewID returns a random UUID for wallets, transactions and intents.
func (g *IDGenerator) NewID() string {
	return uuid.NewString()
}

// NewReference returns "<prefix>_<ULID>", e.g. pi_01J9Z3NDEKTSV4RRFFQ69G5FAV.
func (g *IDGenerator) NewReference(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
	if prefix == "" {
		return id.String()
	}
	return strings.ToLower(prefix) + "_" + id.String()
}
