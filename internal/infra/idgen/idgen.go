// Package idgen provides the identifier generator for ledger entities.
package idgen

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// UUID generates random (v4) UUID strings.
type UUID struct{}

// New returns a UUID generator.
func New() UUID { return UUID{} }

// NewID returns a fresh identifier. If the system entropy source fails it falls back
// to a time-plus-random identifier instead of panicking.
func (UUID) NewID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fallbackID(time.Now())
	}
	return id.String()
}

func fallbackID(now time.Time) string {
	return fmt.Sprintf("id-%s-%s",
		strconv.FormatInt(now.UnixMilli(), 36),
		strconv.FormatUint(rand.Uint64(), 36),
	)
}
