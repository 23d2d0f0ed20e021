// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the ledger service
// from concrete persistence and infrastructure.
package port

import (
	"context"

	"github.com/boddenberg/habit-hero-go/internal/domain"
)

// LedgerStore is the persistence gateway for the household aggregate.
// It owns no business logic. Multi-row writes (settings, bulk, import, reset) must be
// applied atomically by the implementation.
type LedgerStore interface {
	// LoadAll returns the full aggregate, transactions newest-first.
	LoadAll(ctx context.Context) (*domain.AppData, error)

	// SaveSettings replaces profile, balance and the four non-transaction collections.
	SaveSettings(ctx context.Context, settings domain.Settings) error

	// AppendTransaction durably records a single transaction.
	AppendTransaction(ctx context.Context, tx domain.Transaction) error

	// AppendTransactionsBulk records all of txs in one batch, or none of them.
	AppendTransactionsBulk(ctx context.Context, txs []domain.Transaction) error

	// ImportAll replaces everything, transactions included.
	ImportAll(ctx context.Context, data *domain.AppData) error

	// ResetAll wipes everything and reseeds the defaults.
	ResetAll(ctx context.Context) error

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}

// IDGenerator produces collision-resistant opaque identifiers.
type IDGenerator interface {
	NewID() string
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	Purge()
}
