package source

import (
	"context"

	"github.com/omnimart/marketplace-indexer/internal/domain"
)

// Batch holds the normalized events read from one poll window together
// with the highest chain position the window covered. The poller advances
// the chain cursor to Position only after the batch has been published.
type Batch struct {
	Events []domain.MarketEvent

	// Position is the last block (EVM) or slot (Solana) covered by this
	// fetch. When the window produced nothing new it is from-1 so the
	// cursor stays put.
	Position uint64
}

// EventSource reads marketplace and bridge events from one chain.
// Implementations must be deterministic for a given window: fetching the
// same range twice yields the same events in the same order.
//
//go:generate mockgen -source=source.go -destination=../mocks/event_source.go -package=mocks -mock_names=EventSource=MockEventSource
type EventSource interface {
	// Chain returns the chain this source reads from
	Chain() domain.Chain

	// Fetch reads events from position `from` up to the source's window cap.
	// Transient provider failures are reported as domain.ErrSourceUnavailable.
	Fetch(ctx context.Context, from uint64) (*Batch, error)

	// Latest returns the current head position of the chain
	Latest(ctx context.Context) (uint64, error)

	// Close releases the underlying connection
	Close()
}
