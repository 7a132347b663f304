package messaging

import (
	"context"

	"github.com/omnimart/marketplace-indexer/internal/domain"
)

// EventHandler is called for each market event delivered by the broker.
// Returning domain.ErrMalformedEvent drops the message permanently; any
// other error triggers redelivery.
type EventHandler func(ctx context.Context, event *domain.MarketEvent) error

// Consumer defines the interface for streaming market events from the
// broker into a handler
//
//go:generate mockgen -source=consumer.go -destination=../mocks/consumer.go -package=mocks -mock_names=Consumer=MockConsumer
type Consumer interface {
	// Run consumes events until the context is cancelled
	Run(ctx context.Context, handler EventHandler) error

	// Close closes the connection and cleans up resources
	Close()
}
