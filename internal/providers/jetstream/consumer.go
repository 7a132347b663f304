package jetstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/omnimart/marketplace-indexer/internal/adapter"
	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/logger"
	"github.com/omnimart/marketplace-indexer/internal/messaging"
)

// ConsumerConfig holds the configuration for the JetStream event consumer
type ConsumerConfig struct {
	Config
	ConsumerName   string
	AckWaitTimeout time.Duration
	MaxDeliver     int
}

type consumer struct {
	nc     adapter.NatsConn
	js     adapter.JetStream
	json   adapter.JSON
	config ConsumerConfig
}

// NewConsumer creates a new NATS JetStream market event consumer
func NewConsumer(cfg ConsumerConfig, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (messaging.Consumer, error) {
	nc, js, err := connect(cfg.Config, natsJS)
	if err != nil {
		return nil, err
	}

	return &consumer{
		nc:     nc,
		js:     js,
		json:   jsonAdapter,
		config: cfg,
	}, nil
}

// Run consumes market events until the context is cancelled. Handler
// outcomes map to acks: success acks, domain.ErrMalformedEvent terminates,
// anything else naks for redelivery.
func (c *consumer) Run(ctx context.Context, handler messaging.EventHandler) error {
	logger.Info("Starting event consumer",
		zap.String("stream", c.config.StreamName),
		zap.String("consumer", c.config.ConsumerName))

	consumerConfig := jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.config.AckWaitTimeout,
		MaxDeliver:    c.config.MaxDeliver,
		FilterSubject: "market.>",
	}

	jsConsumer, err := c.js.CreateOrUpdateConsumer(ctx, c.config.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create/update consumer: %w", err)
	}

	consumerInfo, err := jsConsumer.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get consumer info: %w", err)
	}
	logger.Info("Consumer created/retrieved", zap.String("consumer", consumerInfo.Name))

	msgChan := make(chan adapter.Message, 100)
	sub, err := jsConsumer.Consume(func(msg adapter.Message) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	defer sub.Stop()

	logger.Info("Started consuming messages")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down event consumer")
			return ctx.Err()
		case msg := <-msgChan:
			c.handleMessage(ctx, msg, handler)
		}
	}
}

// handleMessage processes a single NATS message
func (c *consumer) handleMessage(ctx context.Context, msg adapter.Message, handler messaging.EventHandler) {
	metadata, _ := msg.Metadata()

	var event domain.MarketEvent
	if err := c.json.Unmarshal(msg.Data(), &event); err != nil {
		logger.Error(err, zap.String("message", "Failed to unmarshal event"))
		// Terminate message for unparseable data
		if err := msg.Term(); err != nil {
			logger.Error(err, zap.String("message", "Failed to terminate message"))
		}
		return
	}

	var deliveryCount uint64
	if metadata != nil {
		deliveryCount = metadata.NumDelivered
	}
	logger.Debug("Received event",
		zap.String("chain", string(event.Chain)),
		zap.String("kind", string(event.Kind)),
		zap.String("txHash", event.TxHash),
		zap.Uint64("deliveryCount", deliveryCount),
	)

	if err := handler(ctx, &event); err != nil {
		if errors.Is(err, domain.ErrMalformedEvent) {
			logger.Error(err, zap.String("message", "Dropping malformed event"),
				zap.String("dedupKey", event.DedupKey()))
			if err := msg.Term(); err != nil {
				logger.Error(err, zap.String("message", "Failed to terminate message"))
			}
			return
		}

		logger.Error(err, zap.String("message", "Failed to handle event"))
		// NAK to retry
		if err := msg.Nak(); err != nil {
			logger.Error(err, zap.String("message", "Failed to NAK message"))
		}
		return
	}

	if err := msg.Ack(); err != nil {
		logger.Error(err, zap.String("message", "Failed to ACK message"))
	}
}

// Close closes the NATS connection
func (c *consumer) Close() {
	if c.nc == nil {
		return
	}
	c.nc.Close()
}
