package adapter

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NatsConn is the slice of a NATS connection the event bus needs
//
//go:generate mockgen -source=nats.go -destination=../mocks/nats.go -package=mocks -mock_names=NatsConn=MockNatsConn
type NatsConn interface {
	Close()
	LastError() error
	ConnectedUrl() string
}

// JetStream exposes the JetStream operations used by the publisher and
// consumer, returning our Consumer wrapper instead of the library type
//
//go:generate mockgen -source=nats.go -destination=../mocks/nats.go -package=mocks -mock_names=JetStream=MockJetStream
type JetStream interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
	CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (Consumer, error)
	Consumer(ctx context.Context, stream string, consumer string) (Consumer, error)
}

// MessageHandler receives each delivered stream message
type MessageHandler func(msg Message)

// Consumer is the pull-consumer surface the event applier subscribes through
//
//go:generate mockgen -source=nats.go -destination=../mocks/nats.go -package=mocks -mock_names=Consumer=MockNatsConsumer
type Consumer interface {
	Consume(handler MessageHandler, opts ...jetstream.PullConsumeOpt) (ConsumeContext, error)
	Info(ctx context.Context) (*jetstream.ConsumerInfo, error)
}

// ConsumeContext controls an active subscription
//
//go:generate mockgen -source=nats.go -destination=../mocks/nats.go -package=mocks -mock_names=ConsumeContext=MockConsumeContext
type ConsumeContext interface {
	Stop()
	Drain()
	Closed() <-chan struct{}
}

// Message is a delivered stream message with its ack controls
//
//go:generate mockgen -source=nats.go -destination=../mocks/nats.go -package=mocks -mock_names=Message=MockJetStreamMessage
type Message interface {
	Data() []byte
	Metadata() (*jetstream.MsgMetadata, error)
	Ack() error
	Nak() error
	Term() error
}

// NatsJetStream dials a NATS server and hands back the connection together
// with its JetStream context
//
//go:generate mockgen -source=nats.go -destination=../mocks/nats.go -package=mocks -mock_names=NatsJetStream=MockNatsJetStream
type NatsJetStream interface {
	Connect(url string, options ...nats.Option) (NatsConn, JetStream, error)
}

// RealNatsJetStream backs NatsJetStream with the nats.go client
type RealNatsJetStream struct{}

// NewNatsJetStream returns the nats.go backed implementation
func NewNatsJetStream() NatsJetStream {
	return &RealNatsJetStream{}
}

func (n *RealNatsJetStream) Connect(url string, options ...nats.Option) (NatsConn, JetStream, error) {
	nc, err := nats.Connect(url, options...)
	if err != nil {
		return nil, nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	return nc, &jetStreamShim{js: js}, nil
}

// jetStreamShim rewraps jetstream.JetStream so consumer lookups return our
// Consumer interface rather than jetstream.Consumer
type jetStreamShim struct {
	js jetstream.JetStream
}

func (s *jetStreamShim) Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	return s.js.Publish(ctx, subject, data, opts...)
}

func (s *jetStreamShim) CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (Consumer, error) {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, stream, cfg)
	if err != nil {
		return nil, err
	}
	return &consumerShim{consumer: consumer}, nil
}

func (s *jetStreamShim) Consumer(ctx context.Context, stream string, consumer string) (Consumer, error) {
	c, err := s.js.Consumer(ctx, stream, consumer)
	if err != nil {
		return nil, err
	}
	return &consumerShim{consumer: c}, nil
}

// consumerShim forwards to the underlying jetstream.Consumer, narrowing the
// callback type to MessageHandler
type consumerShim struct {
	consumer jetstream.Consumer
}

func (s *consumerShim) Consume(handler MessageHandler, opts ...jetstream.PullConsumeOpt) (ConsumeContext, error) {
	return s.consumer.Consume(func(msg jetstream.Msg) {
		handler(msg)
	}, opts...)
}

func (s *consumerShim) Info(ctx context.Context) (*jetstream.ConsumerInfo, error) {
	return s.consumer.Info(ctx)
}
