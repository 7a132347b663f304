package jetstream_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	natsjs "github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnimart/marketplace-indexer/internal/adapter"
	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/messaging"
	"github.com/omnimart/marketplace-indexer/internal/mocks"
	"github.com/omnimart/marketplace-indexer/internal/providers/jetstream"
)

func testConsumerConfig() jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Config:         testConfig(),
		ConsumerName:   "market-applier",
		AckWaitTimeout: 30 * time.Second,
		MaxDeliver:     5,
	}
}

type testConsumerMocks struct {
	ctrl *gomock.Controller
	conn *mocks.MockNatsConn
	js   *mocks.MockJetStream
	sub  *mocks.MockConsumeContext
}

func setupConsumer(t *testing.T) (*testConsumerMocks, messaging.Consumer) {
	ctrl := gomock.NewController(t)
	tm := &testConsumerMocks{
		ctrl: ctrl,
		conn: mocks.NewMockNatsConn(ctrl),
		js:   mocks.NewMockJetStream(ctrl),
		sub:  mocks.NewMockConsumeContext(ctrl),
	}

	natsJS := mocks.NewMockNatsJetStream(ctrl)
	natsJS.EXPECT().
		Connect(testConfig().URL, gomock.Any()).
		Return(tm.conn, tm.js, nil)

	consumer, err := jetstream.NewConsumer(testConsumerConfig(), natsJS, adapter.NewJSON())
	require.NoError(t, err)
	return tm, consumer
}

// eventMessage builds a mock broker message carrying the given event.
func eventMessage(t *testing.T, ctrl *gomock.Controller, event *domain.MarketEvent) *mocks.MockJetStreamMessage {
	data, err := adapter.NewJSON().Marshal(event)
	require.NoError(t, err)

	msg := mocks.NewMockJetStreamMessage(ctrl)
	msg.EXPECT().Data().Return(data)
	msg.EXPECT().Metadata().Return(&natsjs.MsgMetadata{NumDelivered: 1}, nil)
	return msg
}

func TestConsumer_AckNakTermOutcomes(t *testing.T) {
	tm, consumer := setupConsumer(t)
	defer tm.ctrl.Finish()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handlerChan := make(chan adapter.MessageHandler, 1)
	outcomes := make(chan string, 4)

	tm.js.EXPECT().
		CreateOrUpdateConsumer(gomock.Any(), "MARKET_EVENTS", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, cfg natsjs.ConsumerConfig) (adapter.Consumer, error) {
			assert.Equal(t, "market-applier", cfg.Durable)
			assert.Equal(t, natsjs.AckExplicitPolicy, cfg.AckPolicy)
			assert.Equal(t, 30*time.Second, cfg.AckWait)
			assert.Equal(t, 5, cfg.MaxDeliver)
			assert.Equal(t, "market.>", cfg.FilterSubject)

			jsConsumer := mocks.NewMockNatsConsumer(tm.ctrl)
			jsConsumer.EXPECT().
				Info(gomock.Any()).
				Return(&natsjs.ConsumerInfo{Name: "market-applier"}, nil)
			jsConsumer.EXPECT().
				Consume(gomock.Any()).
				DoAndReturn(func(handler adapter.MessageHandler, _ ...natsjs.PullConsumeOpt) (adapter.ConsumeContext, error) {
					handlerChan <- handler
					return tm.sub, nil
				})
			return jsConsumer, nil
		})
	tm.sub.EXPECT().Stop()

	runErr := make(chan error, 1)
	go func() {
		runErr <- consumer.Run(ctx, func(_ context.Context, event *domain.MarketEvent) error {
			switch event.TxHash {
			case "0xretry":
				return errors.New("store unavailable")
			case "0xpoison":
				return domain.ErrMalformedEvent
			default:
				return nil
			}
		})
	}()

	var deliver adapter.MessageHandler
	select {
	case deliver = <-handlerChan:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer never subscribed")
	}

	good := eventMessage(t, tm.ctrl, &domain.MarketEvent{
		Kind:   domain.EventKindBidPlaced,
		Chain:  domain.ChainEthereumMainnet,
		TxHash: "0xgood",
	})
	good.EXPECT().Ack().DoAndReturn(func() error {
		outcomes <- "ack"
		return nil
	})

	retryable := eventMessage(t, tm.ctrl, &domain.MarketEvent{
		Kind:   domain.EventKindSaleSettled,
		Chain:  domain.ChainEthereumMainnet,
		TxHash: "0xretry",
	})
	retryable.EXPECT().Nak().DoAndReturn(func() error {
		outcomes <- "nak"
		return nil
	})

	poison := eventMessage(t, tm.ctrl, &domain.MarketEvent{
		Kind:   domain.EventKindTransfer,
		Chain:  domain.ChainPolygonMainnet,
		TxHash: "0xpoison",
	})
	poison.EXPECT().Term().DoAndReturn(func() error {
		outcomes <- "term"
		return nil
	})

	garbled := mocks.NewMockJetStreamMessage(tm.ctrl)
	garbled.EXPECT().Data().Return([]byte("{not json"))
	garbled.EXPECT().Metadata().Return(nil, errors.New("no metadata"))
	garbled.EXPECT().Term().DoAndReturn(func() error {
		outcomes <- "term"
		return nil
	})

	deliver(good)
	deliver(retryable)
	deliver(poison)
	deliver(garbled)

	for _, want := range []string{"ack", "nak", "term", "term"} {
		select {
		case got := <-outcomes:
			assert.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %q outcome", want)
		}
	}

	cancel()
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not shut down")
	}
}

func TestConsumer_CreateConsumerFailure(t *testing.T) {
	tm, consumer := setupConsumer(t)
	defer tm.ctrl.Finish()

	tm.js.EXPECT().
		CreateOrUpdateConsumer(gomock.Any(), "MARKET_EVENTS", gomock.Any()).
		Return(nil, errors.New("stream not found"))

	err := consumer.Run(context.Background(), func(context.Context, *domain.MarketEvent) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create/update consumer")
}

func TestConsumer_SubscribeFailure(t *testing.T) {
	tm, consumer := setupConsumer(t)
	defer tm.ctrl.Finish()

	jsConsumer := mocks.NewMockNatsConsumer(tm.ctrl)
	jsConsumer.EXPECT().
		Info(gomock.Any()).
		Return(&natsjs.ConsumerInfo{Name: "market-applier"}, nil)
	jsConsumer.EXPECT().
		Consume(gomock.Any()).
		Return(nil, errors.New("consumer deleted"))
	tm.js.EXPECT().
		CreateOrUpdateConsumer(gomock.Any(), "MARKET_EVENTS", gomock.Any()).
		Return(jsConsumer, nil)

	err := consumer.Run(context.Background(), func(context.Context, *domain.MarketEvent) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create subscription")
}

func TestConsumer_Close(t *testing.T) {
	tm, consumer := setupConsumer(t)
	defer tm.ctrl.Finish()

	tm.conn.EXPECT().Close()
	consumer.Close()
}
