package ratelimit_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnimart/marketplace-indexer/internal/mocks"
	"github.com/omnimart/marketplace-indexer/internal/ratelimit"
)

func TestLimiter_AllowsBurst(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 1, Burst: 3})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Burst tokens are available immediately
	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Wait(ctx))
	}
}

func TestLimiter_CancelledContextUnblocks(t *testing.T) {
	// Tiny rate so the second token is far away
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 0.001, Burst: 1})

	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	require.Error(t, err)
}

func TestHTTPClient_DelegatesAfterToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	inner := mocks.NewMockHTTPClient(ctrl)
	inner.EXPECT().
		Post(gomock.Any(), "http://rpc.test", "application/json", gomock.Any()).
		Return([]byte(`{"ok":true}`), nil)

	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 10})
	client := ratelimit.NewHTTPClient(inner, limiter)

	body, err := client.Post(context.Background(), "http://rpc.test", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestHTTPClient_InnerErrorPassedThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cause := errors.New("rpc unavailable")
	inner := mocks.NewMockHTTPClient(ctrl)
	inner.EXPECT().
		Post(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, cause)

	client := ratelimit.NewHTTPClient(inner, ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 10}))

	_, err := client.Post(context.Background(), "http://rpc.test", "application/json", nil)
	require.ErrorIs(t, err, cause)
}

func TestHTTPClient_CancelledContextSkipsRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// Inner client gets no expectations, so any call would fail the test
	inner := mocks.NewMockHTTPClient(ctrl)

	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 0.001, Burst: 1})
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := ratelimit.NewHTTPClient(inner, limiter)
	_, err := client.Post(ctx, "http://rpc.test", "application/json", nil)
	require.Error(t, err)
}
