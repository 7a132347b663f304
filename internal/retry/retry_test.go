package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnimart/marketplace-indexer/internal/domain"
	"github.com/omnimart/marketplace-indexer/internal/retry"
)

func TestOnConflict_FirstAttemptSucceeds(t *testing.T) {
	calls := 0
	err := retry.OnConflict(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestOnConflict_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := retry.OnConflict(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("serialize listing: %w", domain.ErrConflictRetryable)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestOnConflict_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	err := retry.OnConflict(context.Background(), func() error {
		calls++
		return domain.ErrNotFound
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestOnConflict_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := retry.OnConflict(context.Background(), func() error {
		calls++
		return domain.ErrConflictRetryable
	})
	require.ErrorIs(t, err, domain.ErrConflictRetryable)
	// initial attempt plus the retry budget
	assert.Equal(t, 6, calls)
}

func TestOnConflict_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retry.OnConflict(ctx, func() error {
		calls++
		return domain.ErrConflictRetryable
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls, 1)
}

func TestOnConflict_ErrorWrappingPreserved(t *testing.T) {
	cause := errors.New("boom")
	err := retry.OnConflict(context.Background(), func() error {
		return fmt.Errorf("apply event: %w", cause)
	})
	require.ErrorIs(t, err, cause)
}
