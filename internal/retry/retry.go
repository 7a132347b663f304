package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/omnimart/marketplace-indexer/internal/domain"
)

const defaultMaxAttempts = 5

// OnConflict runs fn, retrying with exponential backoff whenever it returns
// domain.ErrConflictRetryable. Any other error stops the retry loop
// immediately. fn must be safe to re-run from the top, which holds for
// engine operations because they do all their writes inside a single
// transaction.
func OnConflict(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	policy := backoff.WithContext(backoff.WithMaxRetries(b, defaultMaxAttempts), ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrConflictRetryable) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
