package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// maxBackoff caps the delay between startup attempts.
const maxBackoff = 10 * time.Second

// withRetry calls fn until it succeeds, attempts are exhausted, or ctx is
// done. The delay doubles after every failure. It returns the last error.
func withRetry(ctx context.Context, log zerolog.Logger, what string, attempts int, backoff time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		log.Warn().Err(err).
			Str("target", what).
			Int("attempt", i).
			Dur("retry_in", backoff).
			Msg("Connection attempt failed")

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
	return err
}
