package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/sqlite-txt/txterrors"
)

// RetryPolicy bounds how often a failed event is re-executed.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy allows 5 attempts, backing off from 20ms up to 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 5, Initial: 20 * time.Millisecond, Max: time.Second}
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Initial < 0 {
		p.Initial = 0
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	return p
}

// permanent errors fail the event without another attempt.
func permanent(err error) bool {
	return errors.Is(err, txterrors.ErrMalformedDefinition) ||
		errors.Is(err, txterrors.ErrUnknownDefinition) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (c *Coordinator) retry(ctx context.Context, logger zerolog.Logger, kind string, fn func(ctx context.Context) error) error {
	backoff := c.policy.Initial
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if permanent(err) {
			return err
		}
		if attempt >= c.policy.Attempts {
			logger.Error().Err(err).Int("attempt", attempt).Msg("retries exhausted")
			return fmt.Errorf("coordinator: %s: %w after %d attempts: %w", kind, txterrors.ErrRetriesExhausted, attempt, err)
		}
		retriesTotal.WithLabelValues(kind).Inc()
		logger.Warn().Err(err).Int("attempt", attempt).Bool("transient", txterrors.IsTransient(err)).Dur("backoff", backoff).Msg("retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if backoff *= 2; backoff > c.policy.Max {
			backoff = c.policy.Max
		}
	}
}
