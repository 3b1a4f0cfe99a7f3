package clock

import (
	"context"
	"errors"
	"time"
)

// ErrPollExhausted is returned by Poll when every attempt ran without the
// condition reporting done.
var ErrPollExhausted = errors.New("poll attempts exhausted")

// PollFunc is evaluated once per attempt. Returning done=true stops polling;
// a non-nil error stops polling and is returned as-is.
type PollFunc func(ctx context.Context, attempt int) (done bool, err error)

// Poll runs fn up to maxAttempts times, sleeping interval on c between
// attempts. Attempts are numbered from 1. The first attempt runs after one
// interval, matching a "wait, then check" loop.
func Poll(ctx context.Context, c Clock, interval time.Duration, maxAttempts int, fn PollFunc) (int, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.Sleep(ctx, interval); err != nil {
			return attempt - 1, err
		}

		done, err := fn(ctx, attempt)
		if err != nil {
			return attempt, err
		}
		if done {
			return attempt, nil
		}
	}
	return maxAttempts, ErrPollExhausted
}
