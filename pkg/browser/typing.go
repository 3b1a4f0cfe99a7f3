package browser

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/entrhq/postforge/pkg/clock"
)

// Typist types text one character at a time with a random pause between
// keystrokes, bounded by [MinDelay, MaxDelay].
type Typist struct {
	Clock    clock.Clock
	Rand     *rand.Rand
	MinDelay time.Duration
	MaxDelay time.Duration
}

// NewTypist creates a typist seeded from the current time.
func NewTypist(c clock.Clock, minDelay, maxDelay time.Duration) *Typist {
	return &Typist{
		Clock:    c,
		Rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		MinDelay: minDelay,
		MaxDelay: maxDelay,
	}
}

// Delay returns the next inter-keystroke pause.
func (t *Typist) Delay() time.Duration {
	if t.MaxDelay <= t.MinDelay {
		return t.MinDelay
	}
	span := int64(t.MaxDelay - t.MinDelay)
	return t.MinDelay + time.Duration(t.Rand.Int63n(span+1))
}

// Type sends text to el keystroke by keystroke. Invalid UTF-8 bytes are
// sent as U+FFFD.
func (t *Typist) Type(ctx context.Context, el Element, text string) error {
	for _, r := range text {
		if err := el.Type(string(r)); err != nil {
			return err
		}
		if err := t.Clock.Sleep(ctx, t.Delay()); err != nil {
			return fmt.Errorf("typing interrupted: %w", err)
		}
	}
	return nil
}
