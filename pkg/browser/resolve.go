package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Target is a logical UI element described by an ordered list of candidate
// selectors, most specific first.
type Target struct {
	// Name identifies the target in diagnostics ("compose trigger").
	Name string

	// Selectors are tried in order.
	Selectors []string

	// State is the state a candidate must reach. Empty means StateVisible.
	State ElementState
}

// ResolveError reports that no candidate of a target resolved.
type ResolveError struct {
	Target string
	Tried  []string
	Last   error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("could not locate %s (tried %d selectors: %s)",
		e.Target, len(e.Tried), strings.Join(e.Tried, ", "))
}

func (e *ResolveError) Unwrap() error {
	return e.Last
}

// Resolution is the outcome of a successful Resolve.
type Resolution struct {
	Element  Element
	Selector string
	Index    int
}

// Resolve returns the first candidate of target that reaches its state
// within wait. Each candidate gets its own wait. A cancelled context stops
// resolution immediately and is returned unwrapped.
func Resolve(ctx context.Context, page Page, target Target, wait time.Duration) (Element, error) {
	res, err := ResolveDetailed(ctx, page, target, wait)
	if err != nil {
		return nil, err
	}
	return res.Element, nil
}

// ResolveDetailed is Resolve, also reporting which candidate matched.
func ResolveDetailed(ctx context.Context, page Page, target Target, wait time.Duration) (*Resolution, error) {
	state := target.State
	if state == "" {
		state = StateVisible
	}

	rerr := &ResolveError{Target: target.Name}
	for i, selector := range target.Selectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rerr.Tried = append(rerr.Tried, selector)
		el, err := page.Find(ctx, selector, state, wait)
		if err == nil {
			return &Resolution{Element: el, Selector: selector, Index: i}, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		rerr.Last = err
	}
	return nil, rerr
}

// Present reports whether any candidate of target resolves within wait.
// It is used for advisory probes such as post-login markers and toasts.
func Present(ctx context.Context, page Page, target Target, wait time.Duration) bool {
	_, err := Resolve(ctx, page, target, wait)
	return err == nil
}
