package clock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_SleepAdvancesTime(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	require.NoError(t, fake.Sleep(context.Background(), 10*time.Second))
	require.NoError(t, fake.Sleep(context.Background(), 5*time.Second))

	assert.Equal(t, start.Add(15*time.Second), fake.Now())
	assert.Equal(t, []time.Duration{10 * time.Second, 5 * time.Second}, fake.Sleeps())
	assert.Equal(t, 15*time.Second, fake.Slept())
}

func TestFake_SleepHonoursCancelledContext(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fake.Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.Sleeps())
}

func TestFake_OnSleepHook(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))
	var calls int
	fake.OnSleep(func(time.Time) { calls++ })

	_ = fake.Sleep(context.Background(), time.Second)
	_ = fake.Sleep(context.Background(), time.Second)

	assert.Equal(t, 2, calls)
}

func TestReal_SleepReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := New().Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoll(t *testing.T) {
	tests := []struct {
		name         string
		doneAt       int
		maxAttempts  int
		wantAttempts int
		wantErr      error
	}{
		{name: "done on first attempt", doneAt: 1, maxAttempts: 5, wantAttempts: 1},
		{name: "done on last attempt", doneAt: 5, maxAttempts: 5, wantAttempts: 5},
		{name: "never done", doneAt: 0, maxAttempts: 30, wantAttempts: 30, wantErr: ErrPollExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := NewFake(time.Unix(0, 0))
			attempts, err := Poll(context.Background(), fake, 10*time.Second, tt.maxAttempts,
				func(_ context.Context, attempt int) (bool, error) {
					return attempt == tt.doneAt, nil
				})

			assert.Equal(t, tt.wantAttempts, attempts)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, time.Duration(tt.wantAttempts)*10*time.Second, fake.Slept())
		})
	}
}

func TestPoll_StopsOnError(t *testing.T) {
	boom := errors.New("boom")
	attempts, err := Poll(context.Background(), NewFake(time.Unix(0, 0)), time.Second, 10,
		func(_ context.Context, attempt int) (bool, error) {
			if attempt == 3 {
				return false, boom
			}
			return false, nil
		})

	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, boom)
}
