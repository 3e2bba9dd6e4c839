package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/timemerge/errors"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.WrapTransient(errors.ErrNoConnection, "retry", "test", "connect")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(2), func() error {
		calls++
		return errors.WrapTransient(errors.ErrNoConnection, "retry", "test", "connect")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, errors.Is(err, errors.ErrNoConnection))
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestDoStopsOnInvalidError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return errors.WrapInvalid(errors.ErrInvalidConfig, "retry", "test", "parse")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnFatalError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return errors.WrapFatal(errors.ErrDataCorrupted, "retry", "test", "read")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastConfig(10), func() error {
		calls++
		cancel()
		return errors.WrapTransient(errors.ErrNoConnection, "retry", "test", "connect")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoRejectsInvalidConfig(t *testing.T) {
	err := Do(context.Background(), Config{MaxAttempts: 0}, func() error { return nil })
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
