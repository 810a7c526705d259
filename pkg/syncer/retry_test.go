package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/Glitchy-Sheep/boosty-downloader/pkg/errcodes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy(delays *[]time.Duration) RetryPolicy {
	p := DefaultRetryPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	}
	return p
}

func TestRetryPolicy_Do(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("gives up after max attempts with growing backoff", func(t *testing.T) {
		var delays []time.Duration
		policy := testPolicy(&delays)

		attempts := 0
		err := policy.Do(ctx, func(ctx context.Context) error {
			attempts++
			return errcodes.Transient(errors.New("connection reset"), "fetch part")
		})

		require.Error(t, err)
		assert.Equal(t, 5, attempts)
		// No delay before the first attempt, then 1s, 2s, 4s, 8s.
		require.Equal(t, []time.Duration{
			time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
		}, delays)
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		policy := testPolicy(nil)

		attempts := 0
		err := policy.Do(ctx, func(ctx context.Context) error {
			attempts++
			return errcodes.Permanent(errors.New("410 gone"), "fetch part")
		})

		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("unclassified errors are not retried", func(t *testing.T) {
		policy := testPolicy(nil)

		attempts := 0
		err := policy.Do(ctx, func(ctx context.Context) error {
			attempts++
			return errors.New("plain error")
		})

		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("succeeds after transient failures", func(t *testing.T) {
		var delays []time.Duration
		policy := testPolicy(&delays)

		attempts := 0
		err := policy.Do(ctx, func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errcodes.Transient(errors.New("timeout"), "fetch part")
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
		assert.Len(t, delays, 2)
	})

	t.Run("cancellation during the backoff sleep surfaces as an interrupt", func(t *testing.T) {
		policy := DefaultRetryPolicy()
		cancelled, cancel := context.WithCancel(ctx)
		policy.Sleep = func(ctx context.Context, d time.Duration) error {
			cancel()
			return errors.WithStack(ctx.Err())
		}

		attempts := 0
		err := policy.Do(cancelled, func(ctx context.Context) error {
			attempts++
			return errcodes.Transient(errors.New("timeout"), "fetch part")
		})

		require.Error(t, err)
		assert.Equal(t, 1, attempts)
		assert.Equal(t, errcodes.KindInterrupted, errcodes.KindOf(err))
	})

	t.Run("cancellation surfaces as an interrupt", func(t *testing.T) {
		policy := testPolicy(nil)
		cancelled, cancel := context.WithCancel(ctx)

		err := policy.Do(cancelled, func(ctx context.Context) error {
			cancel()
			return errcodes.Transient(errors.New("timeout"), "fetch part")
		})

		require.Error(t, err)
		assert.Equal(t, errcodes.KindInterrupted, errcodes.KindOf(err))
	})
}

func TestRetryPolicy_Delay(t *testing.T) {
	t.Parallel()

	policy := DefaultRetryPolicy()

	assert.Equal(t, time.Duration(0), policy.Delay(1))
	assert.Equal(t, time.Second, policy.Delay(2))
	assert.Equal(t, 2*time.Second, policy.Delay(3))
	assert.Equal(t, 16*time.Second, policy.Delay(6))
	// Capped, even for absurd attempt counts.
	assert.Equal(t, 30*time.Second, policy.Delay(7))
	assert.Equal(t, 30*time.Second, policy.Delay(64))
}
