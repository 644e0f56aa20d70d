package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errProvider = errors.New("provider down")

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int) (*Breaker, *clock) {
	c := &clock{t: time.Unix(1700000000, 0)}
	b := New("test", Config{FailureThreshold: threshold, OpenTimeout: 10 * time.Second})
	b.now = c.now
	return b, c
}

func fail(context.Context) error { return errProvider }
func succeed(context.Context) error { return nil }

func TestBreaker(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldPassThroughErrorsWhileClosed", func(t *testing.T) {
		b, _ := newTestBreaker(3)
		require.ErrorIs(t, b.Execute(ctx, fail), errProvider)
		require.NoError(t, b.Execute(ctx, succeed))
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("ShouldOpenAfterConsecutiveFailures", func(t *testing.T) {
		b, _ := newTestBreaker(2)
		calls := 0
		counting := func(context.Context) error {
			calls++
			return errProvider
		}
		_ = b.Execute(ctx, counting)
		_ = b.Execute(ctx, counting)
		assert.Equal(t, StateOpen, b.State())

		err := b.Execute(ctx, counting)
		require.ErrorIs(t, err, ErrOpen)
		assert.Equal(t, 2, calls)
	})

	t.Run("ShouldResetFailuresOnSuccess", func(t *testing.T) {
		b, _ := newTestBreaker(2)
		_ = b.Execute(ctx, fail)
		_ = b.Execute(ctx, succeed)
		_ = b.Execute(ctx, fail)
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("ShouldCloseAfterSuccessfulProbe", func(t *testing.T) {
		b, c := newTestBreaker(1)
		_ = b.Execute(ctx, fail)
		require.Equal(t, StateOpen, b.State())

		c.advance(10 * time.Second)
		assert.Equal(t, StateHalfOpen, b.State())
		require.NoError(t, b.Execute(ctx, succeed))
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("ShouldReopenAfterFailedProbe", func(t *testing.T) {
		b, c := newTestBreaker(1)
		_ = b.Execute(ctx, fail)
		c.advance(11 * time.Second)
		require.ErrorIs(t, b.Execute(ctx, fail), errProvider)
		assert.Equal(t, StateOpen, b.State())
		require.ErrorIs(t, b.Execute(ctx, succeed), ErrOpen)
	})

	t.Run("ShouldNotCountCallerCancellation", func(t *testing.T) {
		b, _ := newTestBreaker(1)
		cctx, cancel := context.WithCancel(ctx)
		err := b.Execute(cctx, func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("ShouldReportTransitions", func(t *testing.T) {
		var seen []string
		b := New("llm", Config{
			FailureThreshold: 1,
			OnStateChange: func(name string, from, to State) {
				seen = append(seen, name+":"+from.String()+"->"+to.String())
			},
		})
		_ = b.Execute(ctx, fail)
		assert.Equal(t, []string{"llm:closed->open"}, seen)
	})
}
