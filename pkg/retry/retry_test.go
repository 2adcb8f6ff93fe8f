package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/sajanshree/order-api/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func fastConfig(attempts int) *RetryConfig {
	return &RetryConfig{MaxAttempts: attempts, BackoffStrategy: &ConstantBackoff{Interval: time.Millisecond}}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	}, fastConfig(3))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhausted(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	}, fastConfig(3))

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryableAppError(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Retry(context.Background(), func(context.Context) error {
		calls++
		return apperrors.NewNotFoundError("gone")
	}, fastConfig(5))

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryOnlyListedErrors(t *testing.T) {
	t.Parallel()

	cfg := fastConfig(5)
	cfg.RetryableErrors = []error{errFlaky}

	calls := 0
	err := Retry(context.Background(), func(context.Context) error {
		calls++
		return errors.New("permanent")
	}, cfg)

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, func(context.Context) error { return nil }, fastConfig(3))
	assert.ErrorIs(t, err, context.Canceled)

	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = Retry(ctx, func(context.Context) error { return errFlaky }, &RetryConfig{
		MaxAttempts:     3,
		BackoffStrategy: &ConstantBackoff{Interval: time.Minute},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()

	b := &ExponentialBackoff{InitialInterval: 100 * time.Millisecond, MaxInterval: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, b.NextBackoff(1))
	assert.Equal(t, 200*time.Millisecond, b.NextBackoff(2))
	assert.Equal(t, 400*time.Millisecond, b.NextBackoff(3))
	assert.Equal(t, time.Second, b.NextBackoff(10))
	assert.Equal(t, 100*time.Millisecond, b.NextBackoff(0))

	jittered := NewDefaultExponentialBackoff().NextBackoff(1)
	assert.GreaterOrEqual(t, jittered, 200*time.Millisecond)
	assert.LessOrEqual(t, jittered, 240*time.Millisecond)
}
