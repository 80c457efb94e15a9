package inference

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRetryHandlerDefaults(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{MaxRetries: -2, Multiplier: 0.5})
	require.Equal(t, 0, handler.cfg.MaxRetries)
	require.Equal(t, defaultInitialBackoff, handler.cfg.InitialBackoff)
	require.Equal(t, defaultMaxBackoff, handler.cfg.MaxBackoff)
	require.Equal(t, defaultBackoffFactor, handler.cfg.Multiplier)
}

func TestRetryHandlerDo(t *testing.T) {
	fast := RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	t.Run("success after transient failure", func(t *testing.T) {
		calls := 0
		err := NewRetryHandler(fast).Do(context.Background(), func() error {
			calls++
			if calls < 2 {
				return &statusError{StatusCode: http.StatusServiceUnavailable}
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 2, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := NewRetryHandler(fast).Do(context.Background(), func() error {
			calls++
			return &statusError{StatusCode: http.StatusTooManyRequests}
		})
		require.Error(t, err)
		require.Equal(t, 3, calls)
	})

	t.Run("non-retryable returns immediately", func(t *testing.T) {
		calls := 0
		err := NewRetryHandler(fast).Do(context.Background(), func() error {
			calls++
			return &statusError{StatusCode: http.StatusBadRequest}
		})
		require.Error(t, err)
		require.Equal(t, 1, calls)
	})

	t.Run("context cancelled during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		handler := NewRetryHandler(RetryConfig{MaxRetries: 5, InitialBackoff: time.Hour})
		err := handler.Do(ctx, func() error {
			cancel()
			return &statusError{StatusCode: http.StatusBadGateway}
		})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestShouldRetry(t *testing.T) {
	require.False(t, shouldRetry(nil))
	require.False(t, shouldRetry(context.Canceled))
	require.False(t, shouldRetry(context.DeadlineExceeded))
	require.False(t, shouldRetry(errors.New("boom")))
	require.True(t, shouldRetry(&statusError{StatusCode: http.StatusGatewayTimeout}))
	require.True(t, shouldRetry(&net.OpError{Op: "dial", Err: errors.New("refused")}))
}
