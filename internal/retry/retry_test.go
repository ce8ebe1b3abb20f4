package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

func fastPolicy(maxRetries int) *Policy {
	return New(Config{
		MaxRetries:    maxRetries,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		JitterPercent: 10,
	})
}

func TestDo(t *testing.T) {
	t.Run("success after transient failures", func(t *testing.T) {
		calls := 0
		got, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", types.NewError(types.KindServerError, types.CodeServiceUnavailable, "busy")
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 3, calls)
	})

	t.Run("non-retryable error stops immediately", func(t *testing.T) {
		calls := 0
		_, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (int, error) {
			calls++
			return 0, types.NewError(types.KindClientError, types.CodeBadRequest, "bad")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, types.CodeBadRequest, types.CodeOf(err))
	})

	t.Run("retries exhausted returns last error", func(t *testing.T) {
		calls := 0
		_, err := Do(context.Background(), fastPolicy(2), func(ctx context.Context) (int, error) {
			calls++
			return 0, types.NewError(types.KindRateLimited, types.CodeRateLimited, "slow down")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, types.KindRateLimited, types.KindOf(err))
	})

	t.Run("retry-after overrides computed delay", func(t *testing.T) {
		var delays []time.Duration
		p := fastPolicy(1).OnRetry(func(attempt int, delay time.Duration, err error) {
			delays = append(delays, delay)
		})
		calls := 0
		_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
			calls++
			if calls == 1 {
				return 0, &types.Error{Kind: types.KindRateLimited, Code: types.CodeRateLimited, RetryAfter: 20 * time.Millisecond}
			}
			return 1, nil
		})
		require.NoError(t, err)
		require.Len(t, delays, 1)
		assert.Equal(t, 20*time.Millisecond, delays[0])
	})

	t.Run("computed delays stay within jitter of the cap", func(t *testing.T) {
		var delays []time.Duration
		p := New(Config{MaxRetries: 4, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, JitterPercent: 10}).
			OnRetry(func(attempt int, delay time.Duration, err error) {
				delays = append(delays, delay)
			})
		_ = p.Run(context.Background(), func(ctx context.Context) error {
			return types.NewError(types.KindServerError, types.CodeInternalServerError, "boom")
		})
		require.Len(t, delays, 4)
		for _, d := range delays {
			assert.LessOrEqual(t, d, 4*time.Millisecond+400*time.Microsecond)
		}
	})

	t.Run("cancellation is a timeout and terminal", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		p := New(Config{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Second})
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		_, err := Do(ctx, p, func(ctx context.Context) (int, error) {
			calls++
			return 0, types.NewError(types.KindServerError, types.CodeBadGateway, "down")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, types.KindTimeout, types.KindOf(err))
		var te *types.Error
		assert.True(t, errors.As(err, &te))
	})
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		code      string
		retryable bool
	}{
		{400, types.CodeBadRequest, false},
		{401, types.CodeUnauthorized, false},
		{403, types.CodeForbidden, false},
		{404, types.CodeNotFound, false},
		{409, types.CodeUnknown, false},
		{429, types.CodeRateLimited, true},
		{500, types.CodeInternalServerError, true},
		{502, types.CodeBadGateway, true},
		{503, types.CodeServiceUnavailable, true},
		{504, types.CodeGatewayTimeout, true},
		{507, types.CodeServerError, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Header: http.Header{}}
			err := StatusError(resp, []byte("details"))
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.retryable, err.Retryable())
			assert.Equal(t, tt.status, err.StatusCode)
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	d, ok := ParseRetryAfter("3", now)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	d, ok = ParseRetryAfter(now.Add(5*time.Second).Format(http.TimeFormat), now)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, d)

	_, ok = ParseRetryAfter("", now)
	assert.False(t, ok)
	_, ok = ParseRetryAfter("soon", now)
	assert.False(t, ok)

	h := http.Header{}
	h.Set("Retry-After", "10")
	h.Set("Retry-After-Ms", "250")
	d, ok = RetryAfterFromHeader(h, now)
	require.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, d)
}

func TestTransportError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := TransportError(ctx, errors.New("request aborted"))
	assert.Equal(t, types.KindTimeout, err.Kind)
	assert.False(t, err.Retryable())

	err = TransportError(context.Background(), errors.New("connection refused"))
	assert.Equal(t, types.KindTransientNetwork, err.Kind)
	assert.True(t, err.Retryable())
}
