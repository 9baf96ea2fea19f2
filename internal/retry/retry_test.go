package retry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestPolicy_Delay(t *testing.T) {
	p := Default()
	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))

	flat := Policy{MaxRetries: 2, BaseDelay: time.Second, Multiplier: 0}
	assert.Equal(t, time.Second, flat.Delay(3))
}

func TestDo_ImmediateSuccess(t *testing.T) {
	calls := 0
	err := Default().Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	p := Policy{MaxRetries: 3, BaseDelay: time.Millisecond, Multiplier: 2}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_BackoffBound(t *testing.T) {
	var delays []time.Duration
	calls := 0
	p := Default()
	p.OnRetry = func(_ int, d time.Duration, _ error) { delays = append(delays, d) }

	start := time.Now()
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errBoom
	})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 4, calls, "1 initial + 3 retries")
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, delays)
	assert.GreaterOrEqual(t, elapsed, 700*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := Default().Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errBoom)
	})
	assert.Equal(t, errBoom, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelay: 500 * time.Millisecond, Multiplier: 2}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Do(ctx, func(context.Context) error { return errBoom })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}

func TestCheckResponse(t *testing.T) {
	tests := []struct {
		status    int
		wantErr   bool
		permanent bool
	}{
		{http.StatusOK, false, false},
		{http.StatusNoContent, false, false},
		{http.StatusTooManyRequests, true, false},
		{http.StatusBadGateway, true, false},
		{http.StatusUnauthorized, true, true},
		{http.StatusNotFound, true, true},
	}

	for _, tt := range tests {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte("details"))
		}))
		resp, err := http.Get(ts.URL)
		require.NoError(t, err)

		checkErr := CheckResponse(resp)
		resp.Body.Close()
		ts.Close()

		if !tt.wantErr {
			assert.NoError(t, checkErr, "status %d", tt.status)
			continue
		}
		var statusErr *StatusError
		require.ErrorAs(t, checkErr, &statusErr, "status %d", tt.status)
		assert.Equal(t, tt.status, statusErr.StatusCode)
		assert.Equal(t, "details", statusErr.Body)

		var perm *permanentError
		assert.Equal(t, tt.permanent, errors.As(checkErr, &perm), "status %d permanence", tt.status)
	}
}
