package xretry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xclient/pkg/context/xctx"
)

// instantTimer 立即触发，避免测试真实等待。
type instantTimer struct{}

func (instantTimer) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

// statusErr 模拟携带状态码的传输错误。
type statusErr struct {
	code int
}

func (e *statusErr) Error() string     { return http.StatusText(e.code) }
func (e *statusErr) StatusCode() int   { return e.code }
func (e *statusErr) HasResponse() bool { return e.code > 0 }

type timeoutErr struct{}

func (timeoutErr) Error() string { return "deadline" }
func (timeoutErr) Timeout() bool { return true }

type openErr struct{}

func (openErr) Error() string   { return "circuit open" }
func (openErr) Retryable() bool { return false }

func fastPolicy() Policy {
	p := DefaultPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 10 * time.Millisecond
	return p
}

func newTestManager() *Manager {
	return NewManager(WithPolicy(fastPolicy()), WithTimer(instantTimer{}))
}

func TestManager_Do(t *testing.T) {
	t.Run("SuccessOnFirstAttempt", func(t *testing.T) {
		m := newTestManager()
		calls := 0
		err := m.Do(context.Background(), func(context.Context) error {
			calls++
			return nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, calls)

		s := m.Stats()
		assert.EqualValues(t, 1, s.Operations)
		assert.EqualValues(t, 0, s.Attempted)
	})

	t.Run("SuccessAfterServerErrors", func(t *testing.T) {
		m := newTestManager()
		var attempts []int
		n, err := Execute(context.Background(), m, func(ctx context.Context) (int, error) {
			attempts = append(attempts, xctx.Attempt(ctx))
			if len(attempts) < 3 {
				return 0, &statusErr{code: http.StatusBadGateway}
			}
			return 42, nil
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 42, n)
		assert.Equal(t, []int{1, 2, 3}, attempts)

		s := m.Stats()
		assert.EqualValues(t, 2, s.Attempted)
		assert.EqualValues(t, 1, s.SucceededAfterRetry)
		assert.EqualValues(t, 0, s.FailedAfterRetry)
		assert.Empty(t, s.Active)
		assert.InDelta(t, 1.0, s.SuccessRate(), 1e-9)
	})

	t.Run("ExhaustedAfterMaxRetries", func(t *testing.T) {
		m := newTestManager()
		calls := 0
		last := &statusErr{code: http.StatusServiceUnavailable}
		err := m.Do(context.Background(), func(context.Context) error {
			calls++
			return last
		}, nil)

		require.Error(t, err)
		assert.Equal(t, 4, calls)

		var ex *ExhaustedError
		require.True(t, errors.As(err, &ex))
		assert.Equal(t, 4, ex.TotalAttempts)
		assert.True(t, ex.IsRetryError())
		assert.ErrorIs(t, err, last)
		assert.Equal(t, 4, AttemptsOf(err))

		s := m.Stats()
		assert.EqualValues(t, 3, s.Attempted)
		assert.EqualValues(t, 1, s.FailedAfterRetry)
	})

	t.Run("ClientErrorNotRetried", func(t *testing.T) {
		m := newTestManager()
		calls := 0
		orig := &statusErr{code: http.StatusBadRequest}
		err := m.Do(context.Background(), func(context.Context) error {
			calls++
			return orig
		}, nil)
		assert.Equal(t, 1, calls)
		assert.Same(t, orig, err)
		assert.Equal(t, 0, AttemptsOf(err))
	})

	t.Run("NonRetryableMarkerNotRetried", func(t *testing.T) {
		m := newTestManager()
		calls := 0
		p := fastPolicy()
		p.Predicate = func(error, int) bool { return true }
		_ = m.Do(context.Background(), func(context.Context) error {
			calls++
			return openErr{}
		}, &p)
		assert.Equal(t, 1, calls)
	})

	t.Run("RejectingPredicateStopsRetry", func(t *testing.T) {
		m := newTestManager()
		p := fastPolicy()
		p.Predicate = func(error, int) bool { return false }
		calls := 0
		err := m.Do(context.Background(), func(context.Context) error {
			calls++
			return &statusErr{code: http.StatusServiceUnavailable}
		}, &p)
		assert.Equal(t, 1, calls)
		assert.Equal(t, 0, AttemptsOf(err))
	})

	t.Run("OverridePolicyConditions", func(t *testing.T) {
		m := newTestManager()
		p := fastPolicy()
		p.Conditions = []Condition{ConditionNetwork}
		calls := 0
		_ = m.Do(context.Background(), func(context.Context) error {
			calls++
			return &statusErr{code: http.StatusInternalServerError}
		}, &p)
		assert.Equal(t, 1, calls)
	})

	t.Run("OnRetryReceivesDelays", func(t *testing.T) {
		m := newTestManager()
		p := fastPolicy()
		p.BaseDelay = 100 * time.Millisecond
		p.MaxDelay = 250 * time.Millisecond
		var delays []time.Duration
		var retries []int
		p.OnRetry = func(_ error, attempt int, d time.Duration) {
			retries = append(retries, attempt)
			delays = append(delays, d)
		}
		_ = m.Do(context.Background(), func(context.Context) error {
			return io.ErrUnexpectedEOF
		}, &p)

		assert.Equal(t, []int{1, 2, 3}, retries)
		require.Len(t, delays, 3)
		assert.GreaterOrEqual(t, delays[0], 100*time.Millisecond)
		assert.Less(t, delays[0], 111*time.Millisecond)
		assert.GreaterOrEqual(t, delays[1], 200*time.Millisecond)
		assert.Equal(t, 250*time.Millisecond, delays[2])
	})

	t.Run("PanickingOnRetryIsRecovered", func(t *testing.T) {
		m := newTestManager()
		p := fastPolicy()
		p.OnRetry = func(error, int, time.Duration) { panic("boom") }
		calls := 0
		err := m.Do(context.Background(), func(context.Context) error {
			calls++
			if calls < 2 {
				return timeoutErr{}
			}
			return nil
		}, &p)
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("ZeroRetries", func(t *testing.T) {
		m := newTestManager()
		p := NoRetry()
		orig := timeoutErr{}
		err := m.Do(context.Background(), func(context.Context) error { return orig }, &p)
		assert.Equal(t, orig, err)
	})

	t.Run("ContextCanceled", func(t *testing.T) {
		m := NewManager(WithPolicy(Policy{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}))
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		done := make(chan error, 1)
		go func() {
			done <- m.Do(ctx, func(context.Context) error {
				calls++
				return timeoutErr{}
			}, nil)
		}()
		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			require.Error(t, err)
			assert.Equal(t, 1, calls)
			assert.Equal(t, 0, AttemptsOf(err))
		case <-time.After(2 * time.Second):
			t.Fatal("Do did not return after cancel")
		}
	})

	t.Run("InvalidArguments", func(t *testing.T) {
		m := newTestManager()
		assert.ErrorIs(t, m.Do(context.Background(), nil, nil), ErrNilFunc)
		_, err := Execute[int](nil, m, func(context.Context) (int, error) { return 0, nil }, nil) //nolint:staticcheck // nil ctx 防御
		assert.ErrorIs(t, err, ErrNilContext)
		_, err = Execute[int](context.Background(), nil, func(context.Context) (int, error) { return 0, nil }, nil)
		assert.ErrorIs(t, err, ErrNilManager)
	})
}

func TestManager_ActiveRecords(t *testing.T) {
	m := newTestManager()
	ctx := xctx.WithRequestID(context.Background(), "req-7")

	var seen []AttemptRecord
	calls := 0
	err := m.Do(ctx, func(context.Context) error {
		calls++
		if calls == 2 {
			seen = m.Stats().Active
		}
		if calls < 3 {
			return &statusErr{code: http.StatusTooManyRequests}
		}
		return nil
	}, nil)
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, "req-7", seen[0].ID)
	assert.Equal(t, 1, seen[0].Attempt)
	assert.Error(t, seen[0].LastError)
	assert.Empty(t, m.Stats().Active)
}

func TestManager_Concurrent(t *testing.T) {
	m := newTestManager()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			calls := 0
			_ = m.Do(context.Background(), func(context.Context) error {
				calls++
				if calls < 2 {
					return timeoutErr{}
				}
				return nil
			}, nil)
		}()
	}
	wg.Wait()

	s := m.Stats()
	assert.EqualValues(t, 20, s.Operations)
	assert.EqualValues(t, 20, s.Attempted)
	assert.EqualValues(t, 20, s.SucceededAfterRetry)

	m.Reset()
	assert.EqualValues(t, 0, m.Stats().Operations)
}

func TestManager_SetPolicy(t *testing.T) {
	m := newTestManager()
	require.Error(t, m.SetPolicy(Policy{MaxRetries: -1}))

	p := fastPolicy()
	p.MaxRetries = 1
	require.NoError(t, m.SetPolicy(p))
	assert.Equal(t, 1, m.Policy().MaxRetries)
}
