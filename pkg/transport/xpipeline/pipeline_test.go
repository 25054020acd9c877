package xpipeline

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"github.com/omeyang/xclient/pkg/business/xauth"
	"github.com/omeyang/xclient/pkg/business/xfault"
	"github.com/omeyang/xclient/pkg/context/xctx"
	"github.com/omeyang/xclient/pkg/resilience/xbreaker"
	"github.com/omeyang/xclient/pkg/resilience/xretry"
	"github.com/omeyang/xclient/pkg/transport/xtransport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// 辅助
// =============================================================================

type fixture struct {
	sender    *MockSender
	center    *xfault.Center
	tokens    *xauth.Manager
	refreshes *atomic.Int32
	notices   *atomic.Int32
}

func newFixture(t *testing.T, refresh func(*xauth.Credential) (*xauth.Credential, error)) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	f := &fixture{
		sender:    NewMockSender(ctrl),
		refreshes: new(atomic.Int32),
		notices:   new(atomic.Int32),
	}

	center, err := xfault.New(xfault.WithNotifier(xfault.NotifierFunc(func(context.Context, string, xfault.Severity) {
		f.notices.Add(1)
	})))
	require.NoError(t, err)
	t.Cleanup(center.Close)
	f.center = center

	if refresh == nil {
		refresh = func(*xauth.Credential) (*xauth.Credential, error) {
			return &xauth.Credential{AccessToken: "T2", RefreshToken: "R2", ExpiresAt: time.Now().Add(time.Hour)}, nil
		}
	}
	store := xauth.NewMemoryStore(&xauth.Credential{
		AccessToken:  "T1",
		RefreshToken: "R1",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	tokens, err := xauth.NewManager(store, xauth.RefresherFunc(func(_ context.Context, cur *xauth.Credential) (*xauth.Credential, error) {
		f.refreshes.Add(1)
		return refresh(cur)
	}))
	require.NoError(t, err)
	t.Cleanup(tokens.Stop)
	f.tokens = tokens
	return f
}

func (f *fixture) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(f.sender, f.center, append([]Option{WithTokens(f.tokens)}, opts...)...)
	require.NoError(t, err)
	return p
}

func respond(code int, body string) *xtransport.Response {
	return &xtransport.Response{StatusCode: code, Body: []byte(body)}
}

func immediate(maxRetries int) xretry.Policy {
	p := DefaultPolicy()
	p.Strategy = xretry.StrategyImmediate
	p.BaseDelay = 0
	p.MaxRetries = maxRetries
	return p
}

func asNormalized(t *testing.T, err error) *xfault.NormalizedError {
	t.Helper()
	var ne *xfault.NormalizedError
	require.ErrorAs(t, err, &ne)
	return ne
}

// =============================================================================
// 构造
// =============================================================================

func TestNew_Validation(t *testing.T) {
	center, err := xfault.New()
	require.NoError(t, err)
	defer center.Close()

	_, err = New(nil, center)
	require.ErrorIs(t, err, ErrNilSender)

	sender := xtransport.SenderFunc(func(context.Context, *xtransport.Request) (*xtransport.Response, error) {
		return respond(http.StatusOK, ""), nil
	})
	_, err = New(sender, nil)
	require.ErrorIs(t, err, ErrNilCenter)

	bad := DefaultPolicy()
	bad.MaxRetries = -1
	_, err = New(sender, center, WithPolicy(bad))
	require.Error(t, err)

	p, err := New(sender, center)
	require.NoError(t, err)
	assert.NotNil(t, p.Monitor())
	assert.NotNil(t, p.Retry())

	_, err = p.Do(context.Background(), nil)
	require.ErrorIs(t, err, xtransport.ErrNilRequest)
}

func TestIsPublic(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pipeline(t)

	tests := []struct {
		url  string
		want bool
	}{
		{"/auth/login", true},
		{"auth/login", true},
		{"/auth/login/", true},
		{"/auth/login?next=/home", true},
		{"https://api.local/auth/refresh?x=1", true},
		{"https://api.local/auth/refresh/sso", true},
		{"/auth/login-history", false},
		{"/auth/refreshments/list", false},
		{"https://api.local/auth", false},
		{"/users", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, p.IsPublic(tt.url))
		})
	}

	p = f.pipeline(t, WithPublicPaths(" /health ", "", "status/"))
	assert.True(t, p.IsPublic("/health/live"))
	assert.False(t, p.IsPublic("/healthz"))
	assert.True(t, p.IsPublic("status"))
	assert.True(t, p.IsPublic("/status/db"))
	assert.False(t, p.IsPublic("/auth/login"))
}

// =============================================================================
// 凭证
// =============================================================================

func TestDo_AttachesBearer(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pipeline(t)

	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *xtransport.Request) (*xtransport.Response, error) {
			assert.Equal(t, "Bearer T1", req.Header.Get("Authorization"))
			return respond(http.StatusOK, `{"ok":true}`), nil
		})

	req := &xtransport.Request{URL: "/users"}
	resp, err := p.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, req.Header.Get("Authorization"), "caller's request must not be modified")

	st := p.Monitor().Stats()
	assert.Equal(t, int64(1), st.Total)
	assert.Equal(t, int64(1), st.Succeeded)
}

func TestDo_RenewsAndReplaysOnce(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pipeline(t)

	gomock.InOrder(
		f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req *xtransport.Request) (*xtransport.Response, error) {
				assert.Equal(t, "Bearer T1", req.Header.Get("Authorization"))
				return respond(http.StatusUnauthorized, ""), nil
			}),
		f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req *xtransport.Request) (*xtransport.Response, error) {
				assert.Equal(t, "Bearer T2", req.Header.Get("Authorization"))
				return respond(http.StatusOK, ""), nil
			}),
	)

	resp, err := p.Do(context.Background(), &xtransport.Request{URL: "/users"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), f.refreshes.Load())
	assert.Empty(t, f.center.History(), "recovered 401 is not reported")
	assert.Zero(t, f.notices.Load())
}

func TestDo_ReplayRejectedIsTerminal(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pipeline(t)

	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).
		Return(respond(http.StatusUnauthorized, ""), nil).Times(2)

	_, err := p.Do(context.Background(), &xtransport.Request{URL: "/users"})
	ne := asNormalized(t, err)
	assert.Equal(t, xfault.CategoryAuthentication, ne.Category)
	assert.Equal(t, http.StatusUnauthorized, ne.Status)
	assert.Equal(t, int32(1), f.refreshes.Load())
	assert.Len(t, f.center.History(), 1)

	st := p.Monitor().Stats()
	assert.Equal(t, int64(1), st.Failed)
}

func TestDo_RefreshFailureIsSessionExpired(t *testing.T) {
	f := newFixture(t, func(*xauth.Credential) (*xauth.Credential, error) {
		return nil, errors.New("refresh token revoked")
	})
	p := f.pipeline(t)

	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).
		Return(respond(http.StatusUnauthorized, ""), nil).Times(1)

	_, err := p.Do(context.Background(), &xtransport.Request{URL: "/users"})
	ne := asNormalized(t, err)
	assert.Equal(t, xfault.CategoryAuthentication, ne.Category)
	assert.Equal(t, CodeSessionExpired, ne.Code)
	require.ErrorIs(t, err, xauth.ErrRefreshFailed)
	assert.Len(t, f.center.History(), 1)
}

func TestDo_ExpiringTokenRefreshedBeforeSend(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.tokens.Store().SetToken(context.Background(), &xauth.Credential{
		AccessToken:  "T1",
		RefreshToken: "R1",
		ExpiresAt:    time.Now().Add(time.Minute),
	}))
	p := f.pipeline(t)

	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *xtransport.Request) (*xtransport.Response, error) {
			assert.Equal(t, "Bearer T2", req.Header.Get("Authorization"))
			return respond(http.StatusOK, ""), nil
		})

	_, err := p.Do(context.Background(), &xtransport.Request{URL: "/users"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.refreshes.Load())
}

func TestDo_NoCredentialSendsWithoutHeader(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.tokens.Store().SetToken(context.Background(), nil))
	p := f.pipeline(t)

	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *xtransport.Request) (*xtransport.Response, error) {
			assert.Empty(t, req.Header.Get("Authorization"))
			return respond(http.StatusOK, ""), nil
		})

	_, err := p.Do(context.Background(), &xtransport.Request{URL: "/users"})
	require.NoError(t, err)
	assert.Zero(t, f.refreshes.Load())
}

func TestDo_PublicRequests(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pipeline(t)

	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *xtransport.Request) (*xtransport.Response, error) {
			assert.Empty(t, req.Header.Get("Authorization"))
			return respond(http.StatusUnauthorized, `{"message":"Bad credentials"}`), nil
		}).Times(3)

	for _, tc := range []struct {
		name string
		req  *xtransport.Request
		opts []CallOption
	}{
		{"path prefix", &xtransport.Request{Method: http.MethodPost, URL: "/auth/login"}, nil},
		{"request flag", &xtransport.Request{URL: "/whoami", Public: true}, nil},
		{"call option", &xtransport.Request{URL: "/whoami"}, []CallOption{Public()}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Do(context.Background(), tc.req, tc.opts...)
			ne := asNormalized(t, err)
			assert.Equal(t, xfault.CategoryAuthentication, ne.Category)
			assert.Equal(t, "Bad credentials", ne.Message)
		})
	}
	assert.Zero(t, f.refreshes.Load(), "public requests never renew")
	assert.Equal(t, int32(3), f.notices.Load())
}

// =============================================================================
// 重试与熔断
// =============================================================================

func TestDo_RetriesServerErrors(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pipeline(t)

	var attempts []int
	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ *xtransport.Request) (*xtransport.Response, error) {
			attempts = append(attempts, xctx.Attempt(ctx))
			return respond(http.StatusServiceUnavailable, ""), nil
		}).Times(3)

	_, err := p.Do(context.Background(), &xtransport.Request{URL: "/users"}, CallPolicy(immediate(2)))
	ne := asNormalized(t, err)
	assert.Equal(t, xfault.CategoryServer, ne.Category)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, 3, ne.Context()["retry_attempts"])
	assert.Equal(t, 3, xretry.AttemptsOf(err))
	assert.Len(t, f.center.History(), 1)
}

func TestDo_RetryRecovers(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pipeline(t, WithPolicy(immediate(3)))

	gomock.InOrder(
		f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).
			Return(nil, xtransport.NewNetworkError("GET", "/users", errors.New("connection reset"))),
		f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).
			Return(respond(http.StatusOK, ""), nil),
	)

	_, err := p.Do(context.Background(), &xtransport.Request{URL: "/users"})
	require.NoError(t, err)
	assert.Empty(t, f.center.History())
	assert.Equal(t, int64(1), p.Retry().Stats().SucceededAfterRetry)
}

func TestDo_CallOverrides(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pipeline(t, WithPolicy(immediate(1)))

	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).
		Return(respond(http.StatusBadGateway, ""), nil).Times(4)

	_, err := p.Do(context.Background(), &xtransport.Request{URL: "/users"}, CallOverrides(xretry.Policy{MaxRetries: 3}))
	assert.Equal(t, xfault.CategoryServer, asNormalized(t, err).Category)
	assert.Equal(t, 1, p.Retry().Policy().MaxRetries)
}

func TestDo_ValidationNotRetried(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pipeline(t, WithPolicy(immediate(3)))

	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).
		Return(respond(http.StatusUnprocessableEntity, `{"errors":{"email":"is invalid"}}`), nil).Times(1)

	_, err := p.Do(context.Background(), &xtransport.Request{Method: http.MethodPost, URL: "/users"})
	ne := asNormalized(t, err)
	assert.Equal(t, xfault.CategoryValidation, ne.Category)
	assert.Zero(t, f.refreshes.Load())
}

func TestDo_BreakerOpens(t *testing.T) {
	f := newFixture(t, nil)
	group := xbreaker.NewGroup(xbreaker.WithConsecutiveFailures(1), xbreaker.WithTimeout(time.Minute))
	p := f.pipeline(t, WithBreakers(group), WithPolicy(xretry.NoRetry()))

	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).
		Return(respond(http.StatusBadGateway, ""), nil).Times(1)

	_, err := p.Do(context.Background(), &xtransport.Request{URL: "https://api.local/users"})
	assert.Equal(t, xfault.CategoryServer, asNormalized(t, err).Category)

	_, err = p.Do(context.Background(), &xtransport.Request{URL: "https://api.local/users"})
	ne := asNormalized(t, err)
	assert.Equal(t, xfault.CodeCircuitOpen, ne.Code)
	assert.True(t, xbreaker.IsOpen(err))
	assert.Equal(t, xbreaker.StateOpen, group.Get("api.local").State())
}

// =============================================================================
// 关联与上报
// =============================================================================

func TestDo_RequestIDCorrelation(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pipeline(t, WithIDGenerator(func() string { return "req-fixed" }))

	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ *xtransport.Request) (*xtransport.Response, error) {
			assert.Equal(t, "req-fixed", xctx.RequestID(ctx))
			assert.Equal(t, 1, xctx.Attempt(ctx))
			assert.Equal(t, "DELETE /users/7", xctx.Operation(ctx))
			return respond(http.StatusNotFound, `{"message":"no such user"}`), nil
		})

	_, err := p.Do(context.Background(), &xtransport.Request{Method: "delete", URL: "/users/7"})
	ne := asNormalized(t, err)
	assert.Equal(t, "req-fixed", ne.RequestID())
	assert.Equal(t, xfault.CategoryBusiness, ne.Category)
	assert.Equal(t, "no such user", ne.Message)
	assert.Empty(t, p.Monitor().Active())
}

func TestDo_SilentSkipsNotification(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pipeline(t)

	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).
		Return(respond(http.StatusInternalServerError, ""), nil).AnyTimes()

	_, err := p.Do(context.Background(), &xtransport.Request{URL: "/users"},
		CallPolicy(xretry.NoRetry()), Silent())
	require.Error(t, err)
	assert.Zero(t, f.notices.Load())
	assert.Len(t, f.center.History(), 1)
}

func TestDo_CanceledContext(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	f.sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ *xtransport.Request) (*xtransport.Response, error) {
			cancel()
			return nil, xtransport.NewNetworkError("GET", "/users", ctx.Err())
		})

	_, err := p.Do(ctx, &xtransport.Request{URL: "/users"})
	ne := asNormalized(t, err)
	assert.Equal(t, xfault.CodeCanceled, ne.Code)
	assert.Zero(t, f.notices.Load())
}

func TestBreakerKey(t *testing.T) {
	f := newFixture(t, nil)
	p := f.pipeline(t)
	assert.Equal(t, "api.local", p.breakerKey("https://api.local/users"))
	assert.Equal(t, defaultBreakerKey, p.breakerKey("/users"))

	p = f.pipeline(t, WithBaseURL("http://127.0.0.1:8080/v1"))
	assert.Equal(t, "127.0.0.1:8080", p.breakerKey("/users"))
	assert.Equal(t, "api.local", p.breakerKey("https://api.local/users"))
}
