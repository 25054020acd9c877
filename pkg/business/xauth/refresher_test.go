package xauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xclient/pkg/transport/xtransport"
)

func TestNewHTTPRefresher(t *testing.T) {
	sender := xtransport.NewHTTPSender(xtransport.HTTPSenderConfig{})
	_, err := NewHTTPRefresher(nil, "/auth/refresh")
	assert.ErrorIs(t, err, ErrNilSender)
	_, err = NewHTTPRefresher(sender, "")
	assert.ErrorIs(t, err, ErrMissingRefreshURL)
}

func TestHTTPRefresher_Refresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/refresh", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "r1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "cli", r.PostForm.Get("client_id"))
		assert.Empty(t, r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"a2","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	sender := xtransport.NewHTTPSender(xtransport.HTTPSenderConfig{BaseURL: srv.URL})
	defer sender.Client().CloseIdleConnections()
	r, err := NewHTTPRefresher(sender, "/auth/refresh", WithClientID("cli"), WithRequestTimeout(time.Second))
	require.NoError(t, err)

	before := time.Now()
	cred, err := r.Refresh(context.Background(), &Credential{AccessToken: "a1", RefreshToken: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "a2", cred.AccessToken)
	// 未轮换时沿用旧的刷新令牌
	assert.Equal(t, "r1", cred.RefreshToken)
	assert.WithinDuration(t, before.Add(time.Hour), cred.ExpiresAt, 5*time.Second)
}

func TestHTTPRefresher_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		switch r.PostForm.Get("refresh_token") {
		case "revoked":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		case "empty":
			_, _ = w.Write([]byte(`{"token_type":"bearer"}`))
		default:
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()

	sender := xtransport.NewHTTPSender(xtransport.HTTPSenderConfig{BaseURL: srv.URL})
	defer sender.Client().CloseIdleConnections()
	r, err := NewHTTPRefresher(sender, "/auth/refresh")
	require.NoError(t, err)

	_, err = r.Refresh(context.Background(), &Credential{AccessToken: "a1"})
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	_, err = r.Refresh(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoRefreshToken)

	_, err = r.Refresh(context.Background(), &Credential{RefreshToken: "revoked"})
	var te *xtransport.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusUnauthorized, te.StatusCode())

	_, err = r.Refresh(context.Background(), &Credential{RefreshToken: "empty"})
	assert.ErrorIs(t, err, ErrEmptyAccessToken)

	_, err = r.Refresh(context.Background(), &Credential{RefreshToken: "garbage"})
	assert.Error(t, err)
}

func TestHTTPRefresher_NonOKWithoutError(t *testing.T) {
	sender := xtransport.SenderFunc(func(context.Context, *xtransport.Request) (*xtransport.Response, error) {
		return &xtransport.Response{StatusCode: http.StatusBadGateway}, nil
	})
	r, err := NewHTTPRefresher(sender, "https://auth.local/refresh")
	require.NoError(t, err)

	_, err = r.Refresh(context.Background(), &Credential{RefreshToken: "r1"})
	var te *xtransport.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode())
}

func TestHTTPRefresher_JWTExpiry(t *testing.T) {
	exp := time.Now().Add(20 * time.Minute).Truncate(time.Second)
	token := signedJWT(t, exp)
	sender := xtransport.SenderFunc(func(context.Context, *xtransport.Request) (*xtransport.Response, error) {
		return &xtransport.Response{
			StatusCode: http.StatusOK,
			Body:       []byte(`{"access_token":"` + token + `","refresh_token":"r2"}`),
		}, nil
	})
	r, err := NewHTTPRefresher(sender, "/auth/refresh")
	require.NoError(t, err)

	cred, err := r.Refresh(context.Background(), &Credential{RefreshToken: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "r2", cred.RefreshToken)
	assert.True(t, exp.Equal(cred.ExpiresAt))
}
