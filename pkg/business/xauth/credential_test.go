package xauth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestJWTExpiry(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)

	got, ok := JWTExpiry(signedJWT(t, exp))
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok = JWTExpiry("opaque-token")
	assert.False(t, ok)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"}).
		SignedString([]byte("k"))
	require.NoError(t, err)
	_, ok = JWTExpiry(noExp)
	assert.False(t, ok)
}

func TestCredential_Expiry(t *testing.T) {
	now := time.Now()

	var nilCred *Credential
	assert.False(t, nilCred.Valid(now))
	assert.True(t, nilCred.ExpiringSoon(now, time.Minute))
	assert.Nil(t, nilCred.Clone())

	noExpiry := &Credential{AccessToken: "a"}
	assert.True(t, noExpiry.Valid(now))
	assert.False(t, noExpiry.ExpiringSoon(now, time.Hour))

	soon := &Credential{AccessToken: "a", ExpiresAt: now.Add(2 * time.Minute)}
	assert.True(t, soon.Valid(now))
	assert.True(t, soon.ExpiringSoon(now, 5*time.Minute))
	assert.False(t, soon.ExpiringSoon(now, time.Minute))

	expired := &Credential{AccessToken: "a", ExpiresAt: now.Add(-time.Second)}
	assert.False(t, expired.Valid(now))
	assert.True(t, expired.ExpiringSoon(now, 0))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	exp := time.Now().Add(3 * time.Minute).Truncate(time.Second)
	s := NewMemoryStore(&Credential{AccessToken: signedJWT(t, exp), RefreshToken: "r1"})

	cred, err := s.Token(ctx)
	require.NoError(t, err)
	assert.True(t, exp.Equal(cred.ExpiresAt))
	assert.False(t, cred.ObtainedAt.IsZero())

	// 返回副本
	cred.AccessToken = "mutated"
	again, err := s.Token(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.AccessToken)

	st, err := s.CheckExpiration(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, st.HasToken)
	assert.True(t, st.Warning)
	assert.False(t, st.Expired)
	assert.Greater(t, st.UntilExpiry, 2*time.Minute)

	st, err = s.CheckExpiration(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, st.Warning)

	require.NoError(t, s.SetToken(ctx, &Credential{AccessToken: "b", ExpiresAt: time.Now().Add(-time.Minute)}))
	st, err = s.CheckExpiration(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, st.Expired)
	assert.False(t, st.Warning)
	assert.Zero(t, st.UntilExpiry)

	require.NoError(t, s.SetToken(ctx, nil))
	_, err = s.Token(ctx)
	assert.ErrorIs(t, err, ErrNoCredential)
	st, err = s.CheckExpiration(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, st.HasToken)
}
