package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	cfg := newTestConfig()
	svc := NewTokenService(&cfg.Merge)

	token, err := svc.Issue(42, 7, "abcDEF1234567")
	require.NoError(t, err)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), claims.MemberID)
	assert.Equal(t, uint64(7), claims.EditionID)
	assert.Equal(t, "abcDEF1234567", claims.TeamCode)
}

func TestTokenExpired(t *testing.T) {
	cfg := newTestConfig()
	svc := NewTokenService(&cfg.Merge)

	issuedAt := time.Now().Add(-8 * 24 * time.Hour)
	svc.now = func() time.Time { return issuedAt }
	token, err := svc.Issue(42, 7, "")
	require.NoError(t, err)

	// 签发后过了 8 天，超出 7 天有效期
	svc.now = time.Now
	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenTampered(t *testing.T) {
	cfg := newTestConfig()
	svc := NewTokenService(&cfg.Merge)

	token, err := svc.Issue(42, 7, "")
	require.NoError(t, err)

	_, err = svc.Verify(token + "x")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = svc.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenWrongSecret(t *testing.T) {
	cfg := newTestConfig()
	svc := NewTokenService(&cfg.Merge)
	token, err := svc.Issue(42, 7, "")
	require.NoError(t, err)

	other := newTestConfig()
	other.Merge.TokenSecret = "another-secret"
	_, err = NewTokenService(&other.Merge).Verify(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
