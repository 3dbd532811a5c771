package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalworks/docbrowse/internal/config"
	"github.com/portalworks/docbrowse/internal/gateway"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "user@example.com",
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestTokenValid(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	tok := signedToken(t, epoch.Add(time.Hour))
	src := NewSource(config.RESTConfig{Token: tok}, clock, nil)

	got, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok, got)
}

func TestTokenExpiredIsNeedsAuth(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	src := NewSource(config.RESTConfig{Token: signedToken(t, epoch.Add(10*time.Second))}, clock, nil)

	_, err := src.Token(context.Background())
	require.Error(t, err)
	assert.Equal(t, gateway.KindNeedsAuth, gateway.KindOf(err))
	assert.True(t, errors.Is(err, ErrTokenExpired))
}

func TestTokenExpiresWhileRunning(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	src := NewSource(config.RESTConfig{Token: signedToken(t, epoch.Add(5*time.Minute))}, clock, nil)

	_, err := src.Token(context.Background())
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	_, err = src.Token(context.Background())
	assert.True(t, gateway.IsNeedsAuth(err))
}

func TestTokenMissing(t *testing.T) {
	src := NewSource(config.RESTConfig{}, nil, nil)
	_, err := src.Token(context.Background())
	if !errors.Is(err, ErrNoToken) {
		t.Errorf("Expected ErrNoToken, got %v", err)
	}
	if !gateway.IsNeedsAuth(err) {
		t.Errorf("Expected NeedsUpstreamAuth kind, got %v", gateway.KindOf(err))
	}
}

func TestTokenFileIsReread(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0600))
	src := NewSource(config.RESTConfig{TokenFile: path}, nil, nil)

	got, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	require.NoError(t, os.WriteFile(path, []byte("second"), 0600))
	got, err = src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestTokenFileMissing(t *testing.T) {
	src := NewSource(config.RESTConfig{TokenFile: filepath.Join(t.TempDir(), "nope")}, nil, nil)
	_, err := src.Token(context.Background())
	assert.True(t, gateway.IsNeedsAuth(err))
}

func TestCheckExpiryOpaqueAndNoExp(t *testing.T) {
	assert.NoError(t, CheckExpiry("opaque-token", epoch, time.Minute))
	assert.NoError(t, CheckExpiry("not.a.jwt", epoch, time.Minute))

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "x"}).SignedString([]byte("k"))
	require.NoError(t, err)
	assert.NoError(t, CheckExpiry(noExp, epoch, time.Minute))
}

func TestStatic(t *testing.T) {
	got, err := Static("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	_, err = Static("").Token(context.Background())
	assert.True(t, gateway.IsNeedsAuth(err))
}
