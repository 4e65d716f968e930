package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"csv-file-drop/internal/common"
)

func TestPasswordHashAndVerify(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	hash, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, strings.HasPrefix(hash, "$2"))

	assert.True(t, h.Verify("correct horse", hash))
	assert.False(t, h.Verify("wrong horse", hash))
	assert.False(t, h.Verify("correct horse", "not-a-hash"))

	// salted: same input, different hash
	again, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again)
}

func TestPasswordTooLong(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)
	_, err := h.Hash(strings.Repeat("a", MaxPasswordBytes+1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrValidation))
}

func TestNewPasswordHasherClampsCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewPasswordHasher(0).Cost)
	assert.Equal(t, bcrypt.DefaultCost, NewPasswordHasher(99).Cost)
	assert.Equal(t, 12, NewPasswordHasher(12).Cost)
}

func newTestCodec(t *testing.T, alg string, now time.Time) *TokenCodec {
	t.Helper()
	c, err := NewTokenCodec("test-secret", alg, 30*time.Minute)
	require.NoError(t, err)
	c.now = func() time.Time { return now }
	return c
}

func TestIssueAndDecode(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, alg := range []string{"HS256", "HS384", "HS512"} {
		t.Run(alg, func(t *testing.T) {
			c := newTestCodec(t, alg, now)

			tok, exp, err := c.Issue("alice")
			require.NoError(t, err)
			assert.Equal(t, now.Add(30*time.Minute), exp)

			claims, err := c.Decode(tok)
			require.NoError(t, err)
			assert.Equal(t, "alice", claims.Subject)
			assert.True(t, claims.ExpiresAt.Equal(exp))
		})
	}
}

func TestDecodeExpiry(t *testing.T) {
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, "HS256", issued)

	tok, exp, err := c.Issue("alice")
	require.NoError(t, err)

	tests := []struct {
		name    string
		now     time.Time
		expired bool
	}{
		{name: "just issued", now: issued},
		{name: "one second before expiry", now: exp.Add(-time.Second)},
		{name: "at expiry", now: exp, expired: true},
		{name: "after expiry", now: exp.Add(time.Minute), expired: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.now = func() time.Time { return tt.now }
			_, err := c.Decode(tok)
			if !tt.expired {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrInvalidToken))
			assert.True(t, errors.Is(err, common.ErrTokenExpired))
		})
	}
}

func TestDecodeRejectsTampering(t *testing.T) {
	now := time.Now()
	c := newTestCodec(t, "HS256", now)
	tok, _, err := c.Issue("alice")
	require.NoError(t, err)

	other, err := NewTokenCodec("another-secret", "HS256", time.Hour)
	require.NoError(t, err)
	forged, _, err := other.Issue("admin")
	require.NoError(t, err)

	wrongAlg := newTestCodec(t, "HS512", now)
	wrongAlgTok, _, err := wrongAlg.Issue("alice")
	require.NoError(t, err)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"})
	noExpTok, err := noExp.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noSub := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	noSubTok, err := noSub.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	badSig := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	tests := map[string]string{
		"garbage":         "not-a-token",
		"empty":           "",
		"other secret":    forged,
		"other algorithm": wrongAlgTok,
		"missing exp":     noExpTok,
		"missing sub":     noSubTok,
		"bad signature":   badSig,
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decode(token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrInvalidToken))
			assert.False(t, errors.Is(err, common.ErrTokenExpired))
		})
	}
}

func TestNewTokenCodecValidation(t *testing.T) {
	_, err := NewTokenCodec("", "HS256", time.Minute)
	assert.Error(t, err)

	_, err = NewTokenCodec("s", "RS256", time.Minute)
	assert.Error(t, err)

	_, err = NewTokenCodec("s", "none", time.Minute)
	assert.Error(t, err)

	_, err = NewTokenCodec("s", "HS256", 0)
	assert.Error(t, err)
}
