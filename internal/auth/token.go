package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"csv-file-drop/internal/common"
)

// Claims is what a decoded token carries.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// TokenCodec issues and verifies HMAC-signed JWTs carrying a username in
// the sub claim and an absolute expiry in exp.
type TokenCodec struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenCodec accepts HS256, HS384 or HS512.
func NewTokenCodec(secret, algorithm string, ttl time.Duration) (*TokenCodec, error) {
	if secret == "" {
		return nil, errors.New("token secret is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported token algorithm %q", algorithm)
	}
	return &TokenCodec{
		secret: []byte(secret),
		method: method,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue returns a signed token for subject that expires after the
// configured TTL.
func (c *TokenCodec) Issue(subject string) (string, time.Time, error) {
	now := c.now()
	exp := now.Add(c.ttl)

	token := jwt.NewWithClaims(c.method, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Decode verifies the signature and expiry of token. Any failure wraps
// common.ErrInvalidToken; expiry additionally wraps common.ErrTokenExpired.
func (c *TokenCodec) Decode(token string) (Claims, error) {
	var rc jwt.RegisteredClaims

	parsed, err := jwt.ParseWithClaims(token, &rc, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, fmt.Errorf("%w: %w", common.ErrInvalidToken, common.ErrTokenExpired)
		}
		return Claims{}, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !parsed.Valid || rc.Subject == "" {
		return Claims{}, common.ErrInvalidToken
	}

	return Claims{Subject: rc.Subject, ExpiresAt: rc.ExpiresAt.Time}, nil
}
