package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCredential is returned when a token cannot be verified.
var ErrInvalidCredential = errors.New("invalid credential")

// Subject is the identity claim carried by a credential.
type Subject struct {
	ID       string
	Nickname string
}

// Claims is the JWT payload of a chat credential.
type Claims struct {
	Nickname string `json:"nickname"`
	jwt.RegisteredClaims
}

// Issuer is the JWT issuer claim set on every credential.
const Issuer = "chatd"

// Credentials signs and verifies tokens with a shared secret.
type Credentials struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCredentials creates a Credentials. A zero ttl issues tokens without expiry.
func NewCredentials(secret string, ttl time.Duration) *Credentials {
	return &Credentials{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a credential for sub.
func (c *Credentials) Issue(sub Subject) (string, error) {
	return Sign(c.secret, sub, c.ttl, c.now())
}

// Verify checks a token signed by Issue.
func (c *Credentials) Verify(token string) (Subject, error) {
	return verifyAt(c.secret, token, c.now)
}

// Sign creates an HS256 token for sub issued at now.
// A positive ttl adds an exp claim.
func Sign(secret []byte, sub Subject, ttl time.Duration, now time.Time) (string, error) {
	if sub.ID == "" {
		return "", errors.New("auth: subject id is required")
	}
	claims := Claims{
		Nickname: sub.Nickname,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  sub.ID,
			Issuer:   Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return token, nil
}

// Verify validates token against secret and returns its subject.
// Fails with ErrInvalidCredential when the signature does not match, the
// token is malformed or expired, or the subject claim is missing.
func Verify(secret []byte, token string) (Subject, error) {
	return verifyAt(secret, token, time.Now)
}

func verifyAt(secret []byte, token string, now func() time.Time) (Subject, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return Subject{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if claims.Subject == "" {
		return Subject{}, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}
	return Subject{ID: claims.Subject, Nickname: claims.Nickname}, nil
}
