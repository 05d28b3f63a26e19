// Package auth mints and verifies the bearer tokens that identify an owner.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/reelcast-backend/pkg/config"
)

const clockSkew = 30 * time.Second

var (
	signingMethod = jwt.SigningMethodHS256

	ErrNotConfigured = errors.New("jwt secret and issuer are required")
	ErrNoOwner       = errors.New("token does not name an owner")
)

// Claims is the token body. OwnerID scopes every schedule, credential and
// publish record a request touches.
type Claims struct {
	OwnerID uuid.UUID `json:"owner_id"`
	jwt.RegisteredClaims
}

// Tokens signs and checks HS256 tokens for one issuer.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewTokens(cfg config.JWTConfig) *Tokens {
	return &Tokens{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    time.Duration(cfg.ExpirationMinutes) * time.Minute,
	}
}

func (t *Tokens) configured() bool {
	return t != nil && len(t.secret) > 0 && t.issuer != ""
}

// Mint issues a token for ownerID valid from now for the configured lifetime.
func (t *Tokens) Mint(ownerID uuid.UUID, now time.Time) (string, error) {
	if !t.configured() {
		return "", ErrNotConfigured
	}
	if t.ttl <= 0 {
		return "", fmt.Errorf("token lifetime must be positive, got %s", t.ttl)
	}
	if ownerID == uuid.Nil {
		return "", ErrNoOwner
	}

	claims := Claims{
		OwnerID: ownerID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    t.issuer,
			Subject:   ownerID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry, and returns the owner the token names.
func (t *Tokens) Verify(raw string) (uuid.UUID, error) {
	if !t.configured() {
		return uuid.Nil, ErrNotConfigured
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return uuid.Nil, err
	}
	if claims.OwnerID == uuid.Nil {
		return uuid.Nil, ErrNoOwner
	}
	return claims.OwnerID, nil
}
