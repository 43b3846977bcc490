// Package auth issues and validates per-actor JWTs, revokes them on logout,
// and owns customer and tenant accounts.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/carwash-platform/internal/tenancy"
)

var (
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Claims is the JWT payload. Sub carries the actor id.
type Claims struct {
	jwt.RegisteredClaims
	Actor      tenancy.ActorType `json:"actor"`
	TenantID   string            `json:"tenant_id,omitempty"`
	LocationID string            `json:"location_id,omitempty"`
}

// Token is what login endpoints return.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Secrets holds one HMAC key per actor type.
type Secrets map[tenancy.ActorType]string

// Issuer signs and parses HS256 tokens.
type Issuer struct {
	secrets Secrets
	ttl     time.Duration
	now     func() time.Time
}

func NewIssuer(secrets Secrets, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Issuer{secrets: secrets, ttl: ttl, now: time.Now}
}

// Issue signs a token for id with the secret of its actor type.
func (i *Issuer) Issue(id tenancy.Identity) (Token, error) {
	secret := i.secrets[id.Actor]
	if secret == "" {
		return Token{}, fmt.Errorf("auth: no signing secret for %s", id.Actor)
	}
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ActorID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Actor: id.Actor,
	}
	if id.TenantID != uuid.Nil {
		claims.TenantID = id.TenantID.String()
	}
	if id.LocationID != uuid.Nil {
		claims.LocationID = id.LocationID.String()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return Token{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return Token{AccessToken: signed, TokenType: "Bearer", ExpiresAt: exp.UTC()}, nil
}

// Parse validates raw against the secret of actor and returns the identity
// with the token expiry.
func (i *Issuer) Parse(actor tenancy.ActorType, raw string) (tenancy.Identity, time.Time, error) {
	secret := i.secrets[actor]
	if secret == "" {
		return tenancy.Identity{}, time.Time{}, ErrInvalidToken
	}
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return tenancy.Identity{}, time.Time{}, ErrInvalidToken
	}
	if claims.Actor != actor || claims.ID == "" {
		return tenancy.Identity{}, time.Time{}, ErrInvalidToken
	}
	actorID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return tenancy.Identity{}, time.Time{}, ErrInvalidToken
	}
	id := tenancy.Identity{Actor: actor, ActorID: actorID, TokenID: claims.ID}
	if claims.TenantID != "" {
		if id.TenantID, err = uuid.Parse(claims.TenantID); err != nil {
			return tenancy.Identity{}, time.Time{}, ErrInvalidToken
		}
	}
	if claims.LocationID != "" {
		if id.LocationID, err = uuid.Parse(claims.LocationID); err != nil {
			return tenancy.Identity{}, time.Time{}, ErrInvalidToken
		}
	}
	return id, claims.ExpiresAt.Time, nil
}
