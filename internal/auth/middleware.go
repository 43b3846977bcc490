package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/carwash-platform/internal/http/respond"
	"github.com/wolfman30/carwash-platform/internal/tenancy"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

type ctxKey string

const expiryKey ctxKey = "carwash.token_expiry"

// ExpiryFromContext returns the expiry of the token that authenticated the request.
func ExpiryFromContext(ctx context.Context) (time.Time, bool) {
	exp, ok := ctx.Value(expiryKey).(time.Time)
	return exp, ok
}

// Authenticator validates bearer tokens for route groups.
type Authenticator struct {
	issuer  *Issuer
	revoker Revoker
	logger  *logging.Logger
}

func NewAuthenticator(issuer *Issuer, revoker Revoker, logger *logging.Logger) *Authenticator {
	if revoker == nil {
		revoker = NewMemoryRevoker()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Authenticator{issuer: issuer, revoker: revoker, logger: logger}
}

// RequireActor admits requests carrying a valid, unrevoked token of one of
// the given actor types and stores the identity in the context.
func (a *Authenticator) RequireActor(actors ...tenancy.ActorType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				respond.Fail(w, http.StatusUnauthorized, "authentication credentials were not provided")
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

			var (
				id  tenancy.Identity
				exp time.Time
				err = ErrInvalidToken
			)
			for _, actor := range actors {
				if id, exp, err = a.issuer.Parse(actor, raw); err == nil {
					break
				}
			}
			if err != nil {
				respond.Fail(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			revoked, err := a.revoker.IsRevoked(r.Context(), id.TokenID)
			if err != nil {
				a.logger.Warn("token revocation check failed", "error", err)
			}
			if revoked {
				respond.Fail(w, http.StatusUnauthorized, "token has been revoked")
				return
			}

			ctx := tenancy.WithIdentity(r.Context(), id)
			ctx = context.WithValue(ctx, expiryKey, exp)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Logout revokes the token that authenticated ctx.
func (a *Authenticator) Logout(ctx context.Context) error {
	id, ok := tenancy.IdentityFromContext(ctx)
	if !ok || id.TokenID == "" {
		return ErrInvalidToken
	}
	exp, ok := ExpiryFromContext(ctx)
	if !ok {
		exp = time.Now().Add(a.issuer.ttl)
	}
	return a.revoker.Revoke(ctx, id.TokenID, exp)
}
