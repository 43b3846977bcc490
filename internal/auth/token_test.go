package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/carwash-platform/internal/tenancy"
)

func testSecrets() Secrets {
	return Secrets{
		tenancy.ActorCustomer: "customer-secret",
		tenancy.ActorStaff:    "staff-secret",
		tenancy.ActorTenant:   "tenant-secret",
	}
}

func TestIssueAndParseRoundTrip(t *testing.T) {
	issuer := NewIssuer(testSecrets(), time.Hour)
	id := tenancy.Identity{Actor: tenancy.ActorStaff, ActorID: uuid.New(), TenantID: uuid.New(), LocationID: uuid.New()}

	tok, err := issuer.Issue(id)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)

	got, exp, err := issuer.Parse(tenancy.ActorStaff, tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id.ActorID, got.ActorID)
	assert.Equal(t, id.TenantID, got.TenantID)
	assert.Equal(t, id.LocationID, got.LocationID)
	assert.NotEmpty(t, got.TokenID)
	assert.WithinDuration(t, tok.ExpiresAt, exp, time.Second)
}

func TestParseRejectsOtherActorSecret(t *testing.T) {
	issuer := NewIssuer(testSecrets(), time.Hour)
	tok, err := issuer.Issue(tenancy.Identity{Actor: tenancy.ActorCustomer, ActorID: uuid.New()})
	require.NoError(t, err)

	_, _, err = issuer.Parse(tenancy.ActorTenant, tok.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsActorClaimMismatch(t *testing.T) {
	// signed with the tenant secret but claiming to be staff
	secrets := Secrets{tenancy.ActorTenant: "shared", tenancy.ActorStaff: "shared"}
	issuer := NewIssuer(secrets, time.Hour)
	tok, err := issuer.Issue(tenancy.Identity{Actor: tenancy.ActorStaff, ActorID: uuid.New()})
	require.NoError(t, err)

	_, _, err = issuer.Parse(tenancy.ActorTenant, tok.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsExpiredAndForeignAlgorithms(t *testing.T) {
	issuer := NewIssuer(testSecrets(), time.Minute)
	tok, err := issuer.Issue(tenancy.Identity{Actor: tenancy.ActorCustomer, ActorID: uuid.New()})
	require.NoError(t, err)

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, _, err = issuer.Parse(tenancy.ActorCustomer, tok.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Actor: tenancy.ActorCustomer})
	raw, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, _, err = issuer.Parse(tenancy.ActorCustomer, raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueWithoutSecretFails(t *testing.T) {
	issuer := NewIssuer(Secrets{}, time.Hour)
	_, err := issuer.Issue(tenancy.Identity{Actor: tenancy.ActorCustomer, ActorID: uuid.New()})
	assert.Error(t, err)
}
