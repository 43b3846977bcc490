package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/carwash-platform/internal/apperr"
	"github.com/wolfman30/carwash-platform/internal/database"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

func newTestManager() *Manager {
	return NewManager(NewMemoryStore(), database.NewMemoryRunner(), logging.Discard())
}

func TestCreateLocationValidatesContactNumber(t *testing.T) {
	m := newTestManager()
	tenantID := uuid.New()

	_, err := m.CreateLocation(context.Background(), tenantID, LocationInput{Name: "Westlands", ContactNumber: "0712345678"})
	require.Error(t, err)
	verr, ok := apperr.AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, verr.Fields, "contact_number")

	loc, err := m.CreateLocation(context.Background(), tenantID, LocationInput{Name: "Westlands", ContactNumber: "+254712345678"})
	require.NoError(t, err)
	assert.True(t, loc.IsActive)
}

func TestDuplicateNamesConflictPerTenant(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	tenantA, tenantB := uuid.New(), uuid.New()

	_, err := m.CreateService(ctx, tenantA, ServiceInput{Name: "Exterior Wash", PriceCents: 50000, DurationMinutes: 20})
	require.NoError(t, err)
	_, err = m.CreateService(ctx, tenantA, ServiceInput{Name: "exterior wash", PriceCents: 60000, DurationMinutes: 25})
	assert.True(t, apperr.IsConflict(err))

	_, err = m.CreateService(ctx, tenantB, ServiceInput{Name: "Exterior Wash", PriceCents: 50000, DurationMinutes: 20})
	assert.NoError(t, err)
}

func TestLocationServiceComputesTotals(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	tenantID := uuid.New()

	loc, err := m.CreateLocation(ctx, tenantID, LocationInput{Name: "CBD", ContactNumber: "+254700000001"})
	require.NoError(t, err)
	wash, err := m.CreateService(ctx, tenantID, ServiceInput{Name: "Wash", PriceCents: 70000, DurationMinutes: 20})
	require.NoError(t, err)
	vacuum, err := m.CreateService(ctx, tenantID, ServiceInput{Name: "Vacuum", PriceCents: 30000, DurationMinutes: 10})
	require.NoError(t, err)

	ls, err := m.CreateLocationService(ctx, tenantID, LocationServiceInput{
		LocationID: loc.ID,
		Name:       "Full Valet",
		ServiceIDs: []uuid.UUID{wash.ID, vacuum.ID, wash.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100000), ls.PriceCents)
	assert.Equal(t, 30, ls.DurationMinutes)
	assert.Len(t, ls.Services, 2)

	// a price change on a bundled service shows up on the next read
	newPrice := int64(90000)
	_, err = m.UpdateService(ctx, tenantID, wash.ID, ServicePatch{PriceCents: &newPrice})
	require.NoError(t, err)
	reread, err := m.GetLocationService(ctx, tenantID, ls.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(120000), reread.PriceCents)
}

func TestLocationServiceRejectsForeignServices(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	tenantID, other := uuid.New(), uuid.New()

	loc, err := m.CreateLocation(ctx, tenantID, LocationInput{Name: "CBD", ContactNumber: "+254700000001"})
	require.NoError(t, err)
	foreign, err := m.CreateService(ctx, other, ServiceInput{Name: "Wax", PriceCents: 100, DurationMinutes: 5})
	require.NoError(t, err)

	_, err = m.CreateLocationService(ctx, tenantID, LocationServiceInput{LocationID: loc.ID, Name: "Bundle", ServiceIDs: []uuid.UUID{foreign.ID}})
	assert.True(t, apperr.IsValidation(err))

	_, err = m.CreateLocationService(ctx, tenantID, LocationServiceInput{LocationID: loc.ID, Name: "Empty"})
	assert.True(t, apperr.IsValidation(err))

	_, err = m.CreateLocationService(ctx, other, LocationServiceInput{LocationID: loc.ID, Name: "Bundle", ServiceIDs: []uuid.UUID{foreign.ID}})
	assert.True(t, apperr.IsNotFound(err))
}

func TestPublicListingsHideInactive(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	tenantID := uuid.New()
	inactive := false

	open, err := m.CreateLocation(ctx, tenantID, LocationInput{Name: "Open", ContactNumber: "+254700000001"})
	require.NoError(t, err)
	closed, err := m.CreateLocation(ctx, tenantID, LocationInput{Name: "Closed", ContactNumber: "+254700000002", IsActive: &inactive})
	require.NoError(t, err)
	svc, err := m.CreateService(ctx, tenantID, ServiceInput{Name: "Wash", PriceCents: 100, DurationMinutes: 15})
	require.NoError(t, err)
	_, err = m.CreateLocationService(ctx, tenantID, LocationServiceInput{LocationID: open.ID, Name: "Quick", ServiceIDs: []uuid.UUID{svc.ID}})
	require.NoError(t, err)
	_, err = m.CreateLocationService(ctx, tenantID, LocationServiceInput{LocationID: open.ID, Name: "Retired", ServiceIDs: []uuid.UUID{svc.ID}, IsActive: &inactive})
	require.NoError(t, err)

	locs, err := m.PublicLocations(ctx)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, open.ID, locs[0].ID)

	bundles, err := m.PublicLocationServices(ctx, open.ID)
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.Equal(t, "Quick", bundles[0].Name)

	_, err = m.PublicLocationServices(ctx, closed.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestTenantScopingHidesOtherTenants(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	loc, err := m.CreateLocation(ctx, uuid.New(), LocationInput{Name: "Mine", ContactNumber: "+254700000001"})
	require.NoError(t, err)

	_, err = m.GetLocation(ctx, uuid.New(), loc.ID)
	require.Error(t, err)
	assert.Equal(t, "location not found or no permission", err.Error())
}
