package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Store persists catalog rows. A nil tenantID on reads means "any tenant";
// callers that act for a tenant always pass it.
type Store interface {
	CreateLocation(ctx context.Context, loc *Location) error
	UpdateLocation(ctx context.Context, loc *Location) error
	GetLocation(ctx context.Context, tenantID, id uuid.UUID) (*Location, error)
	ListLocations(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]Location, error)

	CreateService(ctx context.Context, svc *Service) error
	UpdateService(ctx context.Context, svc *Service) error
	GetService(ctx context.Context, tenantID, id uuid.UUID) (*Service, error)
	ListServices(ctx context.Context, tenantID uuid.UUID) ([]Service, error)

	// CreateLocationService stores the bundle and its service links.
	CreateLocationService(ctx context.Context, ls *LocationService) error
	UpdateLocationService(ctx context.Context, ls *LocationService) error
	GetLocationService(ctx context.Context, tenantID, id uuid.UUID) (*LocationService, error)
	ListLocationServices(ctx context.Context, tenantID, locationID uuid.UUID, activeOnly bool) ([]LocationService, error)
}
