// Package catalog manages a tenant's locations, the services it sells and
// the per-location bundles customers book.
package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("catalog: not found")
	ErrDuplicate = errors.New("catalog: duplicate name")
)

type Location struct {
	ID            uuid.UUID `json:"id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	Name          string    `json:"name"`
	Address       string    `json:"address"`
	ContactNumber string    `json:"contact_number"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Service struct {
	ID              uuid.UUID `json:"id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	PriceCents      int64     `json:"price_cents"`
	DurationMinutes int       `json:"duration_minutes"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// LocationService bundles one or more services at a location. Price and
// duration are sums over the bundled services and are never stored.
type LocationService struct {
	ID              uuid.UUID   `json:"id"`
	TenantID        uuid.UUID   `json:"tenant_id"`
	LocationID      uuid.UUID   `json:"location_id"`
	Name            string      `json:"name"`
	Description     string      `json:"description"`
	ServiceIDs      []uuid.UUID `json:"service_ids"`
	Services        []Service   `json:"services"`
	IsActive        bool        `json:"is_active"`
	PriceCents      int64       `json:"price_cents"`
	DurationMinutes int         `json:"duration_minutes"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Duration is the total time the bundle occupies a bay.
func (ls *LocationService) Duration() time.Duration {
	return time.Duration(ls.DurationMinutes) * time.Minute
}

func (ls *LocationService) computeTotals() {
	ls.PriceCents = 0
	ls.DurationMinutes = 0
	ls.ServiceIDs = ls.ServiceIDs[:0]
	for _, svc := range ls.Services {
		ls.PriceCents += svc.PriceCents
		ls.DurationMinutes += svc.DurationMinutes
		ls.ServiceIDs = append(ls.ServiceIDs, svc.ID)
	}
}
