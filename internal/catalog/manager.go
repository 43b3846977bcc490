package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/carwash-platform/internal/apperr"
	"github.com/wolfman30/carwash-platform/internal/database"
	"github.com/wolfman30/carwash-platform/internal/mpesa"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

var tracer = otel.Tracer("carwash.internal.catalog")

type LocationInput struct {
	Name          string `json:"name" validate:"required,max=120"`
	Address       string `json:"address" validate:"max=255"`
	ContactNumber string `json:"contact_number" validate:"required"`
	IsActive      *bool  `json:"is_active"`
}

type LocationPatch struct {
	Name          *string `json:"name" validate:"omitempty,min=1,max=120"`
	Address       *string `json:"address" validate:"omitempty,max=255"`
	ContactNumber *string `json:"contact_number"`
	IsActive      *bool   `json:"is_active"`
}

type ServiceInput struct {
	Name            string `json:"name" validate:"required,max=120"`
	Description     string `json:"description" validate:"max=1000"`
	PriceCents      int64  `json:"price_cents" validate:"gte=0"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,gte=1,lte=1440"`
	IsActive        *bool  `json:"is_active"`
}

type ServicePatch struct {
	Name            *string `json:"name" validate:"omitempty,min=1,max=120"`
	Description     *string `json:"description" validate:"omitempty,max=1000"`
	PriceCents      *int64  `json:"price_cents" validate:"omitempty,gte=0"`
	DurationMinutes *int    `json:"duration_minutes" validate:"omitempty,gte=1,lte=1440"`
	IsActive        *bool   `json:"is_active"`
}

type LocationServiceInput struct {
	LocationID  uuid.UUID   `json:"location_id" validate:"required"`
	Name        string      `json:"name" validate:"required,max=120"`
	Description string      `json:"description" validate:"max=1000"`
	ServiceIDs  []uuid.UUID `json:"service_ids" validate:"required,min=1"`
	IsActive    *bool       `json:"is_active"`
}

type LocationServicePatch struct {
	Name        *string     `json:"name" validate:"omitempty,min=1,max=120"`
	Description *string     `json:"description" validate:"omitempty,max=1000"`
	ServiceIDs  []uuid.UUID `json:"service_ids" validate:"omitempty,min=1"`
	IsActive    *bool       `json:"is_active"`
}

// Manager applies tenant ownership and naming rules on top of a Store.
type Manager struct {
	store  Store
	tx     database.TxRunner
	logger *logging.Logger
}

func NewManager(store Store, tx database.TxRunner, logger *logging.Logger) *Manager {
	if store == nil {
		panic("catalog: store required")
	}
	if tx == nil {
		panic("catalog: tx runner required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{store: store, tx: tx, logger: logger}
}

func (m *Manager) CreateLocation(ctx context.Context, tenantID uuid.UUID, in LocationInput) (*Location, error) {
	ctx, span := tracer.Start(ctx, "catalog.create_location")
	defer span.End()
	span.SetAttributes(attribute.String("carwash.tenant_id", tenantID.String()))

	loc := &Location{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Name:          strings.TrimSpace(in.Name),
		Address:       strings.TrimSpace(in.Address),
		ContactNumber: strings.TrimSpace(in.ContactNumber),
		IsActive:      boolOr(in.IsActive, true),
	}
	if err := validateLocation(loc); err != nil {
		return nil, err
	}
	if err := m.store.CreateLocation(ctx, loc); err != nil {
		return nil, translate("location", err)
	}
	m.logger.Info("location created", "tenant_id", tenantID, "location_id", loc.ID)
	return loc, nil
}

func (m *Manager) UpdateLocation(ctx context.Context, tenantID, id uuid.UUID, patch LocationPatch) (*Location, error) {
	loc, err := m.store.GetLocation(ctx, tenantID, id)
	if err != nil {
		return nil, translate("location", err)
	}
	if patch.Name != nil {
		loc.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Address != nil {
		loc.Address = strings.TrimSpace(*patch.Address)
	}
	if patch.ContactNumber != nil {
		loc.ContactNumber = strings.TrimSpace(*patch.ContactNumber)
	}
	if patch.IsActive != nil {
		loc.IsActive = *patch.IsActive
	}
	if err := validateLocation(loc); err != nil {
		return nil, err
	}
	if err := m.store.UpdateLocation(ctx, loc); err != nil {
		return nil, translate("location", err)
	}
	return loc, nil
}

func (m *Manager) GetLocation(ctx context.Context, tenantID, id uuid.UUID) (*Location, error) {
	loc, err := m.store.GetLocation(ctx, tenantID, id)
	if err != nil {
		return nil, translate("location", err)
	}
	return loc, nil
}

func (m *Manager) ListLocations(ctx context.Context, tenantID uuid.UUID) ([]Location, error) {
	return m.store.ListLocations(ctx, tenantID, false)
}

// PublicLocations lists active locations across tenants for customers.
func (m *Manager) PublicLocations(ctx context.Context) ([]Location, error) {
	return m.store.ListLocations(ctx, uuid.Nil, true)
}

// PublicLocationServices lists the active bundles of an active location.
func (m *Manager) PublicLocationServices(ctx context.Context, locationID uuid.UUID) ([]LocationService, error) {
	loc, err := m.store.GetLocation(ctx, uuid.Nil, locationID)
	if err != nil || !loc.IsActive {
		if err == nil || errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("location")
		}
		return nil, err
	}
	return m.store.ListLocationServices(ctx, loc.TenantID, loc.ID, true)
}

func (m *Manager) CreateService(ctx context.Context, tenantID uuid.UUID, in ServiceInput) (*Service, error) {
	svc := &Service{
		ID:              uuid.New(),
		TenantID:        tenantID,
		Name:            strings.TrimSpace(in.Name),
		Description:     strings.TrimSpace(in.Description),
		PriceCents:      in.PriceCents,
		DurationMinutes: in.DurationMinutes,
		IsActive:        boolOr(in.IsActive, true),
	}
	if err := validateService(svc); err != nil {
		return nil, err
	}
	if err := m.store.CreateService(ctx, svc); err != nil {
		return nil, translate("service", err)
	}
	return svc, nil
}

func (m *Manager) UpdateService(ctx context.Context, tenantID, id uuid.UUID, patch ServicePatch) (*Service, error) {
	svc, err := m.store.GetService(ctx, tenantID, id)
	if err != nil {
		return nil, translate("service", err)
	}
	if patch.Name != nil {
		svc.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		svc.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.PriceCents != nil {
		svc.PriceCents = *patch.PriceCents
	}
	if patch.DurationMinutes != nil {
		svc.DurationMinutes = *patch.DurationMinutes
	}
	if patch.IsActive != nil {
		svc.IsActive = *patch.IsActive
	}
	if err := validateService(svc); err != nil {
		return nil, err
	}
	if err := m.store.UpdateService(ctx, svc); err != nil {
		return nil, translate("service", err)
	}
	return svc, nil
}

func (m *Manager) GetService(ctx context.Context, tenantID, id uuid.UUID) (*Service, error) {
	svc, err := m.store.GetService(ctx, tenantID, id)
	if err != nil {
		return nil, translate("service", err)
	}
	return svc, nil
}

func (m *Manager) ListServices(ctx context.Context, tenantID uuid.UUID) ([]Service, error) {
	return m.store.ListServices(ctx, tenantID)
}

func (m *Manager) CreateLocationService(ctx context.Context, tenantID uuid.UUID, in LocationServiceInput) (*LocationService, error) {
	ctx, span := tracer.Start(ctx, "catalog.create_location_service")
	defer span.End()

	ls := &LocationService{
		ID:          uuid.New(),
		TenantID:    tenantID,
		LocationID:  in.LocationID,
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		ServiceIDs:  dedupe(in.ServiceIDs),
		IsActive:    boolOr(in.IsActive, true),
	}
	if ls.Name == "" {
		return nil, apperr.Invalid("name", "this field is required")
	}
	err := m.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := m.store.GetLocation(ctx, tenantID, ls.LocationID); err != nil {
			return translate("location", err)
		}
		if err := m.checkServices(ctx, tenantID, ls.ServiceIDs); err != nil {
			return err
		}
		return translate("location service", m.store.CreateLocationService(ctx, ls))
	})
	if err != nil {
		return nil, err
	}
	return m.store.GetLocationService(ctx, tenantID, ls.ID)
}

func (m *Manager) UpdateLocationService(ctx context.Context, tenantID, id uuid.UUID, patch LocationServicePatch) (*LocationService, error) {
	err := m.tx.InTx(ctx, func(ctx context.Context) error {
		ls, err := m.store.GetLocationService(ctx, tenantID, id)
		if err != nil {
			return translate("location service", err)
		}
		if patch.Name != nil {
			ls.Name = strings.TrimSpace(*patch.Name)
			if ls.Name == "" {
				return apperr.Invalid("name", "this field is required")
			}
		}
		if patch.Description != nil {
			ls.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.IsActive != nil {
			ls.IsActive = *patch.IsActive
		}
		if patch.ServiceIDs != nil {
			ls.ServiceIDs = dedupe(patch.ServiceIDs)
			if err := m.checkServices(ctx, tenantID, ls.ServiceIDs); err != nil {
				return err
			}
		}
		return translate("location service", m.store.UpdateLocationService(ctx, ls))
	})
	if err != nil {
		return nil, err
	}
	return m.store.GetLocationService(ctx, tenantID, id)
}

func (m *Manager) GetLocationService(ctx context.Context, tenantID, id uuid.UUID) (*LocationService, error) {
	ls, err := m.store.GetLocationService(ctx, tenantID, id)
	if err != nil {
		return nil, translate("location service", err)
	}
	return ls, nil
}

func (m *Manager) ListLocationServices(ctx context.Context, tenantID, locationID uuid.UUID) ([]LocationService, error) {
	return m.store.ListLocationServices(ctx, tenantID, locationID, false)
}

// Location looks a location up without tenant scoping. Callers enforce ownership.
func (m *Manager) Location(ctx context.Context, id uuid.UUID) (*Location, error) {
	return m.GetLocation(ctx, uuid.Nil, id)
}

// LocationService looks a bundle up without tenant scoping. Callers enforce ownership.
func (m *Manager) LocationService(ctx context.Context, id uuid.UUID) (*LocationService, error) {
	return m.GetLocationService(ctx, uuid.Nil, id)
}

func (m *Manager) checkServices(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return apperr.Invalid("service_ids", "must be at least 1")
	}
	for _, id := range ids {
		if _, err := m.store.GetService(ctx, tenantID, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return apperr.Invalid("service_ids", fmt.Sprintf("service %s not found or no permission", id))
			}
			return err
		}
	}
	return nil
}

func validateLocation(loc *Location) error {
	verr := &apperr.ValidationError{}
	if loc.Name == "" {
		verr.Add("name", "this field is required")
	}
	if err := mpesa.ValidateContactNumber(loc.ContactNumber); err != nil {
		verr.Add("contact_number", "must be in the format +254XXXXXXXXX")
	}
	return verr.OrNil()
}

func validateService(svc *Service) error {
	verr := &apperr.ValidationError{}
	if svc.Name == "" {
		verr.Add("name", "this field is required")
	}
	if svc.PriceCents < 0 {
		verr.Add("price_cents", "must be greater than or equal to 0")
	}
	if svc.DurationMinutes <= 0 {
		verr.Add("duration_minutes", "must be greater than 0")
	}
	return verr.OrNil()
}

func translate(resource string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return apperr.NotFoundError{Resource: resource, Err: err}
	case errors.Is(err, ErrDuplicate):
		return apperr.ConflictError{Resource: resource, Msg: "a " + resource + " with this name already exists", Err: err}
	default:
		return err
	}
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == uuid.Nil {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
