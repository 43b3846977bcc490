package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/carwash-platform/internal/database"
)

type PgStore struct {
	pool database.Pool
}

func NewPgStore(pool database.Pool) *PgStore {
	if pool == nil {
		panic("catalog: pgx pool required")
	}
	return &PgStore{pool: pool}
}

func (s *PgStore) db(ctx context.Context) database.DB {
	return database.Conn(ctx, s.pool)
}

func mapWriteErr(op string, err error) error {
	if database.IsUniqueViolation(err, "") {
		return ErrDuplicate
	}
	return fmt.Errorf("catalog: %s: %w", op, err)
}

func mapReadErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("catalog: %s: %w", op, err)
}

// scopedByID filters by id, and by tenant unless tenantID is nil.
func scopedByID(base string, tenantID, id uuid.UUID) (string, []any) {
	if tenantID == uuid.Nil {
		return base + ` WHERE id = $1`, []any{id}
	}
	return base + ` WHERE id = $1 AND tenant_id = $2`, []any{id, tenantID}
}

const locationColumns = `id, tenant_id, name, address, contact_number, is_active, created_at, updated_at`

func scanLocation(row pgx.Row) (*Location, error) {
	var loc Location
	if err := row.Scan(&loc.ID, &loc.TenantID, &loc.Name, &loc.Address, &loc.ContactNumber,
		&loc.IsActive, &loc.CreatedAt, &loc.UpdatedAt); err != nil {
		return nil, err
	}
	return &loc, nil
}

func (s *PgStore) CreateLocation(ctx context.Context, loc *Location) error {
	query := `
		INSERT INTO locations (id, tenant_id, name, address, contact_number, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err := s.db(ctx).QueryRow(ctx, query, loc.ID, loc.TenantID, loc.Name, loc.Address, loc.ContactNumber, loc.IsActive).
		Scan(&loc.CreatedAt, &loc.UpdatedAt)
	if err != nil {
		return mapWriteErr("create location", err)
	}
	return nil
}

func (s *PgStore) UpdateLocation(ctx context.Context, loc *Location) error {
	query := `
		UPDATE locations
		SET name = $3, address = $4, contact_number = $5, is_active = $6, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at
	`
	err := s.db(ctx).QueryRow(ctx, query, loc.TenantID, loc.ID, loc.Name, loc.Address, loc.ContactNumber, loc.IsActive).
		Scan(&loc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return mapWriteErr("update location", err)
	}
	return nil
}

func (s *PgStore) GetLocation(ctx context.Context, tenantID, id uuid.UUID) (*Location, error) {
	query, args := scopedByID(`SELECT `+locationColumns+` FROM locations`, tenantID, id)
	loc, err := scanLocation(s.db(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapReadErr("get location", err)
	}
	return loc, nil
}

func (s *PgStore) ListLocations(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations WHERE TRUE`
	var args []any
	if tenantID != uuid.Nil {
		args = append(args, tenantID)
		query += ` AND tenant_id = $` + strconv.Itoa(len(args))
	}
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY name`

	rows, err := s.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list locations: %w", err)
	}
	defer rows.Close()
	var out []Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan location: %w", err)
		}
		out = append(out, *loc)
	}
	return out, rows.Err()
}

const serviceColumns = `id, tenant_id, name, description, price_cents, duration_minutes, is_active, created_at, updated_at`

func scanService(row pgx.Row) (*Service, error) {
	var svc Service
	if err := row.Scan(&svc.ID, &svc.TenantID, &svc.Name, &svc.Description, &svc.PriceCents,
		&svc.DurationMinutes, &svc.IsActive, &svc.CreatedAt, &svc.UpdatedAt); err != nil {
		return nil, err
	}
	return &svc, nil
}

func (s *PgStore) CreateService(ctx context.Context, svc *Service) error {
	query := `
		INSERT INTO services (id, tenant_id, name, description, price_cents, duration_minutes, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := s.db(ctx).QueryRow(ctx, query, svc.ID, svc.TenantID, svc.Name, svc.Description, svc.PriceCents,
		svc.DurationMinutes, svc.IsActive).Scan(&svc.CreatedAt, &svc.UpdatedAt)
	if err != nil {
		return mapWriteErr("create service", err)
	}
	return nil
}

func (s *PgStore) UpdateService(ctx context.Context, svc *Service) error {
	query := `
		UPDATE services
		SET name = $3, description = $4, price_cents = $5, duration_minutes = $6, is_active = $7, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at
	`
	err := s.db(ctx).QueryRow(ctx, query, svc.TenantID, svc.ID, svc.Name, svc.Description, svc.PriceCents,
		svc.DurationMinutes, svc.IsActive).Scan(&svc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return mapWriteErr("update service", err)
	}
	return nil
}

func (s *PgStore) GetService(ctx context.Context, tenantID, id uuid.UUID) (*Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE tenant_id = $1 AND id = $2`
	svc, err := scanService(s.db(ctx).QueryRow(ctx, query, tenantID, id))
	if err != nil {
		return nil, mapReadErr("get service", err)
	}
	return svc, nil
}

func (s *PgStore) ListServices(ctx context.Context, tenantID uuid.UUID) ([]Service, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE tenant_id = $1 ORDER BY name`
	rows, err := s.db(ctx).Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list services: %w", err)
	}
	defer rows.Close()
	var out []Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan service: %w", err)
		}
		out = append(out, *svc)
	}
	return out, rows.Err()
}

const locationServiceColumns = `id, tenant_id, location_id, name, description, is_active, created_at, updated_at`

func scanLocationService(row pgx.Row) (*LocationService, error) {
	var ls LocationService
	if err := row.Scan(&ls.ID, &ls.TenantID, &ls.LocationID, &ls.Name, &ls.Description,
		&ls.IsActive, &ls.CreatedAt, &ls.UpdatedAt); err != nil {
		return nil, err
	}
	return &ls, nil
}

func (s *PgStore) CreateLocationService(ctx context.Context, ls *LocationService) error {
	query := `
		INSERT INTO location_services (id, tenant_id, location_id, name, description, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err := s.db(ctx).QueryRow(ctx, query, ls.ID, ls.TenantID, ls.LocationID, ls.Name, ls.Description, ls.IsActive).
		Scan(&ls.CreatedAt, &ls.UpdatedAt)
	if err != nil {
		return mapWriteErr("create location service", err)
	}
	return s.replaceItems(ctx, ls.ID, ls.ServiceIDs)
}

func (s *PgStore) UpdateLocationService(ctx context.Context, ls *LocationService) error {
	query := `
		UPDATE location_services
		SET name = $3, description = $4, is_active = $5, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at
	`
	err := s.db(ctx).QueryRow(ctx, query, ls.TenantID, ls.ID, ls.Name, ls.Description, ls.IsActive).Scan(&ls.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return mapWriteErr("update location service", err)
	}
	return s.replaceItems(ctx, ls.ID, ls.ServiceIDs)
}

func (s *PgStore) replaceItems(ctx context.Context, locationServiceID uuid.UUID, serviceIDs []uuid.UUID) error {
	if _, err := s.db(ctx).Exec(ctx, `DELETE FROM location_service_items WHERE location_service_id = $1`, locationServiceID); err != nil {
		return fmt.Errorf("catalog: clear bundle items: %w", err)
	}
	for _, serviceID := range serviceIDs {
		if _, err := s.db(ctx).Exec(ctx,
			`INSERT INTO location_service_items (location_service_id, service_id) VALUES ($1, $2)`,
			locationServiceID, serviceID); err != nil {
			return fmt.Errorf("catalog: insert bundle item: %w", err)
		}
	}
	return nil
}

func (s *PgStore) GetLocationService(ctx context.Context, tenantID, id uuid.UUID) (*LocationService, error) {
	query, args := scopedByID(`SELECT `+locationServiceColumns+` FROM location_services`, tenantID, id)
	ls, err := scanLocationService(s.db(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapReadErr("get location service", err)
	}
	bundles := []*LocationService{ls}
	if err := s.loadServices(ctx, bundles); err != nil {
		return nil, err
	}
	return ls, nil
}

func (s *PgStore) ListLocationServices(ctx context.Context, tenantID, locationID uuid.UUID, activeOnly bool) ([]LocationService, error) {
	query := `SELECT ` + locationServiceColumns + ` FROM location_services WHERE TRUE`
	var args []any
	if tenantID != uuid.Nil {
		args = append(args, tenantID)
		query += ` AND tenant_id = $` + strconv.Itoa(len(args))
	}
	if locationID != uuid.Nil {
		args = append(args, locationID)
		query += ` AND location_id = $` + strconv.Itoa(len(args))
	}
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY name`

	rows, err := s.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list location services: %w", err)
	}
	var bundles []*LocationService
	for rows.Next() {
		ls, err := scanLocationService(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("catalog: scan location service: %w", err)
		}
		bundles = append(bundles, ls)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: list location services: %w", err)
	}
	if err := s.loadServices(ctx, bundles); err != nil {
		return nil, err
	}
	out := make([]LocationService, 0, len(bundles))
	for _, ls := range bundles {
		out = append(out, *ls)
	}
	return out, nil
}

// loadServices attaches bundled services and computes totals.
func (s *PgStore) loadServices(ctx context.Context, bundles []*LocationService) error {
	if len(bundles) == 0 {
		return nil
	}
	ids := make([]string, 0, len(bundles))
	byID := make(map[uuid.UUID]*LocationService, len(bundles))
	for _, ls := range bundles {
		ids = append(ids, ls.ID.String())
		byID[ls.ID] = ls
	}
	query := `
		SELECT i.location_service_id, s.id, s.tenant_id, s.name, s.description, s.price_cents,
			s.duration_minutes, s.is_active, s.created_at, s.updated_at
		FROM location_service_items i
		JOIN services s ON s.id = i.service_id
		WHERE i.location_service_id = ANY($1::uuid[])
		ORDER BY s.name
	`
	rows, err := s.db(ctx).Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("catalog: load bundle services: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			bundleID uuid.UUID
			svc      Service
		)
		if err := rows.Scan(&bundleID, &svc.ID, &svc.TenantID, &svc.Name, &svc.Description, &svc.PriceCents,
			&svc.DurationMinutes, &svc.IsActive, &svc.CreatedAt, &svc.UpdatedAt); err != nil {
			return fmt.Errorf("catalog: scan bundle service: %w", err)
		}
		if ls, ok := byID[bundleID]; ok {
			ls.Services = append(ls.Services, svc)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("catalog: load bundle services: %w", err)
	}
	for _, ls := range bundles {
		ls.computeTotals()
	}
	return nil
}
