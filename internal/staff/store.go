package staff

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/carwash-platform/internal/database"
)

// Store persists roles and profiles. A nil tenantID on reads matches any tenant.
type Store interface {
	CreateRole(ctx context.Context, r *Role) error
	UpdateRole(ctx context.Context, r *Role) error
	GetRole(ctx context.Context, tenantID, id uuid.UUID) (*Role, error)
	ListRoles(ctx context.Context, tenantID uuid.UUID) ([]Role, error)
	DeleteRole(ctx context.Context, tenantID, id uuid.UUID) error

	CreateProfile(ctx context.Context, p *Profile) error
	UpdateProfile(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, tenantID, id uuid.UUID) (*Profile, error)
	ProfileByEmail(ctx context.Context, email string) (*Profile, error)
	ListProfiles(ctx context.Context, tenantID uuid.UUID, includeInactive bool) ([]Profile, error)
}

type PgStore struct {
	pool database.Pool
}

func NewPgStore(pool database.Pool) *PgStore {
	if pool == nil {
		panic("staff: pgx pool required")
	}
	return &PgStore{pool: pool}
}

func (s *PgStore) db(ctx context.Context) database.DB {
	return database.Conn(ctx, s.pool)
}

func mapErr(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case database.IsUniqueViolation(err, ""):
		return ErrDuplicate
	case database.IsForeignKeyViolation(err):
		return ErrRoleInUse
	default:
		return fmt.Errorf("staff: %s: %w", op, err)
	}
}

func (s *PgStore) CreateRole(ctx context.Context, r *Role) error {
	query := `
		INSERT INTO staff_roles (id, tenant_id, name, monthly_salary_cents)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	if err := s.db(ctx).QueryRow(ctx, query, r.ID, r.TenantID, r.Name, r.MonthlySalaryCents).Scan(&r.CreatedAt); err != nil {
		return mapErr("create role", err)
	}
	return nil
}

func (s *PgStore) UpdateRole(ctx context.Context, r *Role) error {
	query := `UPDATE staff_roles SET name = $3, monthly_salary_cents = $4 WHERE id = $1 AND tenant_id = $2`
	ct, err := s.db(ctx).Exec(ctx, query, r.ID, r.TenantID, r.Name, r.MonthlySalaryCents)
	if err != nil {
		return mapErr("update role", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) GetRole(ctx context.Context, tenantID, id uuid.UUID) (*Role, error) {
	query := `SELECT id, tenant_id, name, monthly_salary_cents, created_at FROM staff_roles WHERE id = $1 AND tenant_id = $2`
	var r Role
	if err := s.db(ctx).QueryRow(ctx, query, id, tenantID).Scan(&r.ID, &r.TenantID, &r.Name, &r.MonthlySalaryCents, &r.CreatedAt); err != nil {
		return nil, mapErr("get role", err)
	}
	return &r, nil
}

func (s *PgStore) ListRoles(ctx context.Context, tenantID uuid.UUID) ([]Role, error) {
	query := `SELECT id, tenant_id, name, monthly_salary_cents, created_at FROM staff_roles WHERE tenant_id = $1 ORDER BY name`
	rows, err := s.db(ctx).Query(ctx, query, tenantID)
	if err != nil {
		return nil, mapErr("list roles", err)
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &r.MonthlySalaryCents, &r.CreatedAt); err != nil {
			return nil, mapErr("scan role", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PgStore) DeleteRole(ctx context.Context, tenantID, id uuid.UUID) error {
	ct, err := s.db(ctx).Exec(ctx, `DELETE FROM staff_roles WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return mapErr("delete role", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const profileColumns = `id, tenant_id, location_id, role_id, full_name, email, phone, password_hash, is_active, created_at, updated_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	if err := row.Scan(&p.ID, &p.TenantID, &p.LocationID, &p.RoleID, &p.FullName, &p.Email, &p.Phone,
		&p.PasswordHash, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PgStore) CreateProfile(ctx context.Context, p *Profile) error {
	query := `
		INSERT INTO staff_profiles (id, tenant_id, location_id, role_id, full_name, email, phone, password_hash, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := s.db(ctx).QueryRow(ctx, query, p.ID, p.TenantID, p.LocationID, p.RoleID, p.FullName, p.Email, p.Phone, p.PasswordHash, p.IsActive).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return mapErr("create profile", err)
	}
	return nil
}

func (s *PgStore) UpdateProfile(ctx context.Context, p *Profile) error {
	query := `
		UPDATE staff_profiles
		SET location_id = $3, role_id = $4, full_name = $5, email = $6, phone = $7, password_hash = $8,
			is_active = $9, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
		RETURNING updated_at
	`
	err := s.db(ctx).QueryRow(ctx, query, p.ID, p.TenantID, p.LocationID, p.RoleID, p.FullName, p.Email, p.Phone, p.PasswordHash, p.IsActive).
		Scan(&p.UpdatedAt)
	if err != nil {
		return mapErr("update profile", err)
	}
	return nil
}

func (s *PgStore) GetProfile(ctx context.Context, tenantID, id uuid.UUID) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM staff_profiles WHERE id = $1`
	args := []any{id}
	if tenantID != uuid.Nil {
		query += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}
	p, err := scanProfile(s.db(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapErr("get profile", err)
	}
	return p, nil
}

func (s *PgStore) ProfileByEmail(ctx context.Context, email string) (*Profile, error) {
	p, err := scanProfile(s.db(ctx).QueryRow(ctx, `SELECT `+profileColumns+` FROM staff_profiles WHERE email = $1`, email))
	if err != nil {
		return nil, mapErr("profile by email", err)
	}
	return p, nil
}

func (s *PgStore) ListProfiles(ctx context.Context, tenantID uuid.UUID, includeInactive bool) ([]Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM staff_profiles WHERE tenant_id = $1`
	if !includeInactive {
		query += ` AND is_active`
	}
	query += ` ORDER BY full_name`
	rows, err := s.db(ctx).Query(ctx, query, tenantID)
	if err != nil {
		return nil, mapErr("list profiles", err)
	}
	defer rows.Close()
	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, mapErr("scan profile", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// MemoryStore backs local runs without Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	roles    map[uuid.UUID]Role
	profiles map[uuid.UUID]Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{roles: make(map[uuid.UUID]Role), profiles: make(map[uuid.UUID]Profile)}
}

func (m *MemoryStore) roleNameTaken(r *Role) bool {
	for _, existing := range m.roles {
		if existing.ID != r.ID && existing.TenantID == r.TenantID && strings.EqualFold(existing.Name, r.Name) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreateRole(_ context.Context, r *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.roleNameTaken(r) {
		return ErrDuplicate
	}
	r.CreatedAt = time.Now().UTC()
	m.roles[r.ID] = *r
	return nil
}

func (m *MemoryStore) UpdateRole(_ context.Context, r *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.roles[r.ID]; !ok || existing.TenantID != r.TenantID {
		return ErrNotFound
	}
	if m.roleNameTaken(r) {
		return ErrDuplicate
	}
	m.roles[r.ID] = *r
	return nil
}

func (m *MemoryStore) GetRole(_ context.Context, tenantID, id uuid.UUID) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[id]
	if !ok || r.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) ListRoles(_ context.Context, tenantID uuid.UUID) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Role
	for _, r := range m.roles {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) DeleteRole(_ context.Context, tenantID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok || r.TenantID != tenantID {
		return ErrNotFound
	}
	for _, p := range m.profiles {
		if p.RoleID == id {
			return ErrRoleInUse
		}
	}
	delete(m.roles, id)
	return nil
}

func (m *MemoryStore) emailTaken(p *Profile) bool {
	for _, existing := range m.profiles {
		if existing.ID != p.ID && strings.EqualFold(existing.Email, p.Email) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreateProfile(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emailTaken(p) {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	m.profiles[p.ID] = *p
	return nil
}

func (m *MemoryStore) UpdateProfile(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.profiles[p.ID]; !ok || existing.TenantID != p.TenantID {
		return ErrNotFound
	}
	if m.emailTaken(p) {
		return ErrDuplicate
	}
	p.UpdatedAt = time.Now().UTC()
	m.profiles[p.ID] = *p
	return nil
}

func (m *MemoryStore) GetProfile(_ context.Context, tenantID, id uuid.UUID) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok || (tenantID != uuid.Nil && p.TenantID != tenantID) {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) ProfileByEmail(_ context.Context, email string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.profiles {
		if strings.EqualFold(p.Email, email) {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListProfiles(_ context.Context, tenantID uuid.UUID, includeInactive bool) ([]Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Profile
	for _, p := range m.profiles {
		if p.TenantID == tenantID && (includeInactive || p.IsActive) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}
