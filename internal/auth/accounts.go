package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/carwash-platform/internal/database"
)

var (
	ErrAccountNotFound = errors.New("auth: account not found")
	ErrEmailTaken      = errors.New("auth: email already registered")
)

type Customer struct {
	ID           uuid.UUID `json:"id"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Tenant struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	ContactNumber string    `json:"contact_number"`
	PasswordHash  string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// AccountStore persists customer and tenant logins. Emails are stored lower-cased.
type AccountStore interface {
	CreateCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error)
	CustomerByEmail(ctx context.Context, email string) (*Customer, error)
	CreateTenant(ctx context.Context, t *Tenant) error
	TenantByEmail(ctx context.Context, email string) (*Tenant, error)
}

type PgAccountStore struct {
	pool database.Pool
}

func NewPgAccountStore(pool database.Pool) *PgAccountStore {
	if pool == nil {
		panic("auth: pgx pool required")
	}
	return &PgAccountStore{pool: pool}
}

func mapAccountErr(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrAccountNotFound
	case database.IsUniqueViolation(err, ""):
		return ErrEmailTaken
	default:
		return fmt.Errorf("auth: %s: %w", op, err)
	}
}

func (s *PgAccountStore) CreateCustomer(ctx context.Context, c *Customer) error {
	query := `
		INSERT INTO customers (id, full_name, email, phone, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := database.Conn(ctx, s.pool).QueryRow(ctx, query, c.ID, c.FullName, c.Email, c.Phone, c.PasswordHash).Scan(&c.CreatedAt)
	if err != nil {
		return mapAccountErr("create customer", err)
	}
	return nil
}

const customerColumns = `id, full_name, email, phone, password_hash, created_at`

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	if err := row.Scan(&c.ID, &c.FullName, &c.Email, &c.Phone, &c.PasswordHash, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PgAccountStore) GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	c, err := scanCustomer(database.Conn(ctx, s.pool).QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		return nil, mapAccountErr("get customer", err)
	}
	return c, nil
}

func (s *PgAccountStore) CustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	c, err := scanCustomer(database.Conn(ctx, s.pool).QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE email = $1`, email))
	if err != nil {
		return nil, mapAccountErr("customer by email", err)
	}
	return c, nil
}

func (s *PgAccountStore) CreateTenant(ctx context.Context, t *Tenant) error {
	query := `
		INSERT INTO tenants (id, name, email, contact_number, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := database.Conn(ctx, s.pool).QueryRow(ctx, query, t.ID, t.Name, t.Email, t.ContactNumber, t.PasswordHash).Scan(&t.CreatedAt)
	if err != nil {
		return mapAccountErr("create tenant", err)
	}
	return nil
}

func (s *PgAccountStore) TenantByEmail(ctx context.Context, email string) (*Tenant, error) {
	query := `SELECT id, name, email, contact_number, password_hash, created_at FROM tenants WHERE email = $1`
	var t Tenant
	err := database.Conn(ctx, s.pool).QueryRow(ctx, query, email).
		Scan(&t.ID, &t.Name, &t.Email, &t.ContactNumber, &t.PasswordHash, &t.CreatedAt)
	if err != nil {
		return nil, mapAccountErr("tenant by email", err)
	}
	return &t, nil
}

// MemoryAccountStore backs local runs without Postgres.
type MemoryAccountStore struct {
	mu        sync.RWMutex
	customers map[uuid.UUID]Customer
	tenants   map[uuid.UUID]Tenant
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{customers: make(map[uuid.UUID]Customer), tenants: make(map[uuid.UUID]Tenant)}
}

func (m *MemoryAccountStore) CreateCustomer(_ context.Context, c *Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.customers {
		if strings.EqualFold(existing.Email, c.Email) {
			return ErrEmailTaken
		}
	}
	c.CreatedAt = time.Now().UTC()
	m.customers[c.ID] = *c
	return nil
}

func (m *MemoryAccountStore) GetCustomer(_ context.Context, id uuid.UUID) (*Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &c, nil
}

func (m *MemoryAccountStore) CustomerByEmail(_ context.Context, email string) (*Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.customers {
		if strings.EqualFold(c.Email, email) {
			return &c, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *MemoryAccountStore) CreateTenant(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tenants {
		if strings.EqualFold(existing.Email, t.Email) {
			return ErrEmailTaken
		}
	}
	t.CreatedAt = time.Now().UTC()
	m.tenants[t.ID] = *t
	return nil
}

func (m *MemoryAccountStore) TenantByEmail(_ context.Context, email string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tenants {
		if strings.EqualFold(t.Email, email) {
			return &t, nil
		}
	}
	return nil, ErrAccountNotFound
}
