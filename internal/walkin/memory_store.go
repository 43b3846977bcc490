package walkin

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for local runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	customers map[uuid.UUID]Customer
	tasks     map[uuid.UUID]Task
	payments  map[uuid.UUID]Payment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers: make(map[uuid.UUID]Customer),
		tasks:     make(map[uuid.UUID]Task),
		payments:  make(map[uuid.UUID]Payment),
	}
}

func now() time.Time { return time.Now().UTC() }

func (m *MemoryStore) InsertCustomer(_ context.Context, c *Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.UpdatedAt = now()
	m.customers[c.ID] = *c
	return nil
}

func (m *MemoryStore) GetCustomer(_ context.Context, id uuid.UUID) (*Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) UpdateCustomer(_ context.Context, c *Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[c.ID]; !ok {
		return ErrNotFound
	}
	c.UpdatedAt = now()
	m.customers[c.ID] = *c
	return nil
}

func (m *MemoryStore) ListCustomers(_ context.Context, f CustomerFilter) ([]Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Customer
	for _, c := range m.customers {
		if c.TenantID != f.TenantID ||
			(f.LocationID != uuid.Nil && c.LocationID != f.LocationID) ||
			(f.Status != "" && c.Status != f.Status) ||
			(f.Since != nil && c.ArrivedAt.Before(*f.Since)) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArrivedAt.After(out[j].ArrivedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) InsertTask(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := now()
	t.CreatedAt, t.UpdatedAt = ts, ts
	m.tasks[t.ID] = *t
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, id uuid.UUID) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *MemoryStore) PrimaryTask(_ context.Context, customerID uuid.UUID) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tasks {
		if t.CustomerID == customerID && t.IsPrimary {
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateTask(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.tasks[t.ID]
	if !ok {
		return ErrNotFound
	}
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = now()
	m.tasks[t.ID] = *t
	return nil
}

func (m *MemoryStore) ListTasks(_ context.Context, f TaskFilter) ([]Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Task
	for _, t := range m.tasks {
		if t.TenantID != f.TenantID ||
			(f.LocationID != uuid.Nil && t.LocationID != f.LocationID) ||
			(f.CustomerID != uuid.Nil && t.CustomerID != f.CustomerID) ||
			(f.StaffID != uuid.Nil && (t.AssignedStaffID == nil || *t.AssignedStaffID != f.StaffID)) ||
			!statusIn(t.Status, f.Statuses) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func statusIn(s TaskStatus, set []TaskStatus) bool {
	if len(set) == 0 {
		return true
	}
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

func (m *MemoryStore) InsertPayment(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := now()
	p.CreatedAt, p.UpdatedAt = ts, ts
	m.payments[p.ID] = *p
	return nil
}

func (m *MemoryStore) GetPayment(_ context.Context, id uuid.UUID) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) GetPaymentByCheckoutID(_ context.Context, checkoutRequestID string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.payments {
		if checkoutRequestID != "" && p.CheckoutRequestID == checkoutRequestID {
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdatePayment(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.payments[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = now()
	m.payments[p.ID] = *p
	return nil
}

func (m *MemoryStore) ListPayments(_ context.Context, customerID uuid.UUID) ([]Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Payment
	for _, p := range m.payments {
		if p.CustomerID == customerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
