package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for local runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	locations map[uuid.UUID]Location
	services  map[uuid.UUID]Service
	bundles   map[uuid.UUID]LocationService
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locations: make(map[uuid.UUID]Location),
		services:  make(map[uuid.UUID]Service),
		bundles:   make(map[uuid.UUID]LocationService),
	}
}

func (m *MemoryStore) CreateLocation(_ context.Context, loc *Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.locations {
		if existing.TenantID == loc.TenantID && strings.EqualFold(existing.Name, loc.Name) {
			return ErrDuplicate
		}
	}
	now := time.Now().UTC()
	loc.CreatedAt, loc.UpdatedAt = now, now
	m.locations[loc.ID] = *loc
	return nil
}

func (m *MemoryStore) UpdateLocation(_ context.Context, loc *Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.locations[loc.ID]
	if !ok || existing.TenantID != loc.TenantID {
		return ErrNotFound
	}
	for id, other := range m.locations {
		if id != loc.ID && other.TenantID == loc.TenantID && strings.EqualFold(other.Name, loc.Name) {
			return ErrDuplicate
		}
	}
	loc.CreatedAt = existing.CreatedAt
	loc.UpdatedAt = time.Now().UTC()
	m.locations[loc.ID] = *loc
	return nil
}

func (m *MemoryStore) GetLocation(_ context.Context, tenantID, id uuid.UUID) (*Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.locations[id]
	if !ok || (tenantID != uuid.Nil && loc.TenantID != tenantID) {
		return nil, ErrNotFound
	}
	return &loc, nil
}

func (m *MemoryStore) ListLocations(_ context.Context, tenantID uuid.UUID, activeOnly bool) ([]Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Location
	for _, loc := range m.locations {
		if (tenantID == uuid.Nil || loc.TenantID == tenantID) && (!activeOnly || loc.IsActive) {
			out = append(out, loc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) CreateService(_ context.Context, svc *Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.services {
		if existing.TenantID == svc.TenantID && strings.EqualFold(existing.Name, svc.Name) {
			return ErrDuplicate
		}
	}
	now := time.Now().UTC()
	svc.CreatedAt, svc.UpdatedAt = now, now
	m.services[svc.ID] = *svc
	return nil
}

func (m *MemoryStore) UpdateService(_ context.Context, svc *Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.services[svc.ID]
	if !ok || existing.TenantID != svc.TenantID {
		return ErrNotFound
	}
	for id, other := range m.services {
		if id != svc.ID && other.TenantID == svc.TenantID && strings.EqualFold(other.Name, svc.Name) {
			return ErrDuplicate
		}
	}
	svc.CreatedAt = existing.CreatedAt
	svc.UpdatedAt = time.Now().UTC()
	m.services[svc.ID] = *svc
	return nil
}

func (m *MemoryStore) GetService(_ context.Context, tenantID, id uuid.UUID) (*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[id]
	if !ok || svc.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &svc, nil
}

func (m *MemoryStore) ListServices(_ context.Context, tenantID uuid.UUID) ([]Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Service
	for _, svc := range m.services {
		if svc.TenantID == tenantID {
			out = append(out, svc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) CreateLocationService(_ context.Context, ls *LocationService) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.bundles {
		if existing.LocationID == ls.LocationID && strings.EqualFold(existing.Name, ls.Name) {
			return ErrDuplicate
		}
	}
	now := time.Now().UTC()
	ls.CreatedAt, ls.UpdatedAt = now, now
	m.bundles[ls.ID] = m.detach(*ls)
	return nil
}

func (m *MemoryStore) UpdateLocationService(_ context.Context, ls *LocationService) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.bundles[ls.ID]
	if !ok || existing.TenantID != ls.TenantID {
		return ErrNotFound
	}
	for id, other := range m.bundles {
		if id != ls.ID && other.LocationID == ls.LocationID && strings.EqualFold(other.Name, ls.Name) {
			return ErrDuplicate
		}
	}
	ls.CreatedAt = existing.CreatedAt
	ls.UpdatedAt = time.Now().UTC()
	m.bundles[ls.ID] = m.detach(*ls)
	return nil
}

func (m *MemoryStore) GetLocationService(_ context.Context, tenantID, id uuid.UUID) (*LocationService, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ls, ok := m.bundles[id]
	if !ok || (tenantID != uuid.Nil && ls.TenantID != tenantID) {
		return nil, ErrNotFound
	}
	out := m.hydrate(ls)
	return &out, nil
}

func (m *MemoryStore) ListLocationServices(_ context.Context, tenantID, locationID uuid.UUID, activeOnly bool) ([]LocationService, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []LocationService
	for _, ls := range m.bundles {
		if tenantID != uuid.Nil && ls.TenantID != tenantID {
			continue
		}
		if locationID != uuid.Nil && ls.LocationID != locationID {
			continue
		}
		if activeOnly && !ls.IsActive {
			continue
		}
		out = append(out, m.hydrate(ls))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// detach keeps only the links; services are re-read on every load.
func (m *MemoryStore) detach(ls LocationService) LocationService {
	ls.ServiceIDs = append([]uuid.UUID(nil), ls.ServiceIDs...)
	ls.Services = nil
	ls.PriceCents = 0
	ls.DurationMinutes = 0
	return ls
}

func (m *MemoryStore) hydrate(ls LocationService) LocationService {
	ids := ls.ServiceIDs
	ls.Services = nil
	for _, id := range ids {
		if svc, ok := m.services[id]; ok {
			ls.Services = append(ls.Services, svc)
		}
	}
	sort.Slice(ls.Services, func(i, j int) bool { return ls.Services[i].Name < ls.Services[j].Name })
	ls.ServiceIDs = make([]uuid.UUID, 0, len(ls.Services))
	ls.computeTotals()
	return ls
}
