package bookings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. It enforces the same reference and
// overlap constraints as the schema.
type MemoryStore struct {
	mu       sync.RWMutex
	bookings map[uuid.UUID]Booking
	history  map[uuid.UUID][]HistoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[uuid.UUID]Booking),
		history:  make(map[uuid.UUID][]HistoryEntry),
	}
}

// LockLocation is a no-op; the memory tx runner already serialises writers.
func (m *MemoryStore) LockLocation(context.Context, uuid.UUID) error { return nil }

func (m *MemoryStore) HasOverlap(_ context.Context, locationID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overlapLocked(locationID, start, end, excludeID), nil
}

func (m *MemoryStore) overlapLocked(locationID uuid.UUID, start, end time.Time, excludeID uuid.UUID) bool {
	for id, b := range m.bookings {
		if id == excludeID || b.LocationID != locationID || !b.Status.HoldsSlot() {
			continue
		}
		if b.BookingDate.Before(end) && b.TimeSlotEnd.After(start) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) Insert(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.bookings {
		if existing.Reference == b.Reference {
			return ErrDuplicateReference
		}
	}
	if b.Status.HoldsSlot() && m.overlapLocked(b.LocationID, b.BookingDate, b.TimeSlotEnd, b.ID) {
		return ErrSlotTaken
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	m.bookings[b.ID] = *b
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (m *MemoryStore) GetByCheckoutID(_ context.Context, checkoutRequestID string) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bookings {
		if checkoutRequestID != "" && b.CheckoutRequestID == checkoutRequestID {
			return &b, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Update(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.bookings[b.ID]
	if !ok {
		return ErrNotFound
	}
	if b.Status.HoldsSlot() && m.overlapLocked(b.LocationID, b.BookingDate, b.TimeSlotEnd, b.ID) {
		return ErrSlotTaken
	}
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	m.bookings[b.ID] = *b
	return nil
}

func (m *MemoryStore) List(_ context.Context, f Filter) ([]Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Booking
	for _, b := range m.bookings {
		if f.matches(&b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookingDate.After(out[j].BookingDate) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (f Filter) matches(b *Booking) bool {
	if f.TenantID != uuid.Nil && b.TenantID != f.TenantID {
		return false
	}
	if f.CustomerID != uuid.Nil && b.CustomerID != f.CustomerID {
		return false
	}
	if f.LocationID != uuid.Nil && b.LocationID != f.LocationID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if b.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && b.BookingDate.Before(*f.From) {
		return false
	}
	if f.To != nil && !b.BookingDate.Before(*f.To) {
		return false
	}
	return true
}

func (m *MemoryStore) AppendHistory(_ context.Context, h *HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	h.CreatedAt = time.Now().UTC()
	m.history[h.BookingID] = append(m.history[h.BookingID], *h)
	return nil
}

func (m *MemoryStore) History(_ context.Context, bookingID uuid.UUID) ([]HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.history[bookingID]
	out := make([]HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}
