package bookings

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows booking lists. Zero values are ignored.
type Filter struct {
	TenantID   uuid.UUID
	CustomerID uuid.UUID
	LocationID uuid.UUID
	Statuses   []Status
	From       *time.Time
	To         *time.Time
	Limit      int
}

// Store persists bookings. Every call joins the transaction carried by ctx.
type Store interface {
	// LockLocation serialises slot checks for a location until the
	// surrounding transaction ends.
	LockLocation(ctx context.Context, locationID uuid.UUID) error
	// HasOverlap reports a slot-holding booking intersecting [start, end).
	HasOverlap(ctx context.Context, locationID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error)
	Insert(ctx context.Context, b *Booking) error
	// Get loads a booking for update.
	Get(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*Booking, error)
	Update(ctx context.Context, b *Booking) error
	List(ctx context.Context, f Filter) ([]Booking, error)
	AppendHistory(ctx context.Context, h *HistoryEntry) error
	History(ctx context.Context, bookingID uuid.UUID) ([]HistoryEntry, error)
}
