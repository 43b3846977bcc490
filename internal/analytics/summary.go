// Package analytics aggregates a tenant's bookings, walk-ins and revenue
// for a date range.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/wolfman30/carwash-platform/pkg/logging"
)

const topServicesLimit = 5

// Range is the half-open window [From, To).
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type LocationStat struct {
	LocationID   uuid.UUID `json:"location_id"`
	Name         string    `json:"name"`
	Bookings     int64     `json:"bookings"`
	RevenueCents int64     `json:"revenue_cents"`
}

type ServiceStat struct {
	LocationServiceID uuid.UUID `json:"location_service_id"`
	Name              string    `json:"name"`
	Bookings          int64     `json:"bookings"`
	RevenueCents      int64     `json:"revenue_cents"`
}

type Summary struct {
	TenantID                uuid.UUID        `json:"tenant_id"`
	Period                  Range            `json:"period"`
	LocationIDs             []uuid.UUID      `json:"location_ids,omitempty"`
	TotalBookings           int64            `json:"total_bookings"`
	BookingsByStatus        map[string]int64 `json:"bookings_by_status"`
	PaidBookingRevenueCents int64            `json:"paid_booking_revenue_cents"`
	TotalWalkIns            int64            `json:"total_walkins"`
	WalkInsByStatus         map[string]int64 `json:"walkins_by_status"`
	WalkInRevenueCents      int64            `json:"walkin_revenue_cents"`
	TotalRevenueCents       int64            `json:"total_revenue_cents"`
	Locations               []LocationStat   `json:"locations"`
	TopServices             []ServiceStat    `json:"top_services"`
}

// Reporter runs the summary queries over database/sql.
type Reporter struct {
	db     *sql.DB
	logger *logging.Logger
}

func NewReporter(db *sql.DB, logger *logging.Logger) *Reporter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Reporter{db: db, logger: logger}
}

// Enabled reports whether a database is attached.
func (r *Reporter) Enabled() bool {
	return r != nil && r.db != nil
}

// scope builds the shared WHERE clause. column names the timestamp the range
// applies to and alias prefixes tenant_id and location_id.
func scope(alias, column string, tenantID uuid.UUID, period Range, locationIDs []uuid.UUID) (string, []any) {
	where := fmt.Sprintf("%[1]stenant_id = $1 AND %[2]s >= $2 AND %[2]s < $3", alias, column)
	args := []any{tenantID, period.From, period.To}
	if len(locationIDs) > 0 {
		ids := make([]string, len(locationIDs))
		for i, id := range locationIDs {
			ids[i] = id.String()
		}
		where += fmt.Sprintf(" AND %slocation_id = ANY($4::uuid[])", alias)
		args = append(args, pq.Array(ids))
	}
	return where, args
}

// Summary computes the tenant summary for period, optionally narrowed to locationIDs.
func (r *Reporter) Summary(ctx context.Context, tenantID uuid.UUID, period Range, locationIDs []uuid.UUID) (*Summary, error) {
	out := &Summary{
		TenantID:         tenantID,
		Period:           period,
		LocationIDs:      locationIDs,
		BookingsByStatus: map[string]int64{},
		WalkInsByStatus:  map[string]int64{},
		Locations:        []LocationStat{},
		TopServices:      []ServiceStat{},
	}

	where, args := scope("", "booking_date", tenantID, period, locationIDs)
	if err := r.countByStatus(ctx, `SELECT status, COUNT(*) FROM bookings WHERE `+where+` GROUP BY status`, args, out.BookingsByStatus); err != nil {
		return nil, fmt.Errorf("analytics: bookings by status: %w", err)
	}
	for _, n := range out.BookingsByStatus {
		out.TotalBookings += n
	}
	query := `SELECT COALESCE(SUM(total_amount_cents), 0) FROM bookings WHERE ` + where + ` AND payment_status = 'paid'`
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&out.PaidBookingRevenueCents); err != nil {
		return nil, fmt.Errorf("analytics: booking revenue: %w", err)
	}

	where, args = scope("", "arrived_at", tenantID, period, locationIDs)
	if err := r.countByStatus(ctx, `SELECT status, COUNT(*) FROM walkin_customers WHERE `+where+` GROUP BY status`, args, out.WalkInsByStatus); err != nil {
		return nil, fmt.Errorf("analytics: walk-ins by status: %w", err)
	}
	for _, n := range out.WalkInsByStatus {
		out.TotalWalkIns += n
	}

	where, args = scope("c.", "p.paid_at", tenantID, period, locationIDs)
	query = `SELECT COALESCE(SUM(p.amount_cents), 0)
		FROM walkin_payments p
		JOIN walkin_customers c ON c.id = p.walkin_customer_id
		WHERE ` + where + ` AND p.status = 'paid'`
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&out.WalkInRevenueCents); err != nil {
		return nil, fmt.Errorf("analytics: walk-in revenue: %w", err)
	}
	out.TotalRevenueCents = out.PaidBookingRevenueCents + out.WalkInRevenueCents

	var err error
	if out.Locations, err = r.locationStats(ctx, tenantID, period, locationIDs); err != nil {
		return nil, err
	}
	if out.TopServices, err = r.topServices(ctx, tenantID, period, locationIDs); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Reporter) countByStatus(ctx context.Context, query string, args []any, into map[string]int64) error {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return err
		}
		into[status] = n
	}
	return rows.Err()
}

func (r *Reporter) locationStats(ctx context.Context, tenantID uuid.UUID, period Range, locationIDs []uuid.UUID) ([]LocationStat, error) {
	where, args := scope("b.", "b.booking_date", tenantID, period, locationIDs)
	query := `SELECT l.id, l.name, COUNT(b.id),
			COALESCE(SUM(b.total_amount_cents) FILTER (WHERE b.payment_status = 'paid'), 0)
		FROM bookings b
		JOIN locations l ON l.id = b.location_id
		WHERE ` + where + `
		GROUP BY l.id, l.name
		ORDER BY COUNT(b.id) DESC, l.name`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("analytics: location stats: %w", err)
	}
	defer rows.Close()
	out := []LocationStat{}
	for rows.Next() {
		var s LocationStat
		if err := rows.Scan(&s.LocationID, &s.Name, &s.Bookings, &s.RevenueCents); err != nil {
			return nil, fmt.Errorf("analytics: scan location stat: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Reporter) topServices(ctx context.Context, tenantID uuid.UUID, period Range, locationIDs []uuid.UUID) ([]ServiceStat, error) {
	where, args := scope("b.", "b.booking_date", tenantID, period, locationIDs)
	query := fmt.Sprintf(`SELECT ls.id, ls.name, COUNT(b.id),
			COALESCE(SUM(b.total_amount_cents) FILTER (WHERE b.payment_status = 'paid'), 0)
		FROM bookings b
		JOIN location_services ls ON ls.id = b.location_service_id
		WHERE %s AND b.status <> 'cancelled'
		GROUP BY ls.id, ls.name
		ORDER BY COUNT(b.id) DESC, ls.name
		LIMIT %d`, where, topServicesLimit)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("analytics: top services: %w", err)
	}
	defer rows.Close()
	out := []ServiceStat{}
	for rows.Next() {
		var s ServiceStat
		if err := rows.Scan(&s.LocationServiceID, &s.Name, &s.Bookings, &s.RevenueCents); err != nil {
			return nil, fmt.Errorf("analytics: scan service stat: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
