package bookings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/carwash-platform/internal/database"
)

const (
	referenceConstraint = "bookings_reference_key"
	overlapConstraint   = "bookings_no_overlap"
)

type PgStore struct {
	pool database.Pool
}

func NewPgStore(pool database.Pool) *PgStore {
	if pool == nil {
		panic("bookings: pgx pool required")
	}
	return &PgStore{pool: pool}
}

func (s *PgStore) db(ctx context.Context) database.DB {
	return database.Conn(ctx, s.pool)
}

func (s *PgStore) LockLocation(ctx context.Context, locationID uuid.UUID) error {
	if _, err := s.db(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, locationID.String()); err != nil {
		return fmt.Errorf("bookings: lock location: %w", err)
	}
	return nil
}

func (s *PgStore) HasOverlap(ctx context.Context, locationID uuid.UUID, start, end time.Time, excludeID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE location_id = $1
			  AND status IN ('pending', 'confirmed', 'in_progress')
			  AND booking_date < $3
			  AND time_slot_end > $2
			  AND id <> $4
		)
	`
	var exists bool
	if err := s.db(ctx).QueryRow(ctx, query, locationID, start, end, excludeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("bookings: overlap check: %w", err)
	}
	return exists, nil
}

func mapWriteErr(op string, err error) error {
	switch {
	case database.IsUniqueViolation(err, referenceConstraint):
		return ErrDuplicateReference
	case database.IsExclusionViolation(err, overlapConstraint):
		return ErrSlotTaken
	default:
		return fmt.Errorf("bookings: %s: %w", op, err)
	}
}

func (s *PgStore) Insert(ctx context.Context, b *Booking) error {
	query := `
		INSERT INTO bookings (id, reference, tenant_id, location_id, customer_id, location_service_id,
			booking_date, time_slot_end, customer_name, customer_phone, customer_email, vehicle_notes,
			total_amount_cents, status, payment_method, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at
	`
	err := s.db(ctx).QueryRow(ctx, query,
		b.ID, b.Reference, b.TenantID, b.LocationID, b.CustomerID, b.LocationServiceID,
		b.BookingDate, b.TimeSlotEnd, b.CustomerName, b.CustomerPhone, b.CustomerEmail, b.VehicleNotes,
		b.TotalAmountCents, string(b.Status), string(b.PaymentMethod), string(b.PaymentStatus),
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return mapWriteErr("insert", err)
	}
	return nil
}

const bookingColumns = `id, reference, tenant_id, location_id, customer_id, location_service_id,
	booking_date, time_slot_end, customer_name, customer_phone, customer_email, vehicle_notes,
	total_amount_cents, status, payment_method, payment_status,
	COALESCE(merchant_request_id, ''), COALESCE(checkout_request_id, ''), COALESCE(mpesa_receipt, ''),
	COALESCE(payment_failure, ''), refund_required, COALESCE(cancellation_reason, ''),
	confirmed_at, paid_at, cancelled_at, completed_at, created_at, updated_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b                        Booking
		status, method, payState string
	)
	err := row.Scan(&b.ID, &b.Reference, &b.TenantID, &b.LocationID, &b.CustomerID, &b.LocationServiceID,
		&b.BookingDate, &b.TimeSlotEnd, &b.CustomerName, &b.CustomerPhone, &b.CustomerEmail, &b.VehicleNotes,
		&b.TotalAmountCents, &status, &method, &payState,
		&b.MerchantRequestID, &b.CheckoutRequestID, &b.MpesaReceipt,
		&b.PaymentFailure, &b.RefundRequired, &b.CancellationReason,
		&b.ConfirmedAt, &b.PaidAt, &b.CancelledAt, &b.CompletedAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = Status(status)
	b.PaymentMethod = PaymentMethod(method)
	b.PaymentStatus = PaymentStatus(payState)
	return &b, nil
}

func (s *PgStore) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	b, err := scanBooking(s.db(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bookings: get: %w", err)
	}
	return b, nil
}

func (s *PgStore) GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE checkout_request_id = $1 FOR UPDATE`
	b, err := scanBooking(s.db(ctx).QueryRow(ctx, query, checkoutRequestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bookings: get by checkout id: %w", err)
	}
	return b, nil
}

func (s *PgStore) Update(ctx context.Context, b *Booking) error {
	query := `
		UPDATE bookings SET
			location_id = $2, location_service_id = $3, booking_date = $4, time_slot_end = $5,
			customer_name = $6, customer_phone = $7, customer_email = $8, vehicle_notes = $9,
			total_amount_cents = $10, status = $11, payment_method = $12, payment_status = $13,
			merchant_request_id = NULLIF($14, ''), checkout_request_id = NULLIF($15, ''),
			mpesa_receipt = NULLIF($16, ''), payment_failure = NULLIF($17, ''), refund_required = $18,
			cancellation_reason = NULLIF($19, ''), confirmed_at = $20, paid_at = $21,
			cancelled_at = $22, completed_at = $23, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := s.db(ctx).QueryRow(ctx, query,
		b.ID, b.LocationID, b.LocationServiceID, b.BookingDate, b.TimeSlotEnd,
		b.CustomerName, b.CustomerPhone, b.CustomerEmail, b.VehicleNotes,
		b.TotalAmountCents, string(b.Status), string(b.PaymentMethod), string(b.PaymentStatus),
		b.MerchantRequestID, b.CheckoutRequestID, b.MpesaReceipt, b.PaymentFailure, b.RefundRequired,
		b.CancellationReason, b.ConfirmedAt, b.PaidAt, b.CancelledAt, b.CompletedAt,
	).Scan(&b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return mapWriteErr("update", err)
	}
	return nil
}

func (s *PgStore) List(ctx context.Context, f Filter) ([]Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE TRUE`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.TenantID != uuid.Nil {
		query += ` AND tenant_id = ` + arg(f.TenantID)
	}
	if f.CustomerID != uuid.Nil {
		query += ` AND customer_id = ` + arg(f.CustomerID)
	}
	if f.LocationID != uuid.Nil {
		query += ` AND location_id = ` + arg(f.LocationID)
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			placeholders = append(placeholders, arg(string(st)))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	if f.From != nil {
		query += ` AND booking_date >= ` + arg(*f.From)
	}
	if f.To != nil {
		query += ` AND booking_date < ` + arg(*f.To)
	}
	query += ` ORDER BY booking_date DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}

	rows, err := s.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("bookings: list: %w", err)
	}
	defer rows.Close()
	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *PgStore) AppendHistory(ctx context.Context, h *HistoryEntry) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	query := `
		INSERT INTO booking_status_history (id, booking_id, from_status, to_status, reason, actor_type, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := s.db(ctx).QueryRow(ctx, query, h.ID, h.BookingID, string(h.From), string(h.To), h.Reason, h.ActorType, h.ActorID).
		Scan(&h.CreatedAt)
	if err != nil {
		return fmt.Errorf("bookings: append history: %w", err)
	}
	return nil
}

func (s *PgStore) History(ctx context.Context, bookingID uuid.UUID) ([]HistoryEntry, error) {
	query := `
		SELECT id, booking_id, from_status, to_status, reason, actor_type, actor_id, created_at
		FROM booking_status_history
		WHERE booking_id = $1
		ORDER BY created_at, id
	`
	rows, err := s.db(ctx).Query(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("bookings: history: %w", err)
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var (
			h        HistoryEntry
			from, to string
		)
		if err := rows.Scan(&h.ID, &h.BookingID, &from, &to, &h.Reason, &h.ActorType, &h.ActorID, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("bookings: scan history: %w", err)
		}
		h.From, h.To = Status(from), Status(to)
		out = append(out, h)
	}
	return out, rows.Err()
}
