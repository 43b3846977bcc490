package walkin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/carwash-platform/internal/database"
)

type PgStore struct {
	pool database.Pool
}

func NewPgStore(pool database.Pool) *PgStore {
	if pool == nil {
		panic("walkin: pgx pool required")
	}
	return &PgStore{pool: pool}
}

func (s *PgStore) db(ctx context.Context) database.DB {
	return database.Conn(ctx, s.pool)
}

func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("walkin: %s: %w", op, err)
}

// args collects positional parameters for dynamically built filters.
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

const customerColumns = `id, tenant_id, location_id, name, phone, vehicle_plate, vehicle_description,
	location_service_id, amount_cents, assigned_staff_id, status, arrived_at, created_by, updated_at`

func scanCustomer(row pgx.Row) (*Customer, error) {
	var (
		c      Customer
		status string
	)
	if err := row.Scan(&c.ID, &c.TenantID, &c.LocationID, &c.Name, &c.Phone, &c.VehiclePlate, &c.VehicleDescription,
		&c.LocationServiceID, &c.AmountCents, &c.AssignedStaffID, &status, &c.ArrivedAt, &c.CreatedBy, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = CustomerStatus(status)
	return &c, nil
}

func (s *PgStore) InsertCustomer(ctx context.Context, c *Customer) error {
	query := `
		INSERT INTO walkin_customers (id, tenant_id, location_id, name, phone, vehicle_plate, vehicle_description,
			location_service_id, amount_cents, assigned_staff_id, status, arrived_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING updated_at
	`
	err := s.db(ctx).QueryRow(ctx, query, c.ID, c.TenantID, c.LocationID, c.Name, c.Phone, c.VehiclePlate,
		c.VehicleDescription, c.LocationServiceID, c.AmountCents, c.AssignedStaffID, string(c.Status), c.ArrivedAt, c.CreatedBy,
	).Scan(&c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("walkin: insert customer: %w", err)
	}
	return nil
}

func (s *PgStore) GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error) {
	c, err := scanCustomer(s.db(ctx).QueryRow(ctx, `SELECT `+customerColumns+` FROM walkin_customers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "get customer")
	}
	return c, nil
}

func (s *PgStore) UpdateCustomer(ctx context.Context, c *Customer) error {
	query := `
		UPDATE walkin_customers SET
			name = $2, phone = $3, vehicle_plate = $4, vehicle_description = $5,
			assigned_staff_id = $6, status = $7, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := s.db(ctx).QueryRow(ctx, query, c.ID, c.Name, c.Phone, c.VehiclePlate, c.VehicleDescription,
		c.AssignedStaffID, string(c.Status)).Scan(&c.UpdatedAt)
	if err != nil {
		return notFound(err, "update customer")
	}
	return nil
}

func (s *PgStore) ListCustomers(ctx context.Context, f CustomerFilter) ([]Customer, error) {
	var a args
	query := `SELECT ` + customerColumns + ` FROM walkin_customers WHERE tenant_id = ` + a.add(f.TenantID)
	if f.LocationID != uuid.Nil {
		query += ` AND location_id = ` + a.add(f.LocationID)
	}
	if f.Status != "" {
		query += ` AND status = ` + a.add(string(f.Status))
	}
	if f.Since != nil {
		query += ` AND arrived_at >= ` + a.add(*f.Since)
	}
	query += ` ORDER BY arrived_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + a.add(f.Limit)
	}
	rows, err := s.db(ctx).Query(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("walkin: list customers: %w", err)
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("walkin: scan customer: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

const taskColumns = `id, tenant_id, location_id, walkin_customer_id, location_service_id, assigned_staff_id,
	is_primary, status, progress, quality_rating, notes, estimated_minutes, started_at, completed_at,
	actual_duration_minutes, created_at, updated_at`

func scanTask(row pgx.Row) (*Task, error) {
	var (
		t      Task
		status string
	)
	if err := row.Scan(&t.ID, &t.TenantID, &t.LocationID, &t.CustomerID, &t.LocationServiceID, &t.AssignedStaffID,
		&t.IsPrimary, &status, &t.Progress, &t.QualityRating, &t.Notes, &t.EstimatedMinutes, &t.StartedAt,
		&t.CompletedAt, &t.ActualDurationMinutes, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = TaskStatus(status)
	return &t, nil
}

func (s *PgStore) InsertTask(ctx context.Context, t *Task) error {
	query := `
		INSERT INTO walkin_tasks (id, tenant_id, location_id, walkin_customer_id, location_service_id,
			assigned_staff_id, is_primary, status, progress, notes, estimated_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`
	err := s.db(ctx).QueryRow(ctx, query, t.ID, t.TenantID, t.LocationID, t.CustomerID, t.LocationServiceID,
		t.AssignedStaffID, t.IsPrimary, string(t.Status), t.Progress, t.Notes, t.EstimatedMinutes,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("walkin: insert task: %w", err)
	}
	return nil
}

func (s *PgStore) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	t, err := scanTask(s.db(ctx).QueryRow(ctx, `SELECT `+taskColumns+` FROM walkin_tasks WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "get task")
	}
	return t, nil
}

func (s *PgStore) PrimaryTask(ctx context.Context, customerID uuid.UUID) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM walkin_tasks WHERE walkin_customer_id = $1 AND is_primary FOR UPDATE`
	t, err := scanTask(s.db(ctx).QueryRow(ctx, query, customerID))
	if err != nil {
		return nil, notFound(err, "primary task")
	}
	return t, nil
}

func (s *PgStore) UpdateTask(ctx context.Context, t *Task) error {
	query := `
		UPDATE walkin_tasks SET
			assigned_staff_id = $2, status = $3, progress = $4, quality_rating = $5, notes = $6,
			started_at = $7, completed_at = $8, actual_duration_minutes = $9, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := s.db(ctx).QueryRow(ctx, query, t.ID, t.AssignedStaffID, string(t.Status), t.Progress, t.QualityRating,
		t.Notes, t.StartedAt, t.CompletedAt, t.ActualDurationMinutes).Scan(&t.UpdatedAt)
	if err != nil {
		return notFound(err, "update task")
	}
	return nil
}

func (s *PgStore) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	var a args
	query := `SELECT ` + taskColumns + ` FROM walkin_tasks WHERE tenant_id = ` + a.add(f.TenantID)
	if f.LocationID != uuid.Nil {
		query += ` AND location_id = ` + a.add(f.LocationID)
	}
	if f.CustomerID != uuid.Nil {
		query += ` AND walkin_customer_id = ` + a.add(f.CustomerID)
	}
	if f.StaffID != uuid.Nil {
		query += ` AND assigned_staff_id = ` + a.add(f.StaffID)
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, 0, len(f.Statuses))
		for _, st := range f.Statuses {
			placeholders = append(placeholders, a.add(string(st)))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY is_primary DESC, created_at`
	if f.Limit > 0 {
		query += ` LIMIT ` + a.add(f.Limit)
	}
	rows, err := s.db(ctx).Query(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("walkin: list tasks: %w", err)
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("walkin: scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

const paymentColumns = `id, tenant_id, walkin_customer_id, amount_cents, method, status, phone,
	COALESCE(checkout_request_id, ''), COALESCE(merchant_request_id, ''), COALESCE(mpesa_receipt, ''),
	COALESCE(failure_reason, ''), paid_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p              Payment
		method, status string
	)
	if err := row.Scan(&p.ID, &p.TenantID, &p.CustomerID, &p.AmountCents, &method, &status, &p.Phone,
		&p.CheckoutRequestID, &p.MerchantRequestID, &p.MpesaReceipt, &p.FailureReason, &p.PaidAt,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Method, p.Status = PaymentMethod(method), PaymentStatus(status)
	return &p, nil
}

func (s *PgStore) InsertPayment(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO walkin_payments (id, tenant_id, walkin_customer_id, amount_cents, method, status, phone,
			checkout_request_id, merchant_request_id, mpesa_receipt, failure_reason, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), $12)
		RETURNING created_at, updated_at
	`
	err := s.db(ctx).QueryRow(ctx, query, p.ID, p.TenantID, p.CustomerID, p.AmountCents, string(p.Method),
		string(p.Status), p.Phone, p.CheckoutRequestID, p.MerchantRequestID, p.MpesaReceipt, p.FailureReason, p.PaidAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("walkin: insert payment: %w", err)
	}
	return nil
}

func (s *PgStore) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := scanPayment(s.db(ctx).QueryRow(ctx, `SELECT `+paymentColumns+` FROM walkin_payments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "get payment")
	}
	return p, nil
}

func (s *PgStore) GetPaymentByCheckoutID(ctx context.Context, checkoutRequestID string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM walkin_payments WHERE checkout_request_id = $1 FOR UPDATE`
	p, err := scanPayment(s.db(ctx).QueryRow(ctx, query, checkoutRequestID))
	if err != nil {
		return nil, notFound(err, "get payment by checkout id")
	}
	return p, nil
}

func (s *PgStore) UpdatePayment(ctx context.Context, p *Payment) error {
	query := `
		UPDATE walkin_payments SET
			status = $2, phone = $3, checkout_request_id = NULLIF($4, ''), merchant_request_id = NULLIF($5, ''),
			mpesa_receipt = NULLIF($6, ''), failure_reason = NULLIF($7, ''), paid_at = $8, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := s.db(ctx).QueryRow(ctx, query, p.ID, string(p.Status), p.Phone, p.CheckoutRequestID,
		p.MerchantRequestID, p.MpesaReceipt, p.FailureReason, p.PaidAt).Scan(&p.UpdatedAt)
	if err != nil {
		return notFound(err, "update payment")
	}
	return nil
}

func (s *PgStore) ListPayments(ctx context.Context, customerID uuid.UUID) ([]Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM walkin_payments WHERE walkin_customer_id = $1 ORDER BY created_at`
	rows, err := s.db(ctx).Query(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("walkin: list payments: %w", err)
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("walkin: scan payment: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
