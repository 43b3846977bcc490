package walkin

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type CustomerFilter struct {
	TenantID   uuid.UUID
	LocationID uuid.UUID
	Status     CustomerStatus
	Since      *time.Time
	Limit      int
}

type TaskFilter struct {
	TenantID   uuid.UUID
	LocationID uuid.UUID
	CustomerID uuid.UUID
	StaffID    uuid.UUID
	Statuses   []TaskStatus
	Limit      int
}

// Store persists walk-in customers, tasks and payments. Reads that feed a
// write lock the row for the surrounding transaction.
type Store interface {
	InsertCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, id uuid.UUID) (*Customer, error)
	UpdateCustomer(ctx context.Context, c *Customer) error
	ListCustomers(ctx context.Context, f CustomerFilter) ([]Customer, error)

	InsertTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*Task, error)
	PrimaryTask(ctx context.Context, customerID uuid.UUID) (*Task, error)
	UpdateTask(ctx context.Context, t *Task) error
	ListTasks(ctx context.Context, f TaskFilter) ([]Task, error)

	InsertPayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetPaymentByCheckoutID(ctx context.Context, checkoutRequestID string) (*Payment, error)
	UpdatePayment(ctx context.Context, p *Payment) error
	ListPayments(ctx context.Context, customerID uuid.UUID) ([]Payment, error)
}
