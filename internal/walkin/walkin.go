// Package walkin tracks customers who arrive without a booking. Each walk-in
// customer owns a primary task; the customer's status is a projection of
// that task and is rewritten whenever the task moves.
package walkin

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("walkin: not found")
	ErrInvalidTransition = errors.New("walkin: invalid task transition")
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskPaused     TaskStatus = "paused"
	TaskOnHold     TaskStatus = "on_hold"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress, TaskOnHold, TaskCancelled},
	TaskInProgress: {TaskPaused, TaskOnHold, TaskCompleted, TaskCancelled},
	TaskPaused:     {TaskInProgress, TaskCancelled},
	TaskOnHold:     {TaskPending, TaskInProgress, TaskCancelled},
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskPaused, TaskOnHold, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// CanTransitionTask reports whether from -> to is allowed.
func CanTransitionTask(from, to TaskStatus) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type CustomerStatus string

const (
	CustomerWaiting   CustomerStatus = "waiting"
	CustomerInService CustomerStatus = "in_service"
	CustomerCompleted CustomerStatus = "completed"
	CustomerCancelled CustomerStatus = "cancelled"
)

func (s CustomerStatus) Valid() bool {
	switch s {
	case CustomerWaiting, CustomerInService, CustomerCompleted, CustomerCancelled:
		return true
	}
	return false
}

// Project maps a primary task status onto the customer status.
func Project(s TaskStatus) CustomerStatus {
	switch s {
	case TaskInProgress, TaskPaused:
		return CustomerInService
	case TaskCompleted:
		return CustomerCompleted
	case TaskCancelled:
		return CustomerCancelled
	default:
		return CustomerWaiting
	}
}

// taskTargets lists, in preference order, the task statuses that realise a
// requested customer status.
var taskTargets = map[CustomerStatus][]TaskStatus{
	CustomerWaiting:   {TaskPending, TaskOnHold},
	CustomerInService: {TaskInProgress},
	CustomerCompleted: {TaskCompleted},
	CustomerCancelled: {TaskCancelled},
}

// TaskTargetFor picks the task transition that moves a primary task in
// status from to the requested customer status.
func TaskTargetFor(from TaskStatus, want CustomerStatus) (TaskStatus, error) {
	for _, to := range taskTargets[want] {
		if CanTransitionTask(from, to) {
			return to, nil
		}
	}
	return "", fmt.Errorf("%w: cannot move customer from %s to %s", ErrInvalidTransition, Project(from), want)
}

type Customer struct {
	ID                 uuid.UUID      `json:"id"`
	TenantID           uuid.UUID      `json:"tenant_id"`
	LocationID         uuid.UUID      `json:"location_id"`
	Name               string         `json:"name"`
	Phone              string         `json:"phone"`
	VehiclePlate       string         `json:"vehicle_plate"`
	VehicleDescription string         `json:"vehicle_description"`
	LocationServiceID  uuid.UUID      `json:"location_service_id"`
	AmountCents        int64          `json:"amount_cents"`
	AssignedStaffID    *uuid.UUID     `json:"assigned_staff_id,omitempty"`
	Status             CustomerStatus `json:"status"`
	ArrivedAt          time.Time      `json:"arrived_at"`
	CreatedBy          *uuid.UUID     `json:"created_by,omitempty"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

type Task struct {
	ID                    uuid.UUID  `json:"id"`
	TenantID              uuid.UUID  `json:"tenant_id"`
	LocationID            uuid.UUID  `json:"location_id"`
	CustomerID            uuid.UUID  `json:"walkin_customer_id"`
	LocationServiceID     uuid.UUID  `json:"location_service_id"`
	AssignedStaffID       *uuid.UUID `json:"assigned_staff_id,omitempty"`
	IsPrimary             bool       `json:"is_primary"`
	Status                TaskStatus `json:"status"`
	Progress              int        `json:"progress"`
	QualityRating         *int       `json:"quality_rating,omitempty"`
	Notes                 string     `json:"notes"`
	EstimatedMinutes      int        `json:"estimated_minutes"`
	StartedAt             *time.Time `json:"started_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	ActualDurationMinutes *int       `json:"actual_duration_minutes,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Transition moves the task to status to and stamps timing fields.
func (t *Task) Transition(to TaskStatus, now time.Time) error {
	if !CanTransitionTask(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = now
	switch to {
	case TaskInProgress:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case TaskCompleted:
		t.CompletedAt = &now
		t.Progress = 100
		if t.StartedAt != nil {
			minutes := int(now.Sub(*t.StartedAt).Round(time.Minute) / time.Minute)
			t.ActualDurationMinutes = &minutes
		}
	}
	return nil
}

type PaymentMethod string

const (
	MethodCash  PaymentMethod = "cash"
	MethodMpesa PaymentMethod = "mpesa"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentPaid       PaymentStatus = "paid"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
	// PaymentRefundPending marks money received that must be returned, such
	// as a second payment for a walk-in already paid.
	PaymentRefundPending PaymentStatus = "refund_pending"
)

// Settled reports whether money was received for the payment.
func (s PaymentStatus) Settled() bool {
	return s == PaymentPaid || s == PaymentRefundPending
}

type Payment struct {
	ID                uuid.UUID     `json:"id"`
	TenantID          uuid.UUID     `json:"tenant_id"`
	CustomerID        uuid.UUID     `json:"walkin_customer_id"`
	AmountCents       int64         `json:"amount_cents"`
	Method            PaymentMethod `json:"method"`
	Status            PaymentStatus `json:"status"`
	Phone             string        `json:"phone,omitempty"`
	CheckoutRequestID string        `json:"checkout_request_id,omitempty"`
	MerchantRequestID string        `json:"merchant_request_id,omitempty"`
	MpesaReceipt      string        `json:"mpesa_receipt,omitempty"`
	FailureReason     string        `json:"failure_reason,omitempty"`
	PaidAt            *time.Time    `json:"paid_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// MarkPaid records a successful payment. It reports false when the payment
// was already paid.
func (p *Payment) MarkPaid(receipt string, at time.Time) bool {
	if p.Status.Settled() {
		return false
	}
	p.Status = PaymentPaid
	p.MpesaReceipt = receipt
	p.FailureReason = ""
	p.PaidAt = &at
	p.UpdatedAt = at
	return true
}

// MarkFailed records a failed or cancelled attempt. A paid payment is kept.
func (p *Payment) MarkFailed(status PaymentStatus, reason string, at time.Time) bool {
	if p.Status.Settled() {
		return false
	}
	p.Status = status
	p.FailureReason = reason
	p.UpdatedAt = at
	return true
}

// MarkRefundDue records money received that does not settle the walk-in.
func (p *Payment) MarkRefundDue(receipt, reason string, at time.Time) bool {
	if p.Status.Settled() {
		return false
	}
	p.Status = PaymentRefundPending
	p.MpesaReceipt = receipt
	p.FailureReason = reason
	p.PaidAt = &at
	p.UpdatedAt = at
	return true
}

// AttachReceipt stores the receipt of a payment settled without one.
func (p *Payment) AttachReceipt(receipt string, at time.Time) bool {
	if receipt == "" || p.MpesaReceipt != "" || !p.Status.Settled() {
		return false
	}
	p.MpesaReceipt = receipt
	p.UpdatedAt = at
	return true
}

// Detail is a walk-in customer with its tasks and payments.
type Detail struct {
	Customer
	Tasks    []Task    `json:"tasks"`
	Payments []Payment `json:"payments"`
}
