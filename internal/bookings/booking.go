// Package bookings owns the booking lifecycle: slot reservation, the status
// state machine, cancellation and edit windows, and the M-Pesa payment
// hand-off.
package bookings

import (
	"crypto/rand"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("bookings: not found")
	ErrDuplicateReference = errors.New("bookings: duplicate reference")
	ErrSlotTaken          = errors.New("bookings: slot already booked")
)

type Status string

const (
	StatusDraft      Status = "draft"
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

var transitions = map[Status][]Status{
	StatusDraft:      {StatusPending, StatusCancelled, StatusNoShow},
	StatusPending:    {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusNoShow},
}

// Terminal statuses have no outgoing edges.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// HoldsSlot reports whether a booking in this status blocks its time range.
func (s Status) HoldsSlot() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusInProgress
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SlotStatuses are the statuses that reserve a bay.
var SlotStatuses = []Status{StatusPending, StatusConfirmed, StatusInProgress}

type PaymentStatus string

const (
	PaymentUnpaid        PaymentStatus = "unpaid"
	PaymentProcessing    PaymentStatus = "processing"
	PaymentPaid          PaymentStatus = "paid"
	PaymentFailed        PaymentStatus = "failed"
	PaymentCancelled     PaymentStatus = "cancelled"
	PaymentRefundPending PaymentStatus = "refund_pending"
)

type PaymentMethod string

const (
	MethodMpesa PaymentMethod = "mpesa"
	MethodCash  PaymentMethod = "cash"
	MethodCard  PaymentMethod = "card"
)

type Booking struct {
	ID                 uuid.UUID     `json:"id"`
	Reference          string        `json:"reference"`
	TenantID           uuid.UUID     `json:"tenant_id"`
	LocationID         uuid.UUID     `json:"location_id"`
	CustomerID         uuid.UUID     `json:"customer_id"`
	LocationServiceID  uuid.UUID     `json:"location_service_id"`
	BookingDate        time.Time     `json:"booking_date"`
	TimeSlotEnd        time.Time     `json:"time_slot_end"`
	CustomerName       string        `json:"customer_name"`
	CustomerPhone      string        `json:"customer_phone"`
	CustomerEmail      string        `json:"customer_email"`
	VehicleNotes       string        `json:"vehicle_notes"`
	TotalAmountCents   int64         `json:"total_amount_cents"`
	Status             Status        `json:"status"`
	PaymentMethod      PaymentMethod `json:"payment_method"`
	PaymentStatus      PaymentStatus `json:"payment_status"`
	MerchantRequestID  string        `json:"merchant_request_id,omitempty"`
	CheckoutRequestID  string        `json:"checkout_request_id,omitempty"`
	MpesaReceipt       string        `json:"mpesa_receipt,omitempty"`
	PaymentFailure     string        `json:"payment_failure,omitempty"`
	RefundRequired     bool          `json:"refund_required"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	ConfirmedAt        *time.Time    `json:"confirmed_at,omitempty"`
	PaidAt             *time.Time    `json:"paid_at,omitempty"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	IsOverdue          bool          `json:"is_overdue"`
}

// Derive fills computed fields relative to now.
func (b *Booking) Derive(now time.Time) {
	b.IsOverdue = b.BookingDate.Before(now) && !b.Status.Terminal()
}

// HistoryEntry is one append-only status change.
type HistoryEntry struct {
	ID        uuid.UUID  `json:"id"`
	BookingID uuid.UUID  `json:"booking_id"`
	From      Status     `json:"from_status"`
	To        Status     `json:"to_status"`
	Reason    string     `json:"reason,omitempty"`
	ActorType string     `json:"actor_type"`
	ActorID   *uuid.UUID `json:"actor_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// MarkPaid applies a successful payment. Bookings still awaiting payment
// are confirmed; a booking cancelled while the prompt was open keeps its
// status and is flagged for refund. A second payment for a booking that is
// already paid keeps the first receipt and flags the booking for refund. It
// returns the previous status and whether the status changed.
func (b *Booking) MarkPaid(receipt string, at time.Time) (Status, bool) {
	from := b.Status
	b.UpdatedAt = at
	if b.PaymentStatus == PaymentPaid || b.PaymentStatus == PaymentRefundPending {
		b.RefundRequired = true
		return from, false
	}
	b.MpesaReceipt = receipt
	b.PaymentFailure = ""
	b.PaidAt = &at
	if from.Terminal() {
		b.PaymentStatus = PaymentRefundPending
		b.RefundRequired = true
		return from, false
	}
	b.PaymentStatus = PaymentPaid
	if from == StatusDraft || from == StatusPending {
		b.Status = StatusConfirmed
		b.ConfirmedAt = &at
		return from, true
	}
	return from, false
}

// MarkUnderpaid records a payment short of the booking total. The booking
// stays unconfirmed and the partial amount is flagged for refund.
func (b *Booking) MarkUnderpaid(reason string, at time.Time) bool {
	if b.PaymentStatus == PaymentPaid || b.PaymentStatus == PaymentRefundPending {
		b.RefundRequired = true
		b.UpdatedAt = at
		return true
	}
	b.PaymentStatus = PaymentFailed
	b.PaymentFailure = reason
	b.RefundRequired = true
	b.UpdatedAt = at
	return true
}

// AttachReceipt stores the receipt of a payment settled without one.
func (b *Booking) AttachReceipt(receipt string, at time.Time) bool {
	if receipt == "" || b.MpesaReceipt != "" {
		return false
	}
	if b.PaymentStatus != PaymentPaid && b.PaymentStatus != PaymentRefundPending {
		return false
	}
	b.MpesaReceipt = receipt
	b.UpdatedAt = at
	return true
}

// MarkPaymentFailed records a failed or cancelled payment attempt. A paid
// booking is never downgraded.
func (b *Booking) MarkPaymentFailed(status PaymentStatus, reason string, at time.Time) bool {
	if b.PaymentStatus == PaymentPaid || b.PaymentStatus == PaymentRefundPending {
		return false
	}
	b.PaymentStatus = status
	b.PaymentFailure = reason
	b.UpdatedAt = at
	return true
}

const referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewReference returns BK + YYYYMMDD + six random upper-case alphanumerics.
func NewReference(now time.Time) (string, error) {
	buf := make([]byte, 6)
	max := big.NewInt(int64(len(referenceAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = referenceAlphabet[n.Int64()]
	}
	return "BK" + now.UTC().Format("20060102") + string(buf), nil
}
