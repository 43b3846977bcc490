// Package payments keeps the M-Pesa transaction ledger shared by bookings
// and walk-ins, plus the per-phone velocity limit on STK pushes.
package payments

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no transaction matches.
var ErrNotFound = errors.New("payments: transaction not found")

// SubjectKind names what a transaction pays for.
type SubjectKind string

const (
	SubjectBooking SubjectKind = "booking"
	SubjectWalkIn  SubjectKind = "walkin"
)

// Status is the lifecycle of a single STK push.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusPending    Status = "pending"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further results will be applied.
func (s Status) Terminal() bool {
	return s == StatusSuccessful || s == StatusFailed || s == StatusCancelled
}

// Transaction is one STK push attempt. CheckoutRequestID is the correlation
// key Daraja echoes in the callback.
type Transaction struct {
	ID                uuid.UUID   `json:"id"`
	TenantID          uuid.UUID   `json:"tenant_id"`
	SubjectKind       SubjectKind `json:"subject_kind"`
	SubjectID         uuid.UUID   `json:"subject_id"`
	Phone             string      `json:"phone"`
	AmountCents       int64       `json:"amount_cents"`
	MerchantRequestID string      `json:"merchant_request_id,omitempty"`
	CheckoutRequestID string      `json:"checkout_request_id,omitempty"`
	Status            Status      `json:"status"`
	ResultCode        *int        `json:"result_code,omitempty"`
	ResultDesc        string      `json:"result_desc,omitempty"`
	Receipt           string      `json:"mpesa_receipt,omitempty"`
	RawCallback       []byte      `json:"-"`
	CreatedAt         time.Time   `json:"created_at"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
}

// Completion is the terminal result applied to a transaction.
type Completion struct {
	Status      Status
	ResultCode  int
	ResultDesc  string
	Receipt     string
	RawCallback []byte
	CompletedAt time.Time
}
