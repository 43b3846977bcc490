package events

import "time"

// Event types written to the outbox.
const (
	TypeBookingPaymentSucceeded = "booking.payment_succeeded.v1"
	TypeBookingPaymentFailed    = "booking.payment_failed.v1"
	TypeWalkInPaymentSucceeded  = "walkin.payment_succeeded.v1"
	TypeWalkInPaymentFailed     = "walkin.payment_failed.v1"
)

type PaymentSucceededV1 struct {
	EventID           string    `json:"event_id"`
	TenantID          string    `json:"tenant_id"`
	SubjectKind       string    `json:"subject_kind"`
	SubjectID         string    `json:"subject_id"`
	Reference         string    `json:"reference,omitempty"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	Receipt           string    `json:"receipt,omitempty"`
	AmountCents       int64     `json:"amount_cents"`
	Phone             string    `json:"phone,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

type PaymentFailedV1 struct {
	EventID           string    `json:"event_id"`
	TenantID          string    `json:"tenant_id"`
	SubjectKind       string    `json:"subject_kind"`
	SubjectID         string    `json:"subject_id"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	Status            string    `json:"status"`
	ResultCode        int       `json:"result_code"`
	Reason            string    `json:"reason,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}
