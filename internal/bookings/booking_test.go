package bookings

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachine(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusDraft, StatusPending},
		{StatusDraft, StatusCancelled},
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusCancelled},
		{StatusConfirmed, StatusInProgress},
		{StatusConfirmed, StatusCancelled},
		{StatusInProgress, StatusCompleted},
		{StatusDraft, StatusNoShow},
		{StatusPending, StatusNoShow},
		{StatusConfirmed, StatusNoShow},
		{StatusInProgress, StatusNoShow},
	}
	for _, tt := range allowed {
		assert.True(t, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	rejected := []struct{ from, to Status }{
		{StatusDraft, StatusConfirmed},
		{StatusPending, StatusInProgress},
		{StatusInProgress, StatusCancelled},
		{StatusConfirmed, StatusCompleted},
	}
	for _, tt := range rejected {
		assert.False(t, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	all := []Status{StatusDraft, StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow}
	for _, terminal := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
		assert.True(t, terminal.Terminal())
		for _, to := range all {
			assert.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}
}

func TestNewReferenceFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^BK20250101[A-Z0-9]{6}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		ref, err := NewReference(time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Regexp(t, pattern, ref)
		seen[ref] = true
	}
	assert.Greater(t, len(seen), 45)
}

func TestDeriveOverdue(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	b := &Booking{BookingDate: now.Add(-time.Hour), Status: StatusConfirmed}
	b.Derive(now)
	assert.True(t, b.IsOverdue)

	b.Status = StatusCompleted
	b.Derive(now)
	assert.False(t, b.IsOverdue)

	b = &Booking{BookingDate: now.Add(time.Hour), Status: StatusPending}
	b.Derive(now)
	assert.False(t, b.IsOverdue)
}

func TestMarkPaid(t *testing.T) {
	at := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

	b := &Booking{Status: StatusPending, PaymentStatus: PaymentProcessing}
	from, changed := b.MarkPaid("NLJ7RT61SV", at)
	assert.Equal(t, StatusPending, from)
	assert.True(t, changed)
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.Equal(t, PaymentPaid, b.PaymentStatus)
	assert.Equal(t, "NLJ7RT61SV", b.MpesaReceipt)
	require.NotNil(t, b.ConfirmedAt)
	require.NotNil(t, b.PaidAt)

	cancelled := &Booking{Status: StatusCancelled, PaymentStatus: PaymentProcessing}
	_, changed = cancelled.MarkPaid("R2", at)
	assert.False(t, changed)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, PaymentRefundPending, cancelled.PaymentStatus)
	assert.True(t, cancelled.RefundRequired)
}

func TestMarkPaidTwiceKeepsFirstReceipt(t *testing.T) {
	at := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	b := &Booking{Status: StatusPending, PaymentStatus: PaymentProcessing}
	b.MarkPaid("RCPT1", at)

	from, changed := b.MarkPaid("RCPT2", at.Add(time.Minute))
	assert.Equal(t, StatusConfirmed, from)
	assert.False(t, changed)
	assert.Equal(t, "RCPT1", b.MpesaReceipt)
	assert.Equal(t, PaymentPaid, b.PaymentStatus)
	assert.True(t, b.RefundRequired)
	assert.Equal(t, at, *b.PaidAt)
}

func TestMarkUnderpaidFlagsRefund(t *testing.T) {
	at := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	b := &Booking{Status: StatusPending, PaymentStatus: PaymentProcessing}
	assert.True(t, b.MarkUnderpaid("received 5 KES, expected 10 KES", at))
	assert.Equal(t, StatusPending, b.Status)
	assert.Equal(t, PaymentFailed, b.PaymentStatus)
	assert.True(t, b.RefundRequired)
	assert.Empty(t, b.MpesaReceipt)
}

func TestAttachReceipt(t *testing.T) {
	at := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	b := &Booking{Status: StatusConfirmed, PaymentStatus: PaymentPaid}
	assert.True(t, b.AttachReceipt("RCPT9", at))
	assert.Equal(t, "RCPT9", b.MpesaReceipt)
	assert.False(t, b.AttachReceipt("RCPT10", at))
	assert.Equal(t, "RCPT9", b.MpesaReceipt)

	unpaid := &Booking{Status: StatusPending, PaymentStatus: PaymentProcessing}
	assert.False(t, unpaid.AttachReceipt("RCPT9", at))
}

func TestMarkPaymentFailedNeverDowngradesPaid(t *testing.T) {
	at := time.Now()
	b := &Booking{Status: StatusConfirmed, PaymentStatus: PaymentPaid}
	assert.False(t, b.MarkPaymentFailed(PaymentFailed, "insufficient funds", at))
	assert.Equal(t, PaymentPaid, b.PaymentStatus)

	b = &Booking{Status: StatusPending, PaymentStatus: PaymentProcessing}
	assert.True(t, b.MarkPaymentFailed(PaymentCancelled, "Request cancelled by user", at))
	assert.Equal(t, PaymentCancelled, b.PaymentStatus)
	assert.Equal(t, "Request cancelled by user", b.PaymentFailure)
}
