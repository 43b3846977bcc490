// Package reconcile applies M-Pesa payment results, from provider callbacks
// or status queries, to the transaction ledger and to the booking or walk-in
// that the transaction pays for.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/carwash-platform/internal/bookings"
	"github.com/wolfman30/carwash-platform/internal/database"
	"github.com/wolfman30/carwash-platform/internal/events"
	"github.com/wolfman30/carwash-platform/internal/mpesa"
	"github.com/wolfman30/carwash-platform/internal/observability/metrics"
	"github.com/wolfman30/carwash-platform/internal/payments"
	"github.com/wolfman30/carwash-platform/internal/walkin"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

var tracer = otel.Tracer("carwash.internal.reconcile")

// ErrUnmatched is returned when no transaction carries the checkout id.
var ErrUnmatched = errors.New("reconcile: no transaction for checkout request id")

const (
	SourceCallback = "callback"
	SourceQuery    = "query"
)

// Outcome is a final payment result for one STK push.
type Outcome struct {
	Kind              payments.SubjectKind
	Source            string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Receipt           string
	Phone             string
	// AmountCents is the amount Daraja reports as paid; zero when the
	// result carries no amount.
	AmountCents int64
	Raw         []byte
}

// Status classifies the result code onto a ledger status.
func (o Outcome) Status() payments.Status {
	switch mpesa.ClassifyResult(o.ResultCode) {
	case mpesa.StatusSuccessful:
		return payments.StatusSuccessful
	case mpesa.StatusCancelled:
		return payments.StatusCancelled
	default:
		return payments.StatusFailed
	}
}

// FromCallback builds an Outcome from a parsed callback.
func FromCallback(kind payments.SubjectKind, cb mpesa.Callback) Outcome {
	return Outcome{
		Kind:              kind,
		Source:            SourceCallback,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
		Receipt:           cb.ReceiptNumber,
		Phone:             cb.PhoneNumber,
		AmountCents:       parseAmount(cb.Amount),
		Raw:               cb.Raw,
	}
}

// parseAmount converts a Daraja shilling amount such as "1" or "1.00" to
// cents.
func parseAmount(s string) int64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v <= 0 {
		return 0
	}
	return int64(math.Round(v * 100))
}

// shortfall reports whether a reported amount is below what the push asked
// for. Pushes are sent in whole shillings.
func shortfall(txn *payments.Transaction, o Outcome) (bool, string) {
	if o.AmountCents == 0 {
		return false, ""
	}
	expected := mpesa.ShillingsFromCents(txn.AmountCents) * 100
	if o.AmountCents >= expected {
		return false, ""
	}
	return true, fmt.Sprintf("received %d cents, expected %d cents", o.AmountCents, expected)
}

// Result reports what Apply did.
type Result struct {
	Status    payments.Status
	Duplicate bool
	// ReceiptAttached is set when a duplicate success carried the receipt a
	// status query could not provide.
	ReceiptAttached bool
	SubjectID       uuid.UUID
}

// VelocityResetter clears the STK push counter for a phone.
type VelocityResetter interface {
	Reset(ctx context.Context, tenantID uuid.UUID, phone string) error
}

type Deps struct {
	Tx        database.TxRunner
	Payments  payments.Store
	Bookings  bookings.Store
	WalkIns   walkin.Store
	Processed events.ProcessedStore
	Outbox    events.Publisher
	Velocity  VelocityResetter
	Metrics   *metrics.CallbackMetrics
	Logger    *logging.Logger
	Now       func() time.Time
}

type Reconciler struct {
	tx        database.TxRunner
	payments  payments.Store
	bookings  bookings.Store
	walkins   walkin.Store
	processed events.ProcessedStore
	outbox    events.Publisher
	velocity  VelocityResetter
	metrics   *metrics.CallbackMetrics
	logger    *logging.Logger
	now       func() time.Time
}

func New(d Deps) *Reconciler {
	if d.Tx == nil || d.Payments == nil || d.Processed == nil {
		panic("reconcile: tx runner, payment store and processed store required")
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{
		tx:        d.Tx,
		payments:  d.Payments,
		bookings:  d.Bookings,
		walkins:   d.WalkIns,
		processed: d.Processed,
		outbox:    d.Outbox,
		velocity:  d.Velocity,
		metrics:   d.Metrics,
		logger:    d.Logger,
		now:       d.Now,
	}
}

func provider(kind payments.SubjectKind) string {
	if kind == payments.SubjectWalkIn {
		return "mpesa-walkin"
	}
	return "mpesa"
}

// Apply settles one payment result in a single transaction. An unknown
// checkout id yields ErrUnmatched without writes; a result already applied
// is reported as a duplicate.
func (r *Reconciler) Apply(ctx context.Context, o Outcome) (Result, error) {
	ctx, span := tracer.Start(ctx, "reconcile.apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("mpesa.checkout_request_id", o.CheckoutRequestID),
		attribute.String("carwash.payment_source", o.Source),
		attribute.Int("mpesa.result_code", o.ResultCode),
	)

	logger := r.logger.WithContext(ctx).With("checkout_request_id", o.CheckoutRequestID, "source", o.Source)
	res := Result{Status: o.Status()}
	kind := o.Kind
	var settled *payments.Transaction

	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		txn, err := r.payments.GetByCheckoutID(ctx, o.CheckoutRequestID)
		if err != nil {
			if errors.Is(err, payments.ErrNotFound) {
				return ErrUnmatched
			}
			return err
		}
		if txn.SubjectKind != o.Kind {
			logger.Warn("payment result arrived on the wrong callback", "expected_kind", txn.SubjectKind, "received_kind", o.Kind)
		}
		kind = txn.SubjectKind
		res.SubjectID = txn.SubjectID
		if txn.Status.Terminal() {
			res.Duplicate = true
			if txn.Status == payments.StatusSuccessful && txn.Receipt == "" && o.Receipt != "" && res.Status == payments.StatusSuccessful {
				res.ReceiptAttached = true
				return r.attachReceipt(ctx, txn, o)
			}
			return nil
		}
		claimed, err := r.processed.Claim(ctx, provider(kind), o.CheckoutRequestID)
		if err != nil {
			return err
		}
		if !claimed {
			res.Duplicate = true
			return nil
		}

		at := r.now()
		if err := r.payments.Complete(ctx, txn.ID, payments.Completion{
			Status:      res.Status,
			ResultCode:  o.ResultCode,
			ResultDesc:  o.ResultDesc,
			Receipt:     o.Receipt,
			RawCallback: o.Raw,
			CompletedAt: at,
		}); err != nil {
			return err
		}
		settled = txn

		switch kind {
		case payments.SubjectBooking:
			return r.applyBooking(ctx, txn, o, res.Status, at)
		case payments.SubjectWalkIn:
			return r.applyWalkIn(ctx, txn, o, res.Status, at)
		default:
			return fmt.Errorf("reconcile: unknown subject kind %q", kind)
		}
	})

	switch {
	case errors.Is(err, ErrUnmatched):
		logger.Warn("payment result for unknown checkout request")
		r.metrics.ObserveCallback(string(o.Kind), o.Source, "unmatched")
		return res, err
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("failed to apply payment result", "error", err)
		return res, fmt.Errorf("reconcile: apply: %w", err)
	case res.ReceiptAttached:
		logger.Info("receipt attached to settled payment", "subject_kind", kind, "subject_id", res.SubjectID)
		r.metrics.ObserveCallback(string(kind), o.Source, "receipt_attached")
		return res, nil
	case res.Duplicate:
		logger.Info("payment result already applied")
		r.metrics.ObserveCallback(string(kind), o.Source, "duplicate")
		return res, nil
	}
	logger.Info("payment result applied", "status", res.Status, "subject_kind", kind, "subject_id", res.SubjectID)
	r.metrics.ObserveCallback(string(kind), o.Source, string(res.Status))
	if res.Status == payments.StatusSuccessful && r.velocity != nil && settled != nil {
		// a completed payment frees the phone for the next booking
		if err := r.velocity.Reset(ctx, settled.TenantID, settled.Phone); err != nil {
			logger.Warn("failed to reset payment velocity", "error", err)
		}
	}
	return res, nil
}

func (r *Reconciler) applyBooking(ctx context.Context, txn *payments.Transaction, o Outcome, status payments.Status, at time.Time) error {
	if r.bookings == nil {
		return errors.New("reconcile: booking store not configured")
	}
	b, err := r.bookings.Get(ctx, txn.SubjectID)
	if err != nil {
		return err
	}
	if status == payments.StatusSuccessful {
		if short, reason := shortfall(txn, o); short {
			r.logger.Warn("payment amount below booking total, refund required", "booking_id", b.ID, "checkout_request_id", o.CheckoutRequestID, "detail", reason)
			r.metrics.ObserveCallback(string(txn.SubjectKind), o.Source, "amount_mismatch")
			short := o
			short.ResultDesc = "M-Pesa payment short: " + reason
			b.MarkUnderpaid(short.ResultDesc, at)
			if err := r.bookings.Update(ctx, b); err != nil {
				return err
			}
			return r.publishFailed(ctx, txn, short, payments.StatusFailed, at)
		}
		alreadyPaid := b.PaymentStatus == bookings.PaymentPaid || b.PaymentStatus == bookings.PaymentRefundPending
		from, changed := b.MarkPaid(o.Receipt, at)
		if err := r.bookings.Update(ctx, b); err != nil {
			return err
		}
		if alreadyPaid {
			r.logger.Warn("second payment for a paid booking, refund required", "booking_id", b.ID, "checkout_request_id", o.CheckoutRequestID, "receipt", o.Receipt)
		}
		if changed {
			if err := r.bookings.AppendHistory(ctx, &bookings.HistoryEntry{
				BookingID: b.ID,
				From:      from,
				To:        b.Status,
				Reason:    "M-Pesa payment received",
				ActorType: "system",
				CreatedAt: at,
			}); err != nil {
				return err
			}
		}
		if b.RefundRequired {
			r.logger.Warn("payment received for a closed booking, refund required", "booking_id", b.ID, "status", b.Status)
		}
		return r.publishSucceeded(ctx, txn, o, b.Reference, at)
	}

	// A stale attempt must not overwrite the state of a newer push.
	if b.CheckoutRequestID == o.CheckoutRequestID {
		payStatus := bookings.PaymentFailed
		if status == payments.StatusCancelled {
			payStatus = bookings.PaymentCancelled
		}
		if b.MarkPaymentFailed(payStatus, o.ResultDesc, at) {
			if err := r.bookings.Update(ctx, b); err != nil {
				return err
			}
		}
	}
	return r.publishFailed(ctx, txn, o, status, at)
}

func (r *Reconciler) applyWalkIn(ctx context.Context, txn *payments.Transaction, o Outcome, status payments.Status, at time.Time) error {
	if r.walkins == nil {
		return errors.New("reconcile: walk-in store not configured")
	}
	p, err := r.walkins.GetPayment(ctx, txn.SubjectID)
	if err != nil {
		return err
	}
	var changed bool
	if status == payments.StatusSuccessful {
		reason, err := r.walkInRefundReason(ctx, txn, p, o)
		if err != nil {
			return err
		}
		if reason != "" {
			r.logger.Warn("walk-in payment needs refund", "payment_id", p.ID, "checkout_request_id", o.CheckoutRequestID, "detail", reason)
			changed = p.MarkRefundDue(o.Receipt, reason, at)
		} else {
			changed = p.MarkPaid(o.Receipt, at)
		}
	} else {
		payStatus := walkin.PaymentFailed
		if status == payments.StatusCancelled {
			payStatus = walkin.PaymentCancelled
		}
		changed = p.MarkFailed(payStatus, o.ResultDesc, at)
	}
	if changed {
		if err := r.walkins.UpdatePayment(ctx, p); err != nil {
			return err
		}
	}
	if status == payments.StatusSuccessful {
		return r.publishSucceeded(ctx, txn, o, "", at)
	}
	return r.publishFailed(ctx, txn, o, status, at)
}

// walkInRefundReason explains why money received for p cannot settle the
// walk-in, or returns "".
func (r *Reconciler) walkInRefundReason(ctx context.Context, txn *payments.Transaction, p *walkin.Payment, o Outcome) (string, error) {
	if short, reason := shortfall(txn, o); short {
		r.metrics.ObserveCallback(string(txn.SubjectKind), o.Source, "amount_mismatch")
		return "M-Pesa payment short: " + reason, nil
	}
	others, err := r.walkins.ListPayments(ctx, p.CustomerID)
	if err != nil {
		return "", err
	}
	for _, other := range others {
		if other.ID != p.ID && other.Status == walkin.PaymentPaid {
			return "walk-in already paid", nil
		}
	}
	return "", nil
}

// attachReceipt stores the receipt of a provider callback that arrived after
// a status query had already settled the payment without one.
func (r *Reconciler) attachReceipt(ctx context.Context, txn *payments.Transaction, o Outcome) error {
	if err := r.payments.AttachReceipt(ctx, txn.ID, o.Receipt, o.Raw); err != nil {
		return err
	}
	at := r.now()
	switch txn.SubjectKind {
	case payments.SubjectBooking:
		if r.bookings == nil {
			return nil
		}
		b, err := r.bookings.Get(ctx, txn.SubjectID)
		if err != nil {
			return err
		}
		if b.CheckoutRequestID == o.CheckoutRequestID && b.AttachReceipt(o.Receipt, at) {
			return r.bookings.Update(ctx, b)
		}
	case payments.SubjectWalkIn:
		if r.walkins == nil {
			return nil
		}
		p, err := r.walkins.GetPayment(ctx, txn.SubjectID)
		if err != nil {
			return err
		}
		if p.AttachReceipt(o.Receipt, at) {
			return r.walkins.UpdatePayment(ctx, p)
		}
	}
	return nil
}

func (r *Reconciler) publishSucceeded(ctx context.Context, txn *payments.Transaction, o Outcome, reference string, at time.Time) error {
	if r.outbox == nil {
		return nil
	}
	eventType := events.TypeBookingPaymentSucceeded
	if txn.SubjectKind == payments.SubjectWalkIn {
		eventType = events.TypeWalkInPaymentSucceeded
	}
	_, err := r.outbox.Insert(ctx, txn.TenantID, eventType, events.PaymentSucceededV1{
		EventID:           uuid.NewString(),
		TenantID:          txn.TenantID.String(),
		SubjectKind:       string(txn.SubjectKind),
		SubjectID:         txn.SubjectID.String(),
		Reference:         reference,
		CheckoutRequestID: o.CheckoutRequestID,
		Receipt:           o.Receipt,
		AmountCents:       txn.AmountCents,
		Phone:             txn.Phone,
		OccurredAt:        at,
	})
	return err
}

func (r *Reconciler) publishFailed(ctx context.Context, txn *payments.Transaction, o Outcome, status payments.Status, at time.Time) error {
	if r.outbox == nil {
		return nil
	}
	eventType := events.TypeBookingPaymentFailed
	if txn.SubjectKind == payments.SubjectWalkIn {
		eventType = events.TypeWalkInPaymentFailed
	}
	_, err := r.outbox.Insert(ctx, txn.TenantID, eventType, events.PaymentFailedV1{
		EventID:           uuid.NewString(),
		TenantID:          txn.TenantID.String(),
		SubjectKind:       string(txn.SubjectKind),
		SubjectID:         txn.SubjectID.String(),
		CheckoutRequestID: o.CheckoutRequestID,
		Status:            string(status),
		ResultCode:        o.ResultCode,
		Reason:            o.ResultDesc,
		OccurredAt:        at,
	})
	return err
}

// ApplyQueryResult settles a final status-query result.
func (r *Reconciler) ApplyQueryResult(ctx context.Context, kind payments.SubjectKind, checkoutRequestID string, res mpesa.QueryResult) error {
	if !res.Final() {
		return nil
	}
	_, err := r.Apply(ctx, Outcome{
		Kind:              kind,
		Source:            SourceQuery,
		CheckoutRequestID: checkoutRequestID,
		ResultCode:        res.ResultCode,
		ResultDesc:        res.ResultDesc,
	})
	return err
}
