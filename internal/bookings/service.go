package bookings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/carwash-platform/internal/apperr"
	"github.com/wolfman30/carwash-platform/internal/catalog"
	"github.com/wolfman30/carwash-platform/internal/database"
	"github.com/wolfman30/carwash-platform/internal/mpesa"
	"github.com/wolfman30/carwash-platform/internal/observability/metrics"
	"github.com/wolfman30/carwash-platform/internal/payments"
	"github.com/wolfman30/carwash-platform/internal/tenancy"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

var tracer = otel.Tracer("carwash.internal.bookings")

const (
	cancelWindow         = 2 * time.Hour
	editWindow           = 4 * time.Hour
	maxReferenceAttempts = 5
)

// Catalog resolves the location and bundle a booking refers to.
type Catalog interface {
	Location(ctx context.Context, id uuid.UUID) (*catalog.Location, error)
	LocationService(ctx context.Context, id uuid.UUID) (*catalog.LocationService, error)
}

// Contact is the customer snapshot copied onto a booking.
type Contact struct {
	Name  string
	Phone string
	Email string
}

// Customers looks up the booking customer's contact details.
type Customers interface {
	ContactFor(ctx context.Context, customerID uuid.UUID) (Contact, error)
}

// Velocity limits STK pushes per phone.
type Velocity interface {
	CheckPush(ctx context.Context, tenantID uuid.UUID, phone string) (*payments.VelocityResult, error)
}

// ResultApplier applies a final status-query result the same way a
// provider callback would be applied.
type ResultApplier interface {
	ApplyQueryResult(ctx context.Context, kind payments.SubjectKind, checkoutRequestID string, res mpesa.QueryResult) error
}

// Deps wires a Service.
type Deps struct {
	Store       Store
	Tx          database.TxRunner
	Catalog     Catalog
	Customers   Customers
	Gateway     mpesa.Gateway
	Payments    payments.Store
	Velocity    Velocity
	Applier     ResultApplier
	Metrics     *metrics.BookingMetrics
	Logger      *logging.Logger
	CallbackURL string
	Now         func() time.Time
}

// Service runs the booking lifecycle.
type Service struct {
	store       Store
	tx          database.TxRunner
	catalog     Catalog
	customers   Customers
	gateway     mpesa.Gateway
	payments    payments.Store
	velocity    Velocity
	applier     ResultApplier
	metrics     *metrics.BookingMetrics
	logger      *logging.Logger
	callbackURL string
	now         func() time.Time
}

func NewService(d Deps) *Service {
	if d.Store == nil {
		panic("bookings: store required")
	}
	if d.Tx == nil {
		panic("bookings: tx runner required")
	}
	if d.Catalog == nil {
		panic("bookings: catalog required")
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:       d.Store,
		tx:          d.Tx,
		catalog:     d.Catalog,
		customers:   d.Customers,
		gateway:     d.Gateway,
		payments:    d.Payments,
		velocity:    d.Velocity,
		applier:     d.Applier,
		metrics:     d.Metrics,
		logger:      d.Logger,
		callbackURL: d.CallbackURL,
		now:         d.Now,
	}
}

type CreateInput struct {
	LocationID        uuid.UUID     `json:"location_id" validate:"required"`
	LocationServiceID uuid.UUID     `json:"location_service_id" validate:"required"`
	BookingDate       time.Time     `json:"booking_date" validate:"required"`
	CustomerName      string        `json:"customer_name" validate:"max=120"`
	CustomerPhone     string        `json:"customer_phone" validate:"max=20"`
	CustomerEmail     string        `json:"customer_email" validate:"omitempty,email"`
	VehicleNotes      string        `json:"vehicle_notes" validate:"max=500"`
	PaymentMethod     PaymentMethod `json:"payment_method" validate:"omitempty,oneof=mpesa cash card"`
}

type UpdateInput struct {
	LocationID        *uuid.UUID     `json:"location_id"`
	LocationServiceID *uuid.UUID     `json:"location_service_id"`
	BookingDate       *time.Time     `json:"booking_date"`
	CustomerName      *string        `json:"customer_name" validate:"omitempty,max=120"`
	CustomerPhone     *string        `json:"customer_phone" validate:"omitempty,max=20"`
	CustomerEmail     *string        `json:"customer_email" validate:"omitempty,email"`
	VehicleNotes      *string        `json:"vehicle_notes" validate:"omitempty,max=500"`
	PaymentMethod     *PaymentMethod `json:"payment_method" validate:"omitempty,oneof=mpesa cash card"`
}

// PaymentInitiation is returned after a prompt was sent to the customer's phone.
type PaymentInitiation struct {
	BookingID         uuid.UUID     `json:"booking_id"`
	Reference         string        `json:"reference"`
	CheckoutRequestID string        `json:"checkout_request_id"`
	MerchantRequestID string        `json:"merchant_request_id"`
	CustomerMessage   string        `json:"customer_message"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
}

// PaymentState is the payment view of a booking.
type PaymentState struct {
	BookingID         uuid.UUID     `json:"booking_id"`
	Reference         string        `json:"reference"`
	Status            Status        `json:"status"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
	CheckoutRequestID string        `json:"checkout_request_id,omitempty"`
	MpesaReceipt      string        `json:"mpesa_receipt,omitempty"`
	PaymentFailure    string        `json:"payment_failure,omitempty"`
	RefundRequired    bool          `json:"refund_required"`
	PaidAt            *time.Time    `json:"paid_at,omitempty"`
}

func slotConflict() error {
	return apperr.ConflictError{Resource: "booking", Msg: "the selected time slot is already booked", Err: ErrSlotTaken}
}

func transitionConflict(from, to Status) error {
	return apperr.Conflict("booking", fmt.Sprintf("cannot move booking from %s to %s", from, to))
}

func actorRef(actor tenancy.Identity) (string, *uuid.UUID) {
	if actor.ActorID == uuid.Nil {
		return string(actor.Actor), nil
	}
	id := actor.ActorID
	return string(actor.Actor), &id
}

func (s *Service) record(ctx context.Context, b *Booking, from Status, reason string, actor tenancy.Identity) error {
	actorType, actorID := actorRef(actor)
	if err := s.store.AppendHistory(ctx, &HistoryEntry{
		BookingID: b.ID,
		From:      from,
		To:        b.Status,
		Reason:    reason,
		ActorType: actorType,
		ActorID:   actorID,
	}); err != nil {
		return err
	}
	s.metrics.ObserveTransition(string(from), string(b.Status))
	return nil
}

// resolve checks that the bundle belongs to an active location and is bookable.
func (s *Service) resolve(ctx context.Context, locationID, locationServiceID uuid.UUID) (*catalog.Location, *catalog.LocationService, error) {
	loc, err := s.catalog.Location(ctx, locationID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, nil, apperr.Invalid("location_id", "location not found")
		}
		return nil, nil, err
	}
	if !loc.IsActive {
		return nil, nil, apperr.Invalid("location_id", "location is not accepting bookings")
	}
	bundle, err := s.catalog.LocationService(ctx, locationServiceID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, nil, apperr.Invalid("location_service_id", "location service not found")
		}
		return nil, nil, err
	}
	if bundle.LocationID != loc.ID {
		return nil, nil, apperr.Invalid("location_service_id", "service is not offered at this location")
	}
	if !bundle.IsActive {
		return nil, nil, apperr.Invalid("location_service_id", "service is not available")
	}
	if bundle.DurationMinutes <= 0 {
		return nil, nil, apperr.Invalid("location_service_id", "service has no duration")
	}
	return loc, bundle, nil
}

func (s *Service) contact(ctx context.Context, customerID uuid.UUID, in CreateInput) (Contact, error) {
	var c Contact
	if s.customers != nil {
		found, err := s.customers.ContactFor(ctx, customerID)
		if err != nil {
			return Contact{}, err
		}
		c = found
	}
	if v := strings.TrimSpace(in.CustomerName); v != "" {
		c.Name = v
	}
	if v := strings.TrimSpace(in.CustomerEmail); v != "" {
		c.Email = v
	}
	if v := strings.TrimSpace(in.CustomerPhone); v != "" {
		c.Phone = v
	}
	if c.Phone != "" {
		normalized, err := mpesa.NormalizePhone(c.Phone)
		if err != nil {
			return Contact{}, apperr.Invalid("customer_phone", "invalid phone number format")
		}
		c.Phone = normalized
	}
	return c, nil
}

// Create books a draft slot for the calling customer.
func (s *Service) Create(ctx context.Context, actor tenancy.Identity, in CreateInput) (*Booking, error) {
	ctx, span := tracer.Start(ctx, "bookings.create")
	defer span.End()
	span.SetAttributes(attribute.String("carwash.location_id", in.LocationID.String()))

	if actor.Actor != tenancy.ActorCustomer {
		return nil, apperr.Invalid("actor", "only customers can create bookings")
	}
	now := s.now()
	start := in.BookingDate.UTC()
	if !start.After(now) {
		return nil, apperr.Invalid("booking_date", "must be in the future")
	}
	loc, bundle, err := s.resolve(ctx, in.LocationID, in.LocationServiceID)
	if err != nil {
		s.metrics.ObserveCreate("invalid")
		return nil, err
	}
	contact, err := s.contact(ctx, actor.ActorID, in)
	if err != nil {
		return nil, err
	}
	method := in.PaymentMethod
	if method == "" {
		method = MethodMpesa
	}

	for attempt := 1; attempt <= maxReferenceAttempts; attempt++ {
		ref, err := NewReference(now)
		if err != nil {
			return nil, fmt.Errorf("bookings: reference: %w", err)
		}
		b := &Booking{
			ID:                uuid.New(),
			Reference:         ref,
			TenantID:          loc.TenantID,
			LocationID:        loc.ID,
			CustomerID:        actor.ActorID,
			LocationServiceID: bundle.ID,
			BookingDate:       start,
			TimeSlotEnd:       start.Add(bundle.Duration()),
			CustomerName:      contact.Name,
			CustomerPhone:     contact.Phone,
			CustomerEmail:     contact.Email,
			VehicleNotes:      strings.TrimSpace(in.VehicleNotes),
			TotalAmountCents:  bundle.PriceCents,
			Status:            StatusDraft,
			PaymentMethod:     method,
			PaymentStatus:     PaymentUnpaid,
		}
		err = s.tx.InTx(ctx, func(ctx context.Context) error {
			if err := s.store.LockLocation(ctx, loc.ID); err != nil {
				return err
			}
			taken, err := s.store.HasOverlap(ctx, loc.ID, b.BookingDate, b.TimeSlotEnd, uuid.Nil)
			if err != nil {
				return err
			}
			if taken {
				return slotConflict()
			}
			if err := s.store.Insert(ctx, b); err != nil {
				return err
			}
			return s.record(ctx, b, "", "", actor)
		})
		switch {
		case err == nil:
			s.metrics.ObserveCreate("created")
			s.logger.Info("booking created", "booking_id", b.ID, "reference", b.Reference, "location_id", b.LocationID)
			b.Derive(now)
			return b, nil
		case errors.Is(err, ErrDuplicateReference):
			s.logger.Warn("booking reference collision, retrying", "attempt", attempt)
			continue
		case errors.Is(err, ErrSlotTaken) || apperr.IsConflict(err):
			s.metrics.ObserveCreate("conflict")
			return nil, slotConflict()
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "create failed")
			s.metrics.ObserveCreate("error")
			return nil, fmt.Errorf("bookings: create: %w", err)
		}
	}
	s.metrics.ObserveCreate("error")
	return nil, fmt.Errorf("bookings: create: %w", ErrDuplicateReference)
}

// authorize hides bookings outside the caller's scope.
func authorize(actor tenancy.Identity, b *Booking) error {
	switch actor.Actor {
	case tenancy.ActorSystem:
		return nil
	case tenancy.ActorCustomer:
		if b.CustomerID == actor.ActorID {
			return nil
		}
	case tenancy.ActorTenant:
		if b.TenantID == actor.TenantID {
			return nil
		}
	case tenancy.ActorStaff:
		if b.TenantID == actor.TenantID && (actor.LocationID == uuid.Nil || b.LocationID == actor.LocationID) {
			return nil
		}
	}
	return apperr.NotFound("booking")
}

func (s *Service) load(ctx context.Context, actor tenancy.Identity, id uuid.UUID) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("booking")
		}
		return nil, err
	}
	if err := authorize(actor, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Get returns a booking visible to actor.
func (s *Service) Get(ctx context.Context, actor tenancy.Identity, id uuid.UUID) (*Booking, error) {
	b, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	b.Derive(s.now())
	return b, nil
}

// List returns bookings in the caller's scope. Customers only ever see
// their own bookings; staff attached to a location only see that site.
func (s *Service) List(ctx context.Context, actor tenancy.Identity, f Filter) ([]Booking, error) {
	switch actor.Actor {
	case tenancy.ActorCustomer:
		f.CustomerID = actor.ActorID
		f.TenantID = uuid.Nil
	case tenancy.ActorTenant:
		f.TenantID = actor.TenantID
	case tenancy.ActorStaff:
		f.TenantID = actor.TenantID
		if actor.LocationID != uuid.Nil {
			f.LocationID = actor.LocationID
		}
	case tenancy.ActorSystem:
	default:
		return nil, apperr.NotFound("booking")
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 200
	}
	out, err := s.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range out {
		out[i].Derive(now)
	}
	return out, nil
}

// History returns the status trail of a booking.
func (s *Service) History(ctx context.Context, actor tenancy.Identity, id uuid.UUID) ([]HistoryEntry, error) {
	if _, err := s.load(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.store.History(ctx, id)
}

// Submit moves a draft into the bay schedule.
func (s *Service) Submit(ctx context.Context, actor tenancy.Identity, id uuid.UUID) (*Booking, error) {
	var out *Booking
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		if !CanTransition(b.Status, StatusPending) {
			return transitionConflict(b.Status, StatusPending)
		}
		if !b.BookingDate.After(s.now()) {
			return apperr.Conflict("booking", "booking start time has passed")
		}
		if err := s.claimSlot(ctx, b); err != nil {
			return err
		}
		from := b.Status
		b.Status = StatusPending
		if err := s.store.Update(ctx, b); err != nil {
			return s.mapUpdateErr(err)
		}
		out = b
		return s.record(ctx, b, from, "submitted", actor)
	})
	if err != nil {
		return nil, err
	}
	out.Derive(s.now())
	return out, nil
}

func (s *Service) claimSlot(ctx context.Context, b *Booking) error {
	if err := s.store.LockLocation(ctx, b.LocationID); err != nil {
		return err
	}
	taken, err := s.store.HasOverlap(ctx, b.LocationID, b.BookingDate, b.TimeSlotEnd, b.ID)
	if err != nil {
		return err
	}
	if taken {
		return slotConflict()
	}
	return nil
}

func (s *Service) mapUpdateErr(err error) error {
	if errors.Is(err, ErrSlotTaken) {
		return slotConflict()
	}
	if errors.Is(err, ErrNotFound) {
		return apperr.NotFound("booking")
	}
	return err
}

// Cancel cancels a booking more than two hours ahead of its start. A paid
// booking is flagged for refund.
func (s *Service) Cancel(ctx context.Context, actor tenancy.Identity, id uuid.UUID, reason string) (*Booking, error) {
	ctx, span := tracer.Start(ctx, "bookings.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("carwash.booking_id", id.String()))

	var out *Booking
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		if !CanTransition(b.Status, StatusCancelled) {
			return transitionConflict(b.Status, StatusCancelled)
		}
		now := s.now()
		if !now.Add(cancelWindow).Before(b.BookingDate) {
			return apperr.Conflict("booking", "bookings can only be cancelled more than 2 hours before the start time")
		}
		from := b.Status
		b.Status = StatusCancelled
		b.CancellationReason = strings.TrimSpace(reason)
		b.CancelledAt = &now
		if b.PaymentStatus == PaymentPaid {
			b.RefundRequired = true
			b.PaymentStatus = PaymentRefundPending
		}
		if err := s.store.Update(ctx, b); err != nil {
			return s.mapUpdateErr(err)
		}
		out = b
		return s.record(ctx, b, from, b.CancellationReason, actor)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("booking cancelled", "booking_id", id, "refund_required", out.RefundRequired)
	out.Derive(s.now())
	return out, nil
}

// Update edits a booking more than four hours ahead of its start.
func (s *Service) Update(ctx context.Context, actor tenancy.Identity, id uuid.UUID, in UpdateInput) (*Booking, error) {
	ctx, span := tracer.Start(ctx, "bookings.update")
	defer span.End()
	span.SetAttributes(attribute.String("carwash.booking_id", id.String()))

	var out *Booking
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		if b.Status.Terminal() {
			return apperr.Conflict("booking", fmt.Sprintf("cannot edit a %s booking", b.Status))
		}
		now := s.now()
		if !now.Add(editWindow).Before(b.BookingDate) {
			return apperr.Conflict("booking", "bookings can only be edited more than 4 hours before the start time")
		}

		locationID, bundleID := b.LocationID, b.LocationServiceID
		if in.LocationID != nil {
			locationID = *in.LocationID
		}
		if in.LocationServiceID != nil {
			bundleID = *in.LocationServiceID
		}
		serviceChanged := locationID != b.LocationID || bundleID != b.LocationServiceID
		paymentLocked := b.PaymentStatus == PaymentPaid || b.PaymentStatus == PaymentProcessing
		if serviceChanged && paymentLocked {
			return apperr.Conflict("booking", "cannot change the service of a booking with a payment in progress or completed")
		}
		if in.PaymentMethod != nil && *in.PaymentMethod != b.PaymentMethod && paymentLocked {
			return apperr.Conflict("booking", "cannot change the payment method after payment started")
		}

		loc, bundle, err := s.resolve(ctx, locationID, bundleID)
		if err != nil {
			return err
		}
		if loc.TenantID != b.TenantID {
			return apperr.Invalid("location_id", "location not found")
		}
		start := b.BookingDate
		if in.BookingDate != nil {
			start = in.BookingDate.UTC()
			if !start.After(now) {
				return apperr.Invalid("booking_date", "must be in the future")
			}
		}
		duration := b.TimeSlotEnd.Sub(b.BookingDate)
		if serviceChanged {
			duration = bundle.Duration()
			b.TotalAmountCents = bundle.PriceCents
		}
		b.LocationID, b.LocationServiceID = loc.ID, bundle.ID
		b.BookingDate, b.TimeSlotEnd = start, start.Add(duration)

		if in.CustomerName != nil {
			b.CustomerName = strings.TrimSpace(*in.CustomerName)
		}
		if in.CustomerEmail != nil {
			b.CustomerEmail = strings.TrimSpace(*in.CustomerEmail)
		}
		if in.CustomerPhone != nil {
			phone := strings.TrimSpace(*in.CustomerPhone)
			if phone != "" {
				if phone, err = mpesa.NormalizePhone(phone); err != nil {
					return apperr.Invalid("customer_phone", "invalid phone number format")
				}
			}
			b.CustomerPhone = phone
		}
		if in.VehicleNotes != nil {
			b.VehicleNotes = strings.TrimSpace(*in.VehicleNotes)
		}
		if in.PaymentMethod != nil {
			b.PaymentMethod = *in.PaymentMethod
		}

		if err := s.claimSlot(ctx, b); err != nil {
			return err
		}
		if err := s.store.Update(ctx, b); err != nil {
			return s.mapUpdateErr(err)
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.Derive(s.now())
	return out, nil
}

// transition applies a staff-driven status change.
func (s *Service) transition(ctx context.Context, actor tenancy.Identity, id uuid.UUID, to Status, reason string, check func(*Booking) error) (*Booking, error) {
	if actor.Actor != tenancy.ActorStaff && actor.Actor != tenancy.ActorTenant && actor.Actor != tenancy.ActorSystem {
		return nil, apperr.NotFound("booking")
	}
	var out *Booking
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		b, err := s.load(ctx, actor, id)
		if err != nil {
			return err
		}
		if !CanTransition(b.Status, to) {
			return transitionConflict(b.Status, to)
		}
		if check != nil {
			if err := check(b); err != nil {
				return err
			}
		}
		now := s.now()
		from := b.Status
		b.Status = to
		switch to {
		case StatusConfirmed:
			b.ConfirmedAt = &now
		case StatusCompleted:
			b.CompletedAt = &now
		}
		if err := s.store.Update(ctx, b); err != nil {
			return s.mapUpdateErr(err)
		}
		out = b
		return s.record(ctx, b, from, reason, actor)
	})
	if err != nil {
		return nil, err
	}
	out.Derive(s.now())
	return out, nil
}

// Confirm accepts a pending cash or card booking. M-Pesa bookings are
// confirmed by their payment.
func (s *Service) Confirm(ctx context.Context, actor tenancy.Identity, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, actor, id, StatusConfirmed, "confirmed by staff", func(b *Booking) error {
		if b.PaymentMethod == MethodMpesa && b.PaymentStatus != PaymentPaid {
			return apperr.Conflict("booking", "M-Pesa bookings are confirmed once payment succeeds")
		}
		return nil
	})
}

func (s *Service) Start(ctx context.Context, actor tenancy.Identity, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, actor, id, StatusInProgress, "service started", nil)
}

func (s *Service) Complete(ctx context.Context, actor tenancy.Identity, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, actor, id, StatusCompleted, "service completed", nil)
}

func (s *Service) MarkNoShow(ctx context.Context, actor tenancy.Identity, id uuid.UUID, reason string) (*Booking, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "customer did not show up"
	}
	return s.transition(ctx, actor, id, StatusNoShow, reason, nil)
}

// InitiatePayment sends an STK push for the booking total. The attempt is
// written to the ledger before the push so its checkout id is never lost,
// and a booking with a prompt still open cannot be pushed again. The gateway
// call happens outside any database transaction.
func (s *Service) InitiatePayment(ctx context.Context, actor tenancy.Identity, id uuid.UUID, phone string) (*PaymentInitiation, error) {
	ctx, span := tracer.Start(ctx, "bookings.initiate_payment")
	defer span.End()
	span.SetAttributes(attribute.String("carwash.booking_id", id.String()))

	if s.gateway == nil || s.payments == nil {
		return nil, apperr.GatewayError{Msg: "M-Pesa payments are not configured"}
	}
	if err := s.settleOpenAttempt(ctx, id); err != nil {
		s.logger.Warn("could not settle open payment attempt", "booking_id", id, "error", err)
	}

	var (
		b   *Booking
		txn *payments.Transaction
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if b, err = s.load(ctx, actor, id); err != nil {
			return err
		}
		if b.Status != StatusDraft && b.Status != StatusPending {
			return apperr.Conflict("booking", fmt.Sprintf("cannot pay for a %s booking", b.Status))
		}
		if b.PaymentStatus == PaymentPaid || b.PaymentStatus == PaymentRefundPending {
			return apperr.Conflict("booking", "booking is already paid")
		}
		now := s.now()
		if !b.BookingDate.After(now) {
			return apperr.Conflict("booking", "booking start time has passed")
		}
		open, err := payments.OpenAttempt(ctx, s.payments, payments.SubjectBooking, b.ID, now)
		if err != nil {
			return err
		}
		if open != nil {
			return apperr.Conflict("payment", "a payment prompt is already open for this booking")
		}
		if err := s.claimSlot(ctx, b); err != nil {
			return err
		}

		if strings.TrimSpace(phone) == "" {
			phone = b.CustomerPhone
		}
		msisdn, err := mpesa.NormalizePhone(phone)
		if err != nil {
			return apperr.Invalid("phone_number", "invalid phone number format")
		}
		if s.velocity != nil {
			res, err := s.velocity.CheckPush(ctx, b.TenantID, msisdn)
			if err != nil {
				s.logger.Warn("velocity check failed", "error", err)
			} else if res != nil && !res.Allowed {
				return apperr.Conflict("payment", res.Message)
			}
		}
		txn = &payments.Transaction{
			ID:          uuid.New(),
			TenantID:    b.TenantID,
			SubjectKind: payments.SubjectBooking,
			SubjectID:   b.ID,
			Phone:       msisdn,
			AmountCents: b.TotalAmountCents,
			Status:      payments.StatusInitiated,
			CreatedAt:   now,
		}
		return s.payments.Insert(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	push := s.gateway.STKPush(ctx, mpesa.PushRequest{
		Phone:       txn.Phone,
		AmountCents: txn.AmountCents,
		Reference:   b.Reference,
		Description: "Car wash booking",
		CallbackURL: s.callbackURL,
	})
	if !push.Success {
		s.recordPushFailure(ctx, b.ID, txn.ID, push.Error)
		s.logger.Warn("stk push failed", "booking_id", b.ID, "error", push.Error, "transport", push.Transport)
		return nil, apperr.GatewayError{Msg: push.Error, Upstream: !push.Transport}
	}

	if err := s.payments.Promote(ctx, txn.ID, push.MerchantRequestID, push.CheckoutRequestID); err != nil {
		s.logger.Error("failed to record accepted stk push", "booking_id", b.ID, "checkout_request_id", push.CheckoutRequestID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "record payment failed")
		return nil, fmt.Errorf("bookings: record payment: %w", err)
	}

	var out *PaymentInitiation
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.store.Get(ctx, b.ID)
		if err != nil {
			return err
		}
		current.MerchantRequestID = push.MerchantRequestID
		current.CheckoutRequestID = push.CheckoutRequestID
		current.PaymentMethod = MethodMpesa
		if current.PaymentStatus != PaymentPaid && current.PaymentStatus != PaymentRefundPending {
			current.PaymentStatus = PaymentProcessing
			current.PaymentFailure = ""
		}
		from := current.Status
		if from == StatusDraft {
			current.Status = StatusPending
		}
		if err := s.store.Update(ctx, current); err != nil {
			return s.mapUpdateErr(err)
		}
		if from != current.Status {
			if err := s.record(ctx, current, from, "payment initiated", actor); err != nil {
				return err
			}
		}
		out = &PaymentInitiation{
			BookingID:         current.ID,
			Reference:         current.Reference,
			CheckoutRequestID: push.CheckoutRequestID,
			MerchantRequestID: push.MerchantRequestID,
			CustomerMessage:   push.CustomerMessage,
			PaymentStatus:     current.PaymentStatus,
		}
		return nil
	})
	if err != nil {
		// The ledger already carries the checkout id, so the callback still
		// settles the booking.
		s.logger.Error("failed to update booking after stk push", "booking_id", b.ID, "checkout_request_id", push.CheckoutRequestID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "record payment failed")
		return nil, fmt.Errorf("bookings: record payment: %w", err)
	}
	s.logger.Info("stk push sent", "booking_id", b.ID, "checkout_request_id", push.CheckoutRequestID)
	return out, nil
}

// settleOpenAttempt asks the gateway about a push still awaiting its result
// and applies a final answer.
func (s *Service) settleOpenAttempt(ctx context.Context, bookingID uuid.UUID) error {
	if s.applier == nil {
		return nil
	}
	open, err := payments.OpenAttempt(ctx, s.payments, payments.SubjectBooking, bookingID, s.now())
	if err != nil || open == nil || open.CheckoutRequestID == "" {
		return err
	}
	res := s.gateway.QueryStatus(ctx, open.CheckoutRequestID)
	if !res.Final() {
		return nil
	}
	return s.applier.ApplyQueryResult(ctx, payments.SubjectBooking, open.CheckoutRequestID, res)
}

func (s *Service) recordPushFailure(ctx context.Context, bookingID, txnID uuid.UUID, reason string) {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		at := s.now()
		if err := s.payments.FailPush(ctx, txnID, reason, at); err != nil {
			return err
		}
		current, err := s.store.Get(ctx, bookingID)
		if err != nil {
			return err
		}
		if current.MarkPaymentFailed(PaymentFailed, reason, at) {
			return s.store.Update(ctx, current)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to record stk push failure", "booking_id", bookingID, "error", err)
	}
}

// PaymentStatus reports the stored payment state. While a prompt is open it
// asks the gateway and applies a final answer before reporting.
func (s *Service) PaymentStatus(ctx context.Context, actor tenancy.Identity, id uuid.UUID) (*PaymentState, error) {
	ctx, span := tracer.Start(ctx, "bookings.payment_status")
	defer span.End()

	b, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if b.PaymentStatus == PaymentProcessing && b.CheckoutRequestID != "" && s.gateway != nil && s.applier != nil {
		res := s.gateway.QueryStatus(ctx, b.CheckoutRequestID)
		if res.Final() {
			if err := s.applier.ApplyQueryResult(ctx, payments.SubjectBooking, b.CheckoutRequestID, res); err != nil {
				s.logger.Warn("apply query result failed", "booking_id", b.ID, "error", err)
			} else if reloaded, err := s.store.Get(ctx, b.ID); err == nil {
				b = reloaded
			}
		} else if res.Error != "" {
			s.logger.Debug("stk query unavailable", "booking_id", b.ID, "error", res.Error)
		}
	}
	return &PaymentState{
		BookingID:         b.ID,
		Reference:         b.Reference,
		Status:            b.Status,
		PaymentStatus:     b.PaymentStatus,
		CheckoutRequestID: b.CheckoutRequestID,
		MpesaReceipt:      b.MpesaReceipt,
		PaymentFailure:    b.PaymentFailure,
		RefundRequired:    b.RefundRequired,
		PaidAt:            b.PaidAt,
	}, nil
}
