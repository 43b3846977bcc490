package bookings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/carwash-platform/internal/apperr"
	"github.com/wolfman30/carwash-platform/internal/catalog"
	"github.com/wolfman30/carwash-platform/internal/database"
	"github.com/wolfman30/carwash-platform/internal/mpesa"
	"github.com/wolfman30/carwash-platform/internal/payments"
	"github.com/wolfman30/carwash-platform/internal/tenancy"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

type fakeGateway struct {
	mu     sync.Mutex
	pushes []mpesa.PushRequest
	push   mpesa.PushResult
	query  mpesa.QueryResult
}

func (g *fakeGateway) STKPush(_ context.Context, req mpesa.PushRequest) mpesa.PushResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes = append(g.pushes, req)
	res := g.push
	if res.Success {
		res.CheckoutRequestID = fmt.Sprintf("ws_CO_%d", len(g.pushes))
	}
	return res
}

func (g *fakeGateway) QueryStatus(context.Context, string) mpesa.QueryResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.query
}

func (g *fakeGateway) pushCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pushes)
}

type fakeApplier struct {
	store    Store
	payments payments.Store
	applied  []mpesa.QueryResult
}

func (a *fakeApplier) ApplyQueryResult(ctx context.Context, _ payments.SubjectKind, checkoutID string, res mpesa.QueryResult) error {
	a.applied = append(a.applied, res)
	b, err := a.store.GetByCheckoutID(ctx, checkoutID)
	if err != nil {
		return err
	}
	if res.ResultCode == mpesa.ResultSuccess {
		b.MarkPaid("QUERY123", time.Now().UTC())
	} else {
		b.MarkPaymentFailed(PaymentFailed, res.ResultDesc, time.Now().UTC())
	}
	if err := a.store.Update(ctx, b); err != nil {
		return err
	}
	txn, err := a.payments.GetByCheckoutID(ctx, checkoutID)
	if err != nil {
		return err
	}
	status := payments.StatusSuccessful
	if res.ResultCode != mpesa.ResultSuccess {
		status = payments.StatusFailed
	}
	return a.payments.Complete(ctx, txn.ID, payments.Completion{
		Status:      status,
		ResultCode:  res.ResultCode,
		ResultDesc:  res.ResultDesc,
		CompletedAt: time.Now().UTC(),
	})
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	payments *payments.MemoryStore
	gateway  *fakeGateway
	catalog  *catalog.Manager
	tenantID uuid.UUID
	location *catalog.Location
	bundle   *catalog.LocationService
	customer tenancy.Identity
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	cat := catalog.NewManager(catalog.NewMemoryStore(), database.NewMemoryRunner(), logging.Discard())
	tenantID := uuid.New()

	loc, err := cat.CreateLocation(ctx, tenantID, catalog.LocationInput{Name: "Kilimani", ContactNumber: "+254711000000"})
	require.NoError(t, err)
	svc, err := cat.CreateService(ctx, tenantID, catalog.ServiceInput{Name: "Express Wash", PriceCents: 1000, DurationMinutes: 30})
	require.NoError(t, err)
	bundle, err := cat.CreateLocationService(ctx, tenantID, catalog.LocationServiceInput{
		LocationID: loc.ID,
		Name:       "Express",
		ServiceIDs: []uuid.UUID{svc.ID},
	})
	require.NoError(t, err)

	f := &fixture{
		store:    NewMemoryStore(),
		payments: payments.NewMemoryStore(),
		gateway: &fakeGateway{push: mpesa.PushResult{
			Success:           true,
			MerchantRequestID: "mr-1",
			CheckoutRequestID: "ws_CO_1",
			CustomerMessage:   "Success. Request accepted for processing",
		}},
		catalog:  cat,
		tenantID: tenantID,
		location: loc,
		bundle:   bundle,
		customer: tenancy.Identity{Actor: tenancy.ActorCustomer, ActorID: uuid.New()},
		now:      time.Date(2024, 12, 31, 8, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(Deps{
		Store:    f.store,
		Tx:       database.NewMemoryRunner(),
		Catalog:  cat,
		Gateway:  f.gateway,
		Payments: f.payments,
		Applier:  &fakeApplier{store: f.store, payments: f.payments},
		Logger:   logging.Discard(),
		Now:      func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) create(t *testing.T, start time.Time) *Booking {
	t.Helper()
	b, err := f.svc.Create(context.Background(), f.customer, CreateInput{
		LocationID:        f.location.ID,
		LocationServiceID: f.bundle.ID,
		BookingDate:       start,
		CustomerName:      "Wanjiku",
		CustomerPhone:     "0712345678",
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) staff() tenancy.Identity {
	return tenancy.Identity{Actor: tenancy.ActorStaff, ActorID: uuid.New(), TenantID: f.tenantID}
}

func TestCreateSnapshotsPriceAndDuration(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	b := f.create(t, start)

	assert.Equal(t, time.Date(2025, 1, 1, 10, 30, 0, 0, time.UTC), b.TimeSlotEnd)
	assert.Equal(t, b.BookingDate.Add(30*time.Minute), b.TimeSlotEnd)
	assert.Equal(t, int64(1000), b.TotalAmountCents)
	assert.Equal(t, StatusDraft, b.Status)
	assert.Equal(t, PaymentUnpaid, b.PaymentStatus)
	assert.Equal(t, "254712345678", b.CustomerPhone)
	assert.Equal(t, f.tenantID, b.TenantID)
	assert.Regexp(t, `^BK20241231[A-Z0-9]{6}$`, b.Reference)

	history, err := f.svc.History(context.Background(), f.customer, b.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, Status(""), history[0].From)
	assert.Equal(t, StatusDraft, history[0].To)
}

func TestCreateRejectsPastStartAndForeignBundle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.customer, CreateInput{
		LocationID:        f.location.ID,
		LocationServiceID: f.bundle.ID,
		BookingDate:       f.now.Add(-time.Minute),
	})
	assert.True(t, apperr.IsValidation(err))

	other, err := f.catalog.CreateLocation(ctx, f.tenantID, catalog.LocationInput{Name: "Karen", ContactNumber: "+254711000001"})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.customer, CreateInput{
		LocationID:        other.ID,
		LocationServiceID: f.bundle.ID,
		BookingDate:       f.now.Add(24 * time.Hour),
	})
	verr, ok := apperr.AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, verr.Fields, "location_service_id")
}

func TestOverlappingBookingConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	first := f.create(t, start)
	_, err := f.svc.Submit(ctx, f.customer, first.ID)
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, f.customer, CreateInput{
		LocationID:        f.location.ID,
		LocationServiceID: f.bundle.ID,
		BookingDate:       start.Add(15 * time.Minute),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
	assert.ErrorIs(t, err, ErrSlotTaken)

	// back-to-back slots share an edge but do not overlap
	next := f.create(t, start.Add(30*time.Minute))
	assert.Equal(t, start.Add(time.Hour), next.TimeSlotEnd)
}

func TestCancelledBookingFreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	first := f.create(t, start)
	_, err := f.svc.Submit(ctx, f.customer, first.ID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, f.customer, first.ID, "plans changed")
	require.NoError(t, err)

	second := f.create(t, start)
	_, err = f.svc.Submit(ctx, f.customer, second.ID)
	assert.NoError(t, err)
}

func TestCancelWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.now.Add(3 * time.Hour)
	b := f.create(t, start)

	f.now = start.Add(-119 * time.Minute)
	_, err := f.svc.Cancel(ctx, f.customer, b.ID, "late")
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))

	f.now = start.Add(-150 * time.Minute)
	cancelled, err := f.svc.Cancel(ctx, f.customer, b.ID, "early")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, "early", cancelled.CancellationReason)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = f.svc.Cancel(ctx, f.customer, b.ID, "again")
	assert.True(t, apperr.IsConflict(err))
}

func TestCancelPaidBookingFlagsRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, f.now.Add(48*time.Hour))

	stored, err := f.store.Get(ctx, b.ID)
	require.NoError(t, err)
	stored.MarkPaid("RCP1", f.now)
	require.NoError(t, f.store.Update(ctx, stored))

	cancelled, err := f.svc.Cancel(ctx, f.customer, b.ID, "")
	require.NoError(t, err)
	assert.True(t, cancelled.RefundRequired)
	assert.Equal(t, PaymentRefundPending, cancelled.PaymentStatus)
}

func TestUpdateWindowAndReschedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.now.Add(5 * time.Hour)
	b := f.create(t, start)

	moved := start.Add(24 * time.Hour)
	updated, err := f.svc.Update(ctx, f.customer, b.ID, UpdateInput{BookingDate: &moved})
	require.NoError(t, err)
	assert.Equal(t, moved, updated.BookingDate)
	assert.Equal(t, moved.Add(30*time.Minute), updated.TimeSlotEnd)

	f.now = moved.Add(-3 * time.Hour)
	notes := "white probox"
	_, err = f.svc.Update(ctx, f.customer, b.ID, UpdateInput{VehicleNotes: &notes})
	assert.True(t, apperr.IsConflict(err))
}

func TestUpdateRejectsServiceChangeWhilePaying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, f.now.Add(48*time.Hour))

	_, err := f.svc.InitiatePayment(ctx, f.customer, b.ID, "")
	require.NoError(t, err)

	svc, err := f.catalog.CreateService(ctx, f.tenantID, catalog.ServiceInput{Name: "Engine Wash", PriceCents: 3000, DurationMinutes: 45})
	require.NoError(t, err)
	bundle, err := f.catalog.CreateLocationService(ctx, f.tenantID, catalog.LocationServiceInput{
		LocationID: f.location.ID, Name: "Engine", ServiceIDs: []uuid.UUID{svc.ID},
	})
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, f.customer, b.ID, UpdateInput{LocationServiceID: &bundle.ID})
	assert.True(t, apperr.IsConflict(err))
}

func TestInitiatePaymentNormalizesPhone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC))

	out, err := f.svc.InitiatePayment(ctx, f.customer, b.ID, "0712345678")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", out.CheckoutRequestID)
	assert.Equal(t, PaymentProcessing, out.PaymentStatus)

	require.Len(t, f.gateway.pushes, 1)
	push := f.gateway.pushes[0]
	assert.Equal(t, "254712345678", push.Phone)
	assert.Equal(t, int64(1000), push.AmountCents)
	assert.Equal(t, b.Reference, push.Reference)

	stored, err := f.store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, "ws_CO_1", stored.CheckoutRequestID)

	txn, err := f.payments.GetByCheckoutID(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, payments.StatusPending, txn.Status)
	assert.Equal(t, b.ID, txn.SubjectID)

	history, err := f.svc.History(ctx, f.customer, b.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, StatusPending, history[1].To)
}

func TestInitiatePaymentGatewayFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gateway.push = mpesa.PushResult{Success: false, Error: "Invalid Access Token"}
	b := f.create(t, f.now.Add(24*time.Hour))

	_, err := f.svc.InitiatePayment(ctx, f.customer, b.ID, "712345678")
	gw, ok := apperr.AsGateway(err)
	require.True(t, ok)
	assert.True(t, gw.Upstream)
	assert.Equal(t, "Invalid Access Token", gw.Msg)

	stored, err := f.store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentFailed, stored.PaymentStatus)
	assert.Equal(t, StatusDraft, stored.Status)

	txns, err := f.payments.ListForSubject(ctx, payments.SubjectBooking, b.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, payments.StatusFailed, txns[0].Status)
}

func TestInitiatePaymentRejectsBadPhone(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, f.now.Add(24*time.Hour))

	_, err := f.svc.InitiatePayment(context.Background(), f.customer, b.ID, "12345")
	assert.True(t, apperr.IsValidation(err))
	assert.Empty(t, f.gateway.pushes)
}

type denyVelocity struct{}

func (denyVelocity) CheckPush(context.Context, uuid.UUID, string) (*payments.VelocityResult, error) {
	return &payments.VelocityResult{Allowed: false, Message: "too many payment attempts"}, nil
}

func TestInitiatePaymentVelocityLimit(t *testing.T) {
	f := newFixture(t)
	f.svc.velocity = denyVelocity{}
	b := f.create(t, f.now.Add(24*time.Hour))

	_, err := f.svc.InitiatePayment(context.Background(), f.customer, b.ID, "0712345678")
	assert.True(t, apperr.IsConflict(err))
	assert.Empty(t, f.gateway.pushes)
}

func TestPaymentStatusAppliesFinalQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, f.now.Add(24*time.Hour))
	_, err := f.svc.InitiatePayment(ctx, f.customer, b.ID, "0712345678")
	require.NoError(t, err)

	f.gateway.query = mpesa.QueryResult{Success: true, Pending: true}
	state, err := f.svc.PaymentStatus(ctx, f.customer, b.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentProcessing, state.PaymentStatus)

	f.gateway.query = mpesa.QueryResult{Success: true, ResultCode: 0, ResultDesc: "The service request is processed successfully."}
	state, err = f.svc.PaymentStatus(ctx, f.customer, b.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, state.PaymentStatus)
	assert.Equal(t, StatusConfirmed, state.Status)
	assert.Equal(t, "QUERY123", state.MpesaReceipt)
}

func TestStaffTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	staff := f.staff()

	b, err := f.svc.Create(ctx, f.customer, CreateInput{
		LocationID:        f.location.ID,
		LocationServiceID: f.bundle.ID,
		BookingDate:       f.now.Add(24 * time.Hour),
		PaymentMethod:     MethodCash,
	})
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, staff, b.ID)
	assert.True(t, apperr.IsConflict(err), "draft cannot be confirmed")

	_, err = f.svc.Submit(ctx, f.customer, b.ID)
	require.NoError(t, err)
	confirmed, err := f.svc.Confirm(ctx, staff, b.ID)
	require.NoError(t, err)
	require.NotNil(t, confirmed.ConfirmedAt)

	_, err = f.svc.Start(ctx, staff, b.ID)
	require.NoError(t, err)
	done, err := f.svc.Complete(ctx, staff, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	_, err = f.svc.MarkNoShow(ctx, staff, b.ID, "")
	assert.True(t, apperr.IsConflict(err), "completed is terminal")
}

func TestConfirmRequiresPaymentForMpesa(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, f.now.Add(24*time.Hour))
	_, err := f.svc.Submit(ctx, f.customer, b.ID)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, f.staff(), b.ID)
	assert.True(t, apperr.IsConflict(err))
}

func TestAccessIsScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, f.now.Add(24*time.Hour))

	stranger := tenancy.Identity{Actor: tenancy.ActorCustomer, ActorID: uuid.New()}
	_, err := f.svc.Get(ctx, stranger, b.ID)
	assert.True(t, apperr.IsNotFound(err))

	otherTenant := tenancy.Identity{Actor: tenancy.ActorTenant, ActorID: uuid.New(), TenantID: uuid.New()}
	_, err = f.svc.Get(ctx, otherTenant, b.ID)
	assert.True(t, apperr.IsNotFound(err))

	otherSite := tenancy.Identity{Actor: tenancy.ActorStaff, ActorID: uuid.New(), TenantID: f.tenantID, LocationID: uuid.New()}
	_, err = f.svc.Get(ctx, otherSite, b.ID)
	assert.True(t, apperr.IsNotFound(err))

	owner := tenancy.Identity{Actor: tenancy.ActorTenant, ActorID: uuid.New(), TenantID: f.tenantID}
	list, err := f.svc.List(ctx, owner, Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	mine, err := f.svc.List(ctx, stranger, Filter{})
	require.NoError(t, err)
	assert.Empty(t, mine)

	_, err = f.svc.Confirm(ctx, f.customer, b.ID)
	assert.True(t, apperr.IsNotFound(err), "customers cannot run staff transitions")
}

func TestGetMarksOverdueBookings(t *testing.T) {
	f := newFixture(t)
	b := f.create(t, f.now.Add(time.Hour))

	f.now = f.now.Add(2 * time.Hour)
	got, err := f.svc.Get(context.Background(), f.customer, b.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOverdue)
}

func TestCancelRejectsInProgressBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	staff := f.staff()
	b, err := f.svc.Create(ctx, f.customer, CreateInput{
		LocationID:        f.location.ID,
		LocationServiceID: f.bundle.ID,
		BookingDate:       f.now.Add(24 * time.Hour),
		PaymentMethod:     MethodCash,
	})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, f.customer, b.ID)
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, staff, b.ID)
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, staff, b.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, staff, b.ID, "changed mind")
	assert.True(t, apperr.IsConflict(err))

	stored, err := f.store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, stored.Status)
	assert.Nil(t, stored.CancelledAt)
}

func TestInitiatePaymentRejectsWhilePromptOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, f.now.Add(24*time.Hour))

	_, err := f.svc.InitiatePayment(ctx, f.customer, b.ID, "0712345678")
	require.NoError(t, err)

	f.gateway.query = mpesa.QueryResult{Success: true, Pending: true}
	_, err = f.svc.InitiatePayment(ctx, f.customer, b.ID, "0712345678")
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, 1, f.gateway.pushCount())

	// once the open prompt settles as failed the customer may retry
	f.gateway.query = mpesa.QueryResult{Success: true, ResultCode: mpesa.ResultCancelledByUser, ResultDesc: "Request cancelled by user"}
	out, err := f.svc.InitiatePayment(ctx, f.customer, b.ID, "0712345678")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_2", out.CheckoutRequestID)
	assert.Equal(t, 2, f.gateway.pushCount())

	first, err := f.payments.GetByCheckoutID(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, payments.StatusFailed, first.Status)
}

func TestInitiatePaymentSettledByQueryIsAlreadyPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, f.now.Add(24*time.Hour))
	_, err := f.svc.InitiatePayment(ctx, f.customer, b.ID, "")
	require.NoError(t, err)

	f.gateway.query = mpesa.QueryResult{Success: true, ResultCode: mpesa.ResultSuccess}
	_, err = f.svc.InitiatePayment(ctx, f.customer, b.ID, "")
	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, 1, f.gateway.pushCount())

	stored, err := f.store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, stored.PaymentStatus)
}

func TestInitiatePaymentTransportFailureIsServerError(t *testing.T) {
	f := newFixture(t)
	f.gateway.push = mpesa.PushResult{Error: "Payment gateway timed out", Transport: true}
	b := f.create(t, f.now.Add(24*time.Hour))

	_, err := f.svc.InitiatePayment(context.Background(), f.customer, b.ID, "0712345678")
	gw, ok := apperr.AsGateway(err)
	require.True(t, ok)
	assert.False(t, gw.Upstream)
}

type failingUpdates struct {
	*MemoryStore
	fail bool
}

func (s *failingUpdates) Update(ctx context.Context, b *Booking) error {
	if s.fail {
		return errors.New("db down")
	}
	return s.MemoryStore.Update(ctx, b)
}

func TestInitiatePaymentKeepsLedgerWhenBookingUpdateFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, f.now.Add(24*time.Hour))

	store := &failingUpdates{MemoryStore: f.store, fail: true}
	svc := NewService(Deps{
		Store:    store,
		Tx:       database.NewMemoryRunner(),
		Catalog:  f.catalog,
		Gateway:  f.gateway,
		Payments: f.payments,
		Logger:   logging.Discard(),
		Now:      func() time.Time { return f.now },
	})

	_, err := svc.InitiatePayment(ctx, f.customer, b.ID, "0712345678")
	require.Error(t, err)
	assert.Equal(t, 1, f.gateway.pushCount())

	// the accepted push stays correlatable for the callback
	txn, err := f.payments.GetByCheckoutID(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, payments.StatusPending, txn.Status)
	assert.Equal(t, b.ID, txn.SubjectID)
	assert.Equal(t, "254712345678", txn.Phone)
}
