package walkin

import (
	"context"
	"errors"
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

type member struct {
	tenantID   uuid.UUID
	locationID uuid.UUID // uuid.Nil works anywhere
}

type staffSet map[uuid.UUID]member

func (s staffSet) CheckAssignable(_ context.Context, tenantID, locationID, staffID uuid.UUID) error {
	m, ok := s[staffID]
	if !ok || m.tenantID != tenantID {
		return apperr.NotFound("staff")
	}
	if m.locationID != uuid.Nil && m.locationID != locationID {
		return apperr.Invalid("assigned_staff_id", "staff member works at another location")
	}
	return nil
}

type stubGateway struct {
	push  mpesa.PushResult
	query mpesa.QueryResult
	sent  []mpesa.PushRequest
}

func (g *stubGateway) STKPush(_ context.Context, req mpesa.PushRequest) mpesa.PushResult {
	g.sent = append(g.sent, req)
	return g.push
}

func (g *stubGateway) QueryStatus(context.Context, string) mpesa.QueryResult { return g.query }

// ledgerApplier settles a walk-in payment and its ledger row from a query.
type ledgerApplier struct {
	store    Store
	payments payments.Store
}

func (a ledgerApplier) ApplyQueryResult(ctx context.Context, _ payments.SubjectKind, checkoutID string, res mpesa.QueryResult) error {
	txn, err := a.payments.GetByCheckoutID(ctx, checkoutID)
	if err != nil {
		return err
	}
	p, err := a.store.GetPayment(ctx, txn.SubjectID)
	if err != nil {
		return err
	}
	status := payments.StatusSuccessful
	if res.ResultCode == mpesa.ResultSuccess {
		p.MarkPaid("QWALK1", time.Now().UTC())
	} else {
		status = payments.StatusCancelled
		p.MarkFailed(PaymentCancelled, res.ResultDesc, time.Now().UTC())
	}
	if err := a.store.UpdatePayment(ctx, p); err != nil {
		return err
	}
	return a.payments.Complete(ctx, txn.ID, payments.Completion{
		Status:      status,
		ResultCode:  res.ResultCode,
		ResultDesc:  res.ResultDesc,
		CompletedAt: time.Now().UTC(),
	})
}

type walkinFixture struct {
	svc      *Service
	store    *MemoryStore
	payments *payments.MemoryStore
	gateway  *stubGateway
	staff    staffSet
	tenantID uuid.UUID
	location *catalog.Location
	bundle   *catalog.LocationService
	actor    tenancy.Identity
	washerID uuid.UUID
	now      time.Time
}

func newWalkinFixture(t *testing.T) *walkinFixture {
	t.Helper()
	ctx := context.Background()
	cat := catalog.NewManager(catalog.NewMemoryStore(), database.NewMemoryRunner(), logging.Discard())
	tenantID := uuid.New()
	loc, err := cat.CreateLocation(ctx, tenantID, catalog.LocationInput{Name: "Ngong Road", ContactNumber: "+254722000000"})
	require.NoError(t, err)
	svc, err := cat.CreateService(ctx, tenantID, catalog.ServiceInput{Name: "Body Wash", PriceCents: 50000, DurationMinutes: 25})
	require.NoError(t, err)
	bundle, err := cat.CreateLocationService(ctx, tenantID, catalog.LocationServiceInput{
		LocationID: loc.ID, Name: "Body Wash", ServiceIDs: []uuid.UUID{svc.ID},
	})
	require.NoError(t, err)

	f := &walkinFixture{
		store:    NewMemoryStore(),
		payments: payments.NewMemoryStore(),
		gateway:  &stubGateway{push: mpesa.PushResult{Success: true, CheckoutRequestID: "ws_CO_W1", MerchantRequestID: "mr-w1"}},
		staff:    staffSet{},
		tenantID: tenantID,
		location: loc,
		bundle:   bundle,
		washerID: uuid.New(),
		now:      time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
	}
	f.staff[f.washerID] = member{tenantID: tenantID, locationID: loc.ID}
	f.actor = tenancy.Identity{Actor: tenancy.ActorStaff, ActorID: f.washerID, TenantID: tenantID}
	f.svc = NewService(Deps{
		Store:    f.store,
		Tx:       database.NewMemoryRunner(),
		Catalog:  cat,
		Staff:    f.staff,
		Gateway:  f.gateway,
		Payments: f.payments,
		Applier:  ledgerApplier{store: f.store, payments: f.payments},
		Logger:   logging.Discard(),
		Now:      func() time.Time { return f.now },
	})
	return f
}

func (f *walkinFixture) register(t *testing.T) *Detail {
	t.Helper()
	d, err := f.svc.RegisterCustomer(context.Background(), f.actor, RegisterInput{
		LocationID:        f.location.ID,
		LocationServiceID: f.bundle.ID,
		Name:              "Otieno",
		Phone:             "0722123456",
		VehiclePlate:      "kdd 123a",
		AssignedStaffID:   &f.washerID,
	})
	require.NoError(t, err)
	return d
}

func TestRegisterCreatesPrimaryTask(t *testing.T) {
	f := newWalkinFixture(t)
	d := f.register(t)

	assert.Equal(t, CustomerWaiting, d.Status)
	assert.Equal(t, int64(50000), d.AmountCents)
	assert.Equal(t, "254722123456", d.Phone)
	assert.Equal(t, "KDD 123A", d.VehiclePlate)
	require.Len(t, d.Tasks, 1)
	assert.True(t, d.Tasks[0].IsPrimary)
	assert.Equal(t, TaskPending, d.Tasks[0].Status)
	assert.Equal(t, 25, d.Tasks[0].EstimatedMinutes)
}

func TestRegisterValidatesOwnership(t *testing.T) {
	f := newWalkinFixture(t)
	ctx := context.Background()

	stranger := uuid.New()
	_, err := f.svc.RegisterCustomer(ctx, f.actor, RegisterInput{
		LocationID: f.location.ID, LocationServiceID: f.bundle.ID, Name: "A", AssignedStaffID: &stranger,
	})
	verr, ok := apperr.AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, verr.Fields, "assigned_staff_id")

	otherTenant := tenancy.Identity{Actor: tenancy.ActorTenant, ActorID: uuid.New(), TenantID: uuid.New()}
	_, err = f.svc.RegisterCustomer(ctx, otherTenant, RegisterInput{
		LocationID: f.location.ID, LocationServiceID: f.bundle.ID, Name: "A",
	})
	verr, ok = apperr.AsValidation(err)
	require.True(t, ok)
	assert.Contains(t, verr.Fields, "location_id")

	_, err = f.svc.RegisterCustomer(ctx, tenancy.Identity{Actor: tenancy.ActorCustomer, ActorID: uuid.New()}, RegisterInput{})
	assert.True(t, apperr.IsNotFound(err))
}

func TestPrimaryTaskDrivesCustomerStatus(t *testing.T) {
	f := newWalkinFixture(t)
	ctx := context.Background()
	d := f.register(t)
	taskID := d.Tasks[0].ID

	task, err := f.svc.TransitionTask(ctx, f.actor, taskID, TaskInProgress)
	require.NoError(t, err)
	require.NotNil(t, task.StartedAt)
	c, err := f.store.GetCustomer(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, CustomerInService, c.Status)

	f.now = f.now.Add(30 * time.Minute)
	task, err = f.svc.TransitionTask(ctx, f.actor, taskID, TaskCompleted)
	require.NoError(t, err)
	assert.Equal(t, 100, task.Progress)
	assert.Equal(t, 30, *task.ActualDurationMinutes)
	c, err = f.store.GetCustomer(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, CustomerCompleted, c.Status)

	_, err = f.svc.TransitionTask(ctx, f.actor, taskID, TaskInProgress)
	assert.True(t, apperr.IsConflict(err))
}

func TestSetCustomerStatusMovesPrimaryTask(t *testing.T) {
	f := newWalkinFixture(t)
	ctx := context.Background()
	d := f.register(t)

	out, err := f.svc.SetCustomerStatus(ctx, f.actor, d.ID, CustomerInService)
	require.NoError(t, err)
	assert.Equal(t, CustomerInService, out.Status)
	assert.Equal(t, TaskInProgress, out.Tasks[0].Status)

	out, err = f.svc.SetCustomerStatus(ctx, f.actor, d.ID, CustomerWaiting)
	require.NoError(t, err)
	assert.Equal(t, TaskOnHold, out.Tasks[0].Status)

	_, err = f.svc.SetCustomerStatus(ctx, f.actor, d.ID, CustomerCompleted)
	assert.True(t, apperr.IsConflict(err))
}

func TestUpdateTaskValidatesAndMirrorsAssignment(t *testing.T) {
	f := newWalkinFixture(t)
	ctx := context.Background()
	d := f.register(t)
	taskID := d.Tasks[0].ID

	other := uuid.New()
	f.staff[other] = member{tenantID: f.tenantID}
	progress, rating := 40, 5
	task, err := f.svc.UpdateTask(ctx, f.actor, taskID, TaskPatch{Progress: &progress, QualityRating: &rating, AssignedStaffID: &other})
	require.NoError(t, err)
	assert.Equal(t, 40, task.Progress)
	assert.Equal(t, other, *task.AssignedStaffID)

	c, err := f.store.GetCustomer(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, c.AssignedStaffID)
	assert.Equal(t, other, *c.AssignedStaffID)

	foreign := uuid.New()
	f.staff[foreign] = member{tenantID: uuid.New()}
	_, err = f.svc.UpdateTask(ctx, f.actor, taskID, TaskPatch{AssignedStaffID: &foreign})
	assert.True(t, apperr.IsValidation(err))

	branch := uuid.New()
	f.staff[branch] = member{tenantID: f.tenantID, locationID: uuid.New()}
	_, err = f.svc.UpdateTask(ctx, f.actor, taskID, TaskPatch{AssignedStaffID: &branch})
	assert.True(t, apperr.IsValidation(err), "staff from another location")

	for _, patch := range []TaskPatch{
		{Progress: intPtr(101)},
		{Progress: intPtr(-1)},
		{QualityRating: intPtr(0)},
		{QualityRating: intPtr(6)},
	} {
		_, err = f.svc.UpdateTask(ctx, f.actor, taskID, patch)
		assert.True(t, apperr.IsValidation(err))
	}
	stored, err := f.store.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, 40, stored.Progress)
	require.NotNil(t, stored.QualityRating)
	assert.Equal(t, 5, *stored.QualityRating)
	assert.Equal(t, other, *stored.AssignedStaffID)
}

func intPtr(v int) *int { return &v }

func TestRegisterRejectsStaffFromAnotherLocation(t *testing.T) {
	f := newWalkinFixture(t)
	branch := uuid.New()
	f.staff[branch] = member{tenantID: f.tenantID, locationID: uuid.New()}

	_, err := f.svc.RegisterCustomer(context.Background(), f.actor, RegisterInput{
		LocationID:        f.location.ID,
		LocationServiceID: f.bundle.ID,
		Name:              "Kamau",
		AssignedStaffID:   &branch,
	})
	assert.True(t, apperr.IsValidation(err))
}

func TestAddTaskAndQueue(t *testing.T) {
	f := newWalkinFixture(t)
	ctx := context.Background()
	d := f.register(t)

	extra, err := f.svc.AddTask(ctx, f.actor, d.ID, AddTaskInput{LocationServiceID: f.bundle.ID, AssignedStaffID: &f.washerID})
	require.NoError(t, err)
	assert.False(t, extra.IsPrimary)

	mine, err := f.svc.ListTasks(ctx, f.actor, TaskFilter{}, true)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	someoneElse := tenancy.Identity{Actor: tenancy.ActorStaff, ActorID: uuid.New(), TenantID: f.tenantID}
	theirs, err := f.svc.ListTasks(ctx, someoneElse, TaskFilter{}, true)
	require.NoError(t, err)
	assert.Empty(t, theirs)

	// extra tasks never touch the customer projection
	_, err = f.svc.TransitionTask(ctx, f.actor, extra.ID, TaskInProgress)
	require.NoError(t, err)
	c, err := f.store.GetCustomer(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, CustomerWaiting, c.Status)
}

func TestCashPayment(t *testing.T) {
	f := newWalkinFixture(t)
	ctx := context.Background()
	d := f.register(t)

	p, err := f.svc.RecordCashPayment(ctx, f.actor, d.ID, CashInput{})
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, p.Status)
	assert.Equal(t, MethodCash, p.Method)
	assert.Equal(t, int64(50000), p.AmountCents)
	require.NotNil(t, p.PaidAt)

	_, err = f.svc.RecordCashPayment(ctx, f.actor, d.ID, CashInput{})
	assert.True(t, apperr.IsConflict(err))
	_, err = f.svc.InitiateMpesaPayment(ctx, f.actor, d.ID, MpesaInput{})
	assert.True(t, apperr.IsConflict(err))
}

func TestMpesaPayment(t *testing.T) {
	f := newWalkinFixture(t)
	ctx := context.Background()
	d := f.register(t)

	p, err := f.svc.InitiateMpesaPayment(ctx, f.actor, d.ID, MpesaInput{})
	require.NoError(t, err)
	assert.Equal(t, PaymentProcessing, p.Status)
	assert.Equal(t, "ws_CO_W1", p.CheckoutRequestID)
	require.Len(t, f.gateway.sent, 1)
	assert.Equal(t, "254722123456", f.gateway.sent[0].Phone)
	assert.Equal(t, "KDD123A", f.gateway.sent[0].Reference)

	txn, err := f.payments.GetByCheckoutID(ctx, "ws_CO_W1")
	require.NoError(t, err)
	assert.Equal(t, payments.SubjectWalkIn, txn.SubjectKind)
	assert.Equal(t, p.ID, txn.SubjectID)

	f.gateway.push = mpesa.PushResult{Error: "Invalid Access Token"}
	_, err = f.svc.InitiateMpesaPayment(ctx, f.actor, d.ID, MpesaInput{PhoneNumber: "0722123456"})
	assert.True(t, apperr.IsConflict(err), "first prompt is still open")
	require.Len(t, f.gateway.sent, 1)

	f.gateway.query = mpesa.QueryResult{Success: true, ResultCode: mpesa.ResultCancelledByUser, ResultDesc: "Request cancelled by user"}
	_, err = f.svc.InitiateMpesaPayment(ctx, f.actor, d.ID, MpesaInput{PhoneNumber: "0722123456"})
	gw, ok := apperr.AsGateway(err)
	require.True(t, ok)
	assert.True(t, gw.Upstream)
	assert.Equal(t, "Invalid Access Token", gw.Msg)
	require.Len(t, f.gateway.sent, 2)

	detail, err := f.svc.GetCustomer(ctx, f.actor, d.ID)
	require.NoError(t, err)
	require.Len(t, detail.Payments, 2)
	for _, pay := range detail.Payments {
		assert.False(t, pay.Status.Settled())
		assert.NotEqual(t, PaymentProcessing, pay.Status)
	}
}

func TestMpesaPaymentSettledByQueryBlocksCash(t *testing.T) {
	f := newWalkinFixture(t)
	ctx := context.Background()
	d := f.register(t)

	p, err := f.svc.InitiateMpesaPayment(ctx, f.actor, d.ID, MpesaInput{})
	require.NoError(t, err)

	_, err = f.svc.RecordCashPayment(ctx, f.actor, d.ID, CashInput{})
	assert.True(t, apperr.IsConflict(err), "cash while the prompt is open")

	f.gateway.query = mpesa.QueryResult{Success: true, ResultCode: mpesa.ResultSuccess}
	_, err = f.svc.InitiateMpesaPayment(ctx, f.actor, d.ID, MpesaInput{})
	assert.True(t, apperr.IsConflict(err))
	require.Len(t, f.gateway.sent, 1)

	stored, err := f.store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, stored.Status)
	assert.Equal(t, "QWALK1", stored.MpesaReceipt)
}

func TestMpesaPaymentTransportFailure(t *testing.T) {
	f := newWalkinFixture(t)
	ctx := context.Background()
	d := f.register(t)
	f.gateway.push = mpesa.PushResult{Error: "Payment gateway timed out", Transport: true}

	_, err := f.svc.InitiateMpesaPayment(ctx, f.actor, d.ID, MpesaInput{})
	gw, ok := apperr.AsGateway(err)
	require.True(t, ok)
	assert.False(t, gw.Upstream)

	detail, err := f.svc.GetCustomer(ctx, f.actor, d.ID)
	require.NoError(t, err)
	require.Len(t, detail.Payments, 1)
	assert.Equal(t, PaymentFailed, detail.Payments[0].Status)

	txns, err := f.payments.ListForSubject(ctx, payments.SubjectWalkIn, detail.Payments[0].ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, payments.StatusFailed, txns[0].Status)
}

type brokenPaymentUpdates struct {
	*MemoryStore
}

func (brokenPaymentUpdates) UpdatePayment(context.Context, *Payment) error {
	return errors.New("db down")
}

func TestMpesaPaymentKeepsLedgerWhenPaymentUpdateFails(t *testing.T) {
	f := newWalkinFixture(t)
	ctx := context.Background()
	d := f.register(t)
	svc := NewService(Deps{
		Store:    brokenPaymentUpdates{MemoryStore: f.store},
		Tx:       database.NewMemoryRunner(),
		Catalog:  catalog.NewManager(catalog.NewMemoryStore(), database.NewMemoryRunner(), logging.Discard()),
		Staff:    f.staff,
		Gateway:  f.gateway,
		Payments: f.payments,
		Logger:   logging.Discard(),
		Now:      func() time.Time { return f.now },
	})

	_, err := svc.InitiateMpesaPayment(ctx, f.actor, d.ID, MpesaInput{})
	require.Error(t, err)

	txn, err := f.payments.GetByCheckoutID(ctx, "ws_CO_W1")
	require.NoError(t, err)
	assert.Equal(t, payments.StatusPending, txn.Status)
	p, err := f.store.GetPayment(ctx, txn.SubjectID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, p.CustomerID)
}
