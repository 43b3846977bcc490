package walkin

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
	"github.com/wolfman30/carwash-platform/internal/payments"
	"github.com/wolfman30/carwash-platform/internal/tenancy"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

var tracer = otel.Tracer("carwash.internal.walkin")

type Catalog interface {
	Location(ctx context.Context, id uuid.UUID) (*catalog.Location, error)
	LocationService(ctx context.Context, id uuid.UUID) (*catalog.LocationService, error)
}

// StaffDirectory confirms that a staff member is active, belongs to the tenant
// and may work at the location.
type StaffDirectory interface {
	CheckAssignable(ctx context.Context, tenantID, locationID, staffID uuid.UUID) error
}

type Velocity interface {
	CheckPush(ctx context.Context, tenantID uuid.UUID, phone string) (*payments.VelocityResult, error)
}

type ResultApplier interface {
	ApplyQueryResult(ctx context.Context, kind payments.SubjectKind, checkoutRequestID string, res mpesa.QueryResult) error
}

type Deps struct {
	Store       Store
	Tx          database.TxRunner
	Catalog     Catalog
	Staff       StaffDirectory
	Gateway     mpesa.Gateway
	Payments    payments.Store
	Velocity    Velocity
	Applier     ResultApplier
	Logger      *logging.Logger
	CallbackURL string
	Now         func() time.Time
}

type Service struct {
	store       Store
	tx          database.TxRunner
	catalog     Catalog
	staff       StaffDirectory
	gateway     mpesa.Gateway
	payments    payments.Store
	velocity    Velocity
	applier     ResultApplier
	logger      *logging.Logger
	callbackURL string
	now         func() time.Time
}

func NewService(d Deps) *Service {
	if d.Store == nil || d.Tx == nil || d.Catalog == nil {
		panic("walkin: store, tx runner and catalog required")
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
		staff:       d.Staff,
		gateway:     d.Gateway,
		payments:    d.Payments,
		velocity:    d.Velocity,
		applier:     d.Applier,
		logger:      d.Logger,
		callbackURL: d.CallbackURL,
		now:         d.Now,
	}
}

type RegisterInput struct {
	LocationID         uuid.UUID  `json:"location_id" validate:"required"`
	LocationServiceID  uuid.UUID  `json:"location_service_id" validate:"required"`
	Name               string     `json:"name" validate:"required,max=120"`
	Phone              string     `json:"phone" validate:"max=20"`
	VehiclePlate       string     `json:"vehicle_plate" validate:"max=20"`
	VehicleDescription string     `json:"vehicle_description" validate:"max=255"`
	AssignedStaffID    *uuid.UUID `json:"assigned_staff_id"`
	Notes              string     `json:"notes" validate:"max=1000"`
}

type AddTaskInput struct {
	LocationServiceID uuid.UUID  `json:"location_service_id" validate:"required"`
	AssignedStaffID   *uuid.UUID `json:"assigned_staff_id"`
	Notes             string     `json:"notes" validate:"max=1000"`
}

type TaskPatch struct {
	Status          *TaskStatus `json:"status"`
	Progress        *int        `json:"progress" validate:"omitempty,min=0,max=100"`
	QualityRating   *int        `json:"quality_rating" validate:"omitempty,min=1,max=5"`
	Notes           *string     `json:"notes" validate:"omitempty,max=1000"`
	AssignedStaffID *uuid.UUID  `json:"assigned_staff_id"`
}

func (p TaskPatch) validate() error {
	v := &apperr.ValidationError{}
	if p.Progress != nil && (*p.Progress < 0 || *p.Progress > 100) {
		v.Add("progress", "must be between 0 and 100")
	}
	if p.QualityRating != nil && (*p.QualityRating < 1 || *p.QualityRating > 5) {
		v.Add("quality_rating", "must be between 1 and 5")
	}
	return v.OrNil()
}

func requireStaff(actor tenancy.Identity) error {
	if (actor.Actor == tenancy.ActorStaff || actor.Actor == tenancy.ActorTenant) && actor.TenantID != uuid.Nil {
		return nil
	}
	return apperr.NotFound("walk-in customer")
}

func visible(actor tenancy.Identity, tenantID, locationID uuid.UUID) bool {
	if actor.Actor == tenancy.ActorSystem {
		return true
	}
	if tenantID != actor.TenantID {
		return false
	}
	return actor.Actor != tenancy.ActorStaff || actor.LocationID == uuid.Nil || actor.LocationID == locationID
}

func translate(resource string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound(resource)
	case errors.Is(err, ErrInvalidTransition):
		return apperr.ConflictError{Resource: resource, Msg: err.Error(), Err: err}
	default:
		return err
	}
}

func (s *Service) checkStaff(ctx context.Context, tenantID, locationID uuid.UUID, staffID *uuid.UUID) error {
	if staffID == nil || *staffID == uuid.Nil {
		return nil
	}
	if s.staff == nil {
		return apperr.Invalid("assigned_staff_id", "staff assignment is not available")
	}
	if err := s.staff.CheckAssignable(ctx, tenantID, locationID, *staffID); err != nil {
		if apperr.IsNotFound(err) {
			return apperr.Invalid("assigned_staff_id", "staff member not found or inactive")
		}
		return err
	}
	return nil
}

// bundleAt loads a location service and checks it is sold at locationID.
func (s *Service) bundleAt(ctx context.Context, locationID, bundleID uuid.UUID) (*catalog.LocationService, error) {
	bundle, err := s.catalog.LocationService(ctx, bundleID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.Invalid("location_service_id", "location service not found")
		}
		return nil, err
	}
	if bundle.LocationID != locationID {
		return nil, apperr.Invalid("location_service_id", "service is not offered at this location")
	}
	if !bundle.IsActive {
		return nil, apperr.Invalid("location_service_id", "service is not available")
	}
	return bundle, nil
}

// RegisterCustomer records a walk-in and its primary task in one transaction.
func (s *Service) RegisterCustomer(ctx context.Context, actor tenancy.Identity, in RegisterInput) (*Detail, error) {
	ctx, span := tracer.Start(ctx, "walkin.register")
	defer span.End()
	span.SetAttributes(attribute.String("carwash.location_id", in.LocationID.String()))

	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	loc, err := s.catalog.Location(ctx, in.LocationID)
	if err != nil || !visible(actor, loc.TenantID, loc.ID) {
		if err == nil || apperr.IsNotFound(err) {
			return nil, apperr.Invalid("location_id", "location not found")
		}
		return nil, err
	}
	bundle, err := s.bundleAt(ctx, loc.ID, in.LocationServiceID)
	if err != nil {
		return nil, err
	}
	if err := s.checkStaff(ctx, actor.TenantID, loc.ID, in.AssignedStaffID); err != nil {
		return nil, err
	}
	phone := strings.TrimSpace(in.Phone)
	if phone != "" {
		if phone, err = mpesa.NormalizePhone(phone); err != nil {
			return nil, apperr.Invalid("phone", "invalid phone number format")
		}
	}

	now := s.now()
	createdBy := actor.ActorID
	customer := &Customer{
		ID:                 uuid.New(),
		TenantID:           loc.TenantID,
		LocationID:         loc.ID,
		Name:               strings.TrimSpace(in.Name),
		Phone:              phone,
		VehiclePlate:       strings.ToUpper(strings.TrimSpace(in.VehiclePlate)),
		VehicleDescription: strings.TrimSpace(in.VehicleDescription),
		LocationServiceID:  bundle.ID,
		AmountCents:        bundle.PriceCents,
		AssignedStaffID:    in.AssignedStaffID,
		Status:             Project(TaskPending),
		ArrivedAt:          now,
		CreatedBy:          &createdBy,
	}
	task := &Task{
		ID:                uuid.New(),
		TenantID:          customer.TenantID,
		LocationID:        customer.LocationID,
		CustomerID:        customer.ID,
		LocationServiceID: bundle.ID,
		AssignedStaffID:   in.AssignedStaffID,
		IsPrimary:         true,
		Status:            TaskPending,
		Notes:             strings.TrimSpace(in.Notes),
		EstimatedMinutes:  bundle.DurationMinutes,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertCustomer(ctx, customer); err != nil {
			return err
		}
		return s.store.InsertTask(ctx, task)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "register failed")
		return nil, fmt.Errorf("walkin: register: %w", err)
	}
	s.logger.Info("walk-in registered", "walkin_customer_id", customer.ID, "location_id", loc.ID)
	return &Detail{Customer: *customer, Tasks: []Task{*task}, Payments: []Payment{}}, nil
}

func (s *Service) loadCustomer(ctx context.Context, actor tenancy.Identity, id uuid.UUID) (*Customer, error) {
	c, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		return nil, translate("walk-in customer", err)
	}
	if !visible(actor, c.TenantID, c.LocationID) {
		return nil, apperr.NotFound("walk-in customer")
	}
	return c, nil
}

func (s *Service) loadTask(ctx context.Context, actor tenancy.Identity, id uuid.UUID) (*Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, translate("task", err)
	}
	if !visible(actor, t.TenantID, t.LocationID) {
		return nil, apperr.NotFound("task")
	}
	return t, nil
}

// GetCustomer returns a walk-in with its tasks and payments.
func (s *Service) GetCustomer(ctx context.Context, actor tenancy.Identity, id uuid.UUID) (*Detail, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	c, err := s.loadCustomer(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, TaskFilter{TenantID: c.TenantID, CustomerID: c.ID})
	if err != nil {
		return nil, err
	}
	pays, err := s.store.ListPayments(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []Task{}
	}
	if pays == nil {
		pays = []Payment{}
	}
	return &Detail{Customer: *c, Tasks: tasks, Payments: pays}, nil
}

func (s *Service) ListCustomers(ctx context.Context, actor tenancy.Identity, f CustomerFilter) ([]Customer, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	f.TenantID = actor.TenantID
	if actor.Actor == tenancy.ActorStaff && actor.LocationID != uuid.Nil {
		f.LocationID = actor.LocationID
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 200
	}
	return s.store.ListCustomers(ctx, f)
}

// ListTasks returns tasks in scope. Mine narrows to the caller's own queue.
func (s *Service) ListTasks(ctx context.Context, actor tenancy.Identity, f TaskFilter, mine bool) ([]Task, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	f.TenantID = actor.TenantID
	if actor.Actor == tenancy.ActorStaff {
		if actor.LocationID != uuid.Nil {
			f.LocationID = actor.LocationID
		}
		if mine {
			f.StaffID = actor.ActorID
		}
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 200
	}
	return s.store.ListTasks(ctx, f)
}

// applyTask writes a task and, for the primary task, re-projects the customer.
func (s *Service) applyTask(ctx context.Context, t *Task, assignmentChanged bool) error {
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return translate("task", err)
	}
	if !t.IsPrimary {
		return nil
	}
	c, err := s.store.GetCustomer(ctx, t.CustomerID)
	if err != nil {
		return translate("walk-in customer", err)
	}
	c.Status = Project(t.Status)
	if assignmentChanged {
		c.AssignedStaffID = t.AssignedStaffID
	}
	return s.store.UpdateCustomer(ctx, c)
}

// TransitionTask moves a task through its state machine.
func (s *Service) TransitionTask(ctx context.Context, actor tenancy.Identity, taskID uuid.UUID, to TaskStatus) (*Task, error) {
	return s.UpdateTask(ctx, actor, taskID, TaskPatch{Status: &to})
}

// UpdateTask applies a status change, progress, rating, notes or reassignment.
func (s *Service) UpdateTask(ctx context.Context, actor tenancy.Identity, taskID uuid.UUID, patch TaskPatch) (*Task, error) {
	ctx, span := tracer.Start(ctx, "walkin.update_task")
	defer span.End()
	span.SetAttributes(attribute.String("carwash.task_id", taskID.String()))

	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if err := patch.validate(); err != nil {
		return nil, err
	}
	var out *Task
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		t, err := s.loadTask(ctx, actor, taskID)
		if err != nil {
			return err
		}
		if patch.Status != nil {
			if !patch.Status.Valid() {
				return apperr.Invalid("status", "unknown task status")
			}
			if *patch.Status != t.Status {
				if err := t.Transition(*patch.Status, s.now()); err != nil {
					return translate("task", err)
				}
			}
		}
		if patch.Progress != nil {
			if t.Status.Terminal() && *patch.Progress != t.Progress {
				return apperr.Conflict("task", fmt.Sprintf("cannot change progress of a %s task", t.Status))
			}
			t.Progress = *patch.Progress
		}
		if patch.QualityRating != nil {
			rating := *patch.QualityRating
			t.QualityRating = &rating
		}
		if patch.Notes != nil {
			t.Notes = strings.TrimSpace(*patch.Notes)
		}
		reassigned := false
		if patch.AssignedStaffID != nil {
			if err := s.checkStaff(ctx, t.TenantID, t.LocationID, patch.AssignedStaffID); err != nil {
				return err
			}
			staffID := *patch.AssignedStaffID
			t.AssignedStaffID = &staffID
			if staffID == uuid.Nil {
				t.AssignedStaffID = nil
			}
			reassigned = true
		}
		if err := s.applyTask(ctx, t, reassigned); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetCustomerStatus translates a customer-level status change into a
// transition of the primary task.
func (s *Service) SetCustomerStatus(ctx context.Context, actor tenancy.Identity, customerID uuid.UUID, want CustomerStatus) (*Detail, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if !want.Valid() {
		return nil, apperr.Invalid("status", "unknown walk-in status")
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.loadCustomer(ctx, actor, customerID)
		if err != nil {
			return err
		}
		t, err := s.store.PrimaryTask(ctx, c.ID)
		if err != nil {
			return translate("task", err)
		}
		if Project(t.Status) == want {
			return nil
		}
		to, err := TaskTargetFor(t.Status, want)
		if err != nil {
			return translate("walk-in customer", err)
		}
		if err := t.Transition(to, s.now()); err != nil {
			return translate("task", err)
		}
		return s.applyTask(ctx, t, false)
	})
	if err != nil {
		return nil, err
	}
	return s.GetCustomer(ctx, actor, customerID)
}

// AddTask attaches an extra service to a walk-in customer.
func (s *Service) AddTask(ctx context.Context, actor tenancy.Identity, customerID uuid.UUID, in AddTaskInput) (*Task, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	var out *Task
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.loadCustomer(ctx, actor, customerID)
		if err != nil {
			return err
		}
		if c.Status == CustomerCompleted || c.Status == CustomerCancelled {
			return apperr.Conflict("walk-in customer", fmt.Sprintf("cannot add tasks to a %s walk-in", c.Status))
		}
		bundle, err := s.bundleAt(ctx, c.LocationID, in.LocationServiceID)
		if err != nil {
			return err
		}
		if err := s.checkStaff(ctx, c.TenantID, c.LocationID, in.AssignedStaffID); err != nil {
			return err
		}
		t := &Task{
			ID:                uuid.New(),
			TenantID:          c.TenantID,
			LocationID:        c.LocationID,
			CustomerID:        c.ID,
			LocationServiceID: bundle.ID,
			AssignedStaffID:   in.AssignedStaffID,
			Status:            TaskPending,
			Notes:             strings.TrimSpace(in.Notes),
			EstimatedMinutes:  bundle.DurationMinutes,
		}
		if err := s.store.InsertTask(ctx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
