package staff

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/carwash-platform/internal/apperr"
	"github.com/wolfman30/carwash-platform/internal/auth"
	"github.com/wolfman30/carwash-platform/internal/catalog"
	"github.com/wolfman30/carwash-platform/internal/mpesa"
	"github.com/wolfman30/carwash-platform/internal/tenancy"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

var tracer = otel.Tracer("carwash.internal.staff")

type RoleInput struct {
	Name               string `json:"name" validate:"required,max=120"`
	MonthlySalaryCents int64  `json:"monthly_salary_cents" validate:"gte=0"`
}

type RolePatch struct {
	Name               *string `json:"name" validate:"omitempty,min=1,max=120"`
	MonthlySalaryCents *int64  `json:"monthly_salary_cents" validate:"omitempty,gte=0"`
}

type EmployeeInput struct {
	FullName   string     `json:"full_name" validate:"required,max=120"`
	Email      string     `json:"email" validate:"required,email,max=254"`
	Phone      string     `json:"phone" validate:"max=20"`
	Password   string     `json:"password" validate:"required,min=8,max=72"`
	RoleID     uuid.UUID  `json:"role_id" validate:"required"`
	LocationID *uuid.UUID `json:"location_id"`
}

type EmployeePatch struct {
	FullName   *string    `json:"full_name" validate:"omitempty,min=1,max=120"`
	Phone      *string    `json:"phone" validate:"omitempty,max=20"`
	Password   *string    `json:"password" validate:"omitempty,min=8,max=72"`
	RoleID     *uuid.UUID `json:"role_id"`
	LocationID *uuid.UUID `json:"location_id"`
	IsActive   *bool      `json:"is_active"`
}

// Session is the staff login response.
type Session struct {
	Token   auth.Token `json:"token"`
	Profile *Profile   `json:"profile"`
}

// Me is the signed-in staff member with their role.
type Me struct {
	Profile
	Role *Role `json:"role,omitempty"`
}

// Locations resolves a location without tenant scoping.
type Locations interface {
	Location(ctx context.Context, id uuid.UUID) (*catalog.Location, error)
}

type Service struct {
	store     Store
	locations Locations
	issuer    *auth.Issuer
	logger    *logging.Logger
}

func NewService(store Store, locations Locations, issuer *auth.Issuer, logger *logging.Logger) *Service {
	if store == nil {
		panic("staff: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, locations: locations, issuer: issuer, logger: logger}
}

func translate(resource string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return apperr.NotFoundError{Resource: resource, Err: err}
	case errors.Is(err, ErrDuplicate):
		return apperr.ConflictError{Resource: resource, Msg: "a " + resource + " with this name or email already exists", Err: err}
	case errors.Is(err, ErrRoleInUse):
		return apperr.ConflictError{Resource: resource, Msg: "role is still assigned to employees", Err: err}
	default:
		return err
	}
}

func (s *Service) CreateRole(ctx context.Context, tenantID uuid.UUID, in RoleInput) (*Role, error) {
	r := &Role{ID: uuid.New(), TenantID: tenantID, Name: strings.TrimSpace(in.Name), MonthlySalaryCents: in.MonthlySalaryCents}
	if r.Name == "" {
		return nil, apperr.Invalid("name", "this field is required")
	}
	if err := s.store.CreateRole(ctx, r); err != nil {
		return nil, translate("role", err)
	}
	return r, nil
}

func (s *Service) UpdateRole(ctx context.Context, tenantID, id uuid.UUID, patch RolePatch) (*Role, error) {
	r, err := s.store.GetRole(ctx, tenantID, id)
	if err != nil {
		return nil, translate("role", err)
	}
	if patch.Name != nil {
		r.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.MonthlySalaryCents != nil {
		r.MonthlySalaryCents = *patch.MonthlySalaryCents
	}
	if r.Name == "" {
		return nil, apperr.Invalid("name", "this field is required")
	}
	if err := s.store.UpdateRole(ctx, r); err != nil {
		return nil, translate("role", err)
	}
	return r, nil
}

func (s *Service) GetRole(ctx context.Context, tenantID, id uuid.UUID) (*Role, error) {
	r, err := s.store.GetRole(ctx, tenantID, id)
	return r, translate("role", err)
}

func (s *Service) ListRoles(ctx context.Context, tenantID uuid.UUID) ([]Role, error) {
	return s.store.ListRoles(ctx, tenantID)
}

func (s *Service) DeleteRole(ctx context.Context, tenantID, id uuid.UUID) error {
	return translate("role", s.store.DeleteRole(ctx, tenantID, id))
}

// checkLocation ensures an employee's site belongs to the tenant.
func (s *Service) checkLocation(ctx context.Context, tenantID uuid.UUID, locationID *uuid.UUID) error {
	if locationID == nil || *locationID == uuid.Nil {
		return nil
	}
	if s.locations == nil {
		return apperr.Invalid("location_id", "location not found")
	}
	loc, err := s.locations.Location(ctx, *locationID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return apperr.Invalid("location_id", "location not found")
		}
		return err
	}
	if loc.TenantID != tenantID {
		return apperr.Invalid("location_id", "location not found")
	}
	return nil
}

func (s *Service) checkRole(ctx context.Context, tenantID, roleID uuid.UUID) error {
	if _, err := s.store.GetRole(ctx, tenantID, roleID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.Invalid("role_id", "role not found")
		}
		return err
	}
	return nil
}

func normalizeStaffPhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", nil
	}
	msisdn, err := mpesa.NormalizePhone(phone)
	if err != nil {
		return "", apperr.Invalid("phone", "invalid phone number format")
	}
	return msisdn, nil
}

func (s *Service) CreateEmployee(ctx context.Context, tenantID uuid.UUID, in EmployeeInput) (*Profile, error) {
	ctx, span := tracer.Start(ctx, "staff.create_employee")
	defer span.End()
	span.SetAttributes(attribute.String("carwash.tenant_id", tenantID.String()))

	if err := s.checkRole(ctx, tenantID, in.RoleID); err != nil {
		return nil, err
	}
	if err := s.checkLocation(ctx, tenantID, in.LocationID); err != nil {
		return nil, err
	}
	phone, err := normalizeStaffPhone(in.Phone)
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Invalid("password", "must be at least 8 characters")
	}
	p := &Profile{
		ID:           uuid.New(),
		TenantID:     tenantID,
		LocationID:   in.LocationID,
		RoleID:       in.RoleID,
		FullName:     strings.TrimSpace(in.FullName),
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:        phone,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.store.CreateProfile(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, apperr.Invalid("email", "a staff member with this email already exists")
		}
		return nil, err
	}
	s.logger.Info("employee created", "tenant_id", tenantID, "staff_id", p.ID)
	return p, nil
}

func (s *Service) UpdateEmployee(ctx context.Context, tenantID, id uuid.UUID, patch EmployeePatch) (*Profile, error) {
	p, err := s.store.GetProfile(ctx, tenantID, id)
	if err != nil {
		return nil, translate("employee", err)
	}
	if patch.FullName != nil {
		p.FullName = strings.TrimSpace(*patch.FullName)
	}
	if patch.Phone != nil {
		if p.Phone, err = normalizeStaffPhone(*patch.Phone); err != nil {
			return nil, err
		}
	}
	if patch.RoleID != nil {
		if err := s.checkRole(ctx, tenantID, *patch.RoleID); err != nil {
			return nil, err
		}
		p.RoleID = *patch.RoleID
	}
	if patch.LocationID != nil {
		if *patch.LocationID == uuid.Nil {
			p.LocationID = nil
		} else {
			if err := s.checkLocation(ctx, tenantID, patch.LocationID); err != nil {
				return nil, err
			}
			p.LocationID = patch.LocationID
		}
	}
	if patch.Password != nil {
		if p.PasswordHash, err = auth.HashPassword(*patch.Password); err != nil {
			return nil, apperr.Invalid("password", "must be at least 8 characters")
		}
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}
	if err := s.store.UpdateProfile(ctx, p); err != nil {
		return nil, translate("employee", err)
	}
	return p, nil
}

// DeactivateEmployee keeps the profile for history but blocks login and assignment.
func (s *Service) DeactivateEmployee(ctx context.Context, tenantID, id uuid.UUID) (*Profile, error) {
	inactive := false
	return s.UpdateEmployee(ctx, tenantID, id, EmployeePatch{IsActive: &inactive})
}

func (s *Service) GetEmployee(ctx context.Context, tenantID, id uuid.UUID) (*Profile, error) {
	p, err := s.store.GetProfile(ctx, tenantID, id)
	return p, translate("employee", err)
}

func (s *Service) ListEmployees(ctx context.Context, tenantID uuid.UUID, includeInactive bool) ([]Profile, error) {
	return s.store.ListProfiles(ctx, tenantID, includeInactive)
}

// Login authenticates a staff member and issues a staff token.
func (s *Service) Login(ctx context.Context, in auth.LoginInput) (*Session, error) {
	p, err := s.store.ProfileByEmail(ctx, strings.ToLower(strings.TrimSpace(in.Email)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := auth.CheckPassword(p.PasswordHash, in.Password); err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, auth.ErrInvalidCredentials
	}
	id := tenancy.Identity{Actor: tenancy.ActorStaff, ActorID: p.ID, TenantID: p.TenantID}
	if p.LocationID != nil {
		id.LocationID = *p.LocationID
	}
	tok, err := s.issuer.Issue(id)
	if err != nil {
		return nil, err
	}
	return &Session{Token: tok, Profile: p}, nil
}

// Me returns the caller's own profile.
func (s *Service) Me(ctx context.Context, actor tenancy.Identity) (*Me, error) {
	if actor.Actor != tenancy.ActorStaff {
		return nil, apperr.NotFound("staff profile")
	}
	p, err := s.store.GetProfile(ctx, actor.TenantID, actor.ActorID)
	if err != nil {
		return nil, translate("staff profile", err)
	}
	out := &Me{Profile: *p}
	if r, err := s.store.GetRole(ctx, p.TenantID, p.RoleID); err == nil {
		out.Role = r
	}
	return out, nil
}

// CheckAssignable confirms staffID is an active member of tenantID who may
// work at locationID. Staff without a home location work anywhere.
func (s *Service) CheckAssignable(ctx context.Context, tenantID, locationID, staffID uuid.UUID) error {
	p, err := s.store.GetProfile(ctx, tenantID, staffID)
	if err != nil {
		return translate("staff", err)
	}
	if !p.IsActive {
		return apperr.NotFound("staff")
	}
	if p.LocationID != nil && *p.LocationID != locationID {
		return apperr.Invalid("assigned_staff_id", "staff member works at another location")
	}
	return nil
}
