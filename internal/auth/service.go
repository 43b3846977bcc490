package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/carwash-platform/internal/apperr"
	"github.com/wolfman30/carwash-platform/internal/bookings"
	"github.com/wolfman30/carwash-platform/internal/mpesa"
	"github.com/wolfman30/carwash-platform/internal/tenancy"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

type RegisterCustomerInput struct {
	FullName string `json:"full_name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Phone    string `json:"phone" validate:"required,max=20"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type RegisterTenantInput struct {
	Name          string `json:"name" validate:"required,max=120"`
	Email         string `json:"email" validate:"required,email,max=254"`
	ContactNumber string `json:"contact_number" validate:"required"`
	Password      string `json:"password" validate:"required,min=8,max=72"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Session is returned by register and login calls.
type Session struct {
	Token    Token     `json:"token"`
	Customer *Customer `json:"customer,omitempty"`
	Tenant   *Tenant   `json:"tenant,omitempty"`
}

// Service registers and logs in customers and tenants.
type Service struct {
	store  AccountStore
	issuer *Issuer
	logger *logging.Logger
}

func NewService(store AccountStore, issuer *Issuer, logger *logging.Logger) *Service {
	if store == nil || issuer == nil {
		panic("auth: account store and issuer required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, issuer: issuer, logger: logger}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) RegisterCustomer(ctx context.Context, in RegisterCustomerInput) (*Session, error) {
	phone, err := mpesa.NormalizePhone(in.Phone)
	if err != nil {
		return nil, apperr.Invalid("phone", "invalid phone number format")
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Invalid("password", "must be at least 8 characters")
	}
	c := &Customer{
		ID:           uuid.New(),
		FullName:     strings.TrimSpace(in.FullName),
		Email:        normalizeEmail(in.Email),
		Phone:        phone,
		PasswordHash: hash,
	}
	if err := s.store.CreateCustomer(ctx, c); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, apperr.Invalid("email", "a customer with this email already exists")
		}
		return nil, err
	}
	s.logger.Info("customer registered", "customer_id", c.ID)
	return s.customerSession(c)
}

func (s *Service) LoginCustomer(ctx context.Context, in LoginInput) (*Session, error) {
	c, err := s.store.CustomerByEmail(ctx, normalizeEmail(in.Email))
	if err != nil {
		return nil, credentialsErr(err)
	}
	if err := CheckPassword(c.PasswordHash, in.Password); err != nil {
		return nil, credentialsErr(err)
	}
	return s.customerSession(c)
}

func (s *Service) customerSession(c *Customer) (*Session, error) {
	tok, err := s.issuer.Issue(tenancy.Identity{Actor: tenancy.ActorCustomer, ActorID: c.ID})
	if err != nil {
		return nil, err
	}
	return &Session{Token: tok, Customer: c}, nil
}

func (s *Service) RegisterTenant(ctx context.Context, in RegisterTenantInput) (*Session, error) {
	contact := strings.TrimSpace(in.ContactNumber)
	if err := mpesa.ValidateContactNumber(contact); err != nil {
		return nil, apperr.Invalid("contact_number", "must be in the format +254XXXXXXXXX")
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Invalid("password", "must be at least 8 characters")
	}
	t := &Tenant{
		ID:            uuid.New(),
		Name:          strings.TrimSpace(in.Name),
		Email:         normalizeEmail(in.Email),
		ContactNumber: contact,
		PasswordHash:  hash,
	}
	if err := s.store.CreateTenant(ctx, t); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, apperr.Invalid("email", "a tenant with this email already exists")
		}
		return nil, err
	}
	s.logger.Info("tenant registered", "tenant_id", t.ID)
	return s.tenantSession(t)
}

func (s *Service) LoginTenant(ctx context.Context, in LoginInput) (*Session, error) {
	t, err := s.store.TenantByEmail(ctx, normalizeEmail(in.Email))
	if err != nil {
		return nil, credentialsErr(err)
	}
	if err := CheckPassword(t.PasswordHash, in.Password); err != nil {
		return nil, credentialsErr(err)
	}
	return s.tenantSession(t)
}

func (s *Service) tenantSession(t *Tenant) (*Session, error) {
	tok, err := s.issuer.Issue(tenancy.Identity{Actor: tenancy.ActorTenant, ActorID: t.ID, TenantID: t.ID})
	if err != nil {
		return nil, err
	}
	return &Session{Token: tok, Tenant: t}, nil
}

// ContactFor returns the contact details a booking snapshots.
func (s *Service) ContactFor(ctx context.Context, customerID uuid.UUID) (bookings.Contact, error) {
	c, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return bookings.Contact{}, apperr.NotFound("customer")
		}
		return bookings.Contact{}, err
	}
	return bookings.Contact{Name: c.FullName, Phone: c.Phone, Email: c.Email}, nil
}

// credentialsErr hides whether the email or the password was wrong.
func credentialsErr(err error) error {
	if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrInvalidCredentials) {
		return ErrInvalidCredentials
	}
	return err
}
