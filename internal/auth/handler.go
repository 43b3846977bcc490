package auth

import (
	"errors"
	"net/http"

	"github.com/wolfman30/carwash-platform/internal/http/respond"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

type Handler struct {
	service *Service
	authn   *Authenticator
	logger  *logging.Logger
}

func NewHandler(service *Service, authn *Authenticator, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, authn: authn, logger: logger}
}

// WriteLoginError maps a login failure onto the response. Shared with the
// staff login endpoint.
func WriteLoginError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	if errors.Is(err, ErrInvalidCredentials) {
		respond.Fail(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	respond.Error(w, r, logger, err)
}

func (h *Handler) CustomerRegister(w http.ResponseWriter, r *http.Request) {
	var in RegisterCustomerInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	sess, err := h.service.RegisterCustomer(r.Context(), in)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusCreated, "customer registered", sess)
}

func (h *Handler) CustomerLogin(w http.ResponseWriter, r *http.Request) {
	var in LoginInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	sess, err := h.service.LoginCustomer(r.Context(), in)
	if err != nil {
		WriteLoginError(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, "login successful", sess)
}

func (h *Handler) TenantRegister(w http.ResponseWriter, r *http.Request) {
	var in RegisterTenantInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	sess, err := h.service.RegisterTenant(r.Context(), in)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusCreated, "tenant registered", sess)
}

func (h *Handler) TenantLogin(w http.ResponseWriter, r *http.Request) {
	var in LoginInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	sess, err := h.service.LoginTenant(r.Context(), in)
	if err != nil {
		WriteLoginError(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, "login successful", sess)
}

// Logout revokes the caller's token. It must run behind RequireActor.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authn.Logout(r.Context()); err != nil {
		if errors.Is(err, ErrInvalidToken) {
			respond.Fail(w, http.StatusUnauthorized, "authentication required")
			return
		}
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, "logged out", nil)
}
