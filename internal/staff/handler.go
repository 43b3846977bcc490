package staff

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/wolfman30/carwash-platform/internal/auth"
	"github.com/wolfman30/carwash-platform/internal/http/respond"
	"github.com/wolfman30/carwash-platform/internal/tenancy"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// tenantCall runs fn for an authenticated tenant-scoped caller.
func (h *Handler) tenantCall(w http.ResponseWriter, r *http.Request, status int, fn func(tenantID uuid.UUID) (any, string, error)) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		respond.Fail(w, http.StatusUnauthorized, "authentication required")
		return
	}
	data, msg, err := fn(tenantID)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, status, msg, data)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	sess, err := h.service.Login(r.Context(), in)
	if err != nil {
		auth.WriteLoginError(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, "login successful", sess)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := tenancy.IdentityFromContext(r.Context())
	if !ok {
		respond.Fail(w, http.StatusUnauthorized, "authentication required")
		return
	}
	me, err := h.service.Me(r.Context(), actor)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, "", me)
}

func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	h.tenantCall(w, r, http.StatusOK, func(tenantID uuid.UUID) (any, string, error) {
		roles, err := h.service.ListRoles(r.Context(), tenantID)
		if roles == nil {
			roles = []Role{}
		}
		return roles, "", err
	})
}

func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	h.tenantCall(w, r, http.StatusCreated, func(tenantID uuid.UUID) (any, string, error) {
		var in RoleInput
		if err := respond.Decode(r, &in); err != nil {
			return nil, "", err
		}
		role, err := h.service.CreateRole(r.Context(), tenantID, in)
		return role, "role created", err
	})
}

func (h *Handler) GetRole(w http.ResponseWriter, r *http.Request) {
	h.tenantCall(w, r, http.StatusOK, func(tenantID uuid.UUID) (any, string, error) {
		id, err := respond.PathUUID(r, "id")
		if err != nil {
			return nil, "", err
		}
		role, err := h.service.GetRole(r.Context(), tenantID, id)
		return role, "", err
	})
}

func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	h.tenantCall(w, r, http.StatusOK, func(tenantID uuid.UUID) (any, string, error) {
		id, err := respond.PathUUID(r, "id")
		if err != nil {
			return nil, "", err
		}
		var patch RolePatch
		if err := respond.Decode(r, &patch); err != nil {
			return nil, "", err
		}
		role, err := h.service.UpdateRole(r.Context(), tenantID, id, patch)
		return role, "role updated", err
	})
}

func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	h.tenantCall(w, r, http.StatusOK, func(tenantID uuid.UUID) (any, string, error) {
		id, err := respond.PathUUID(r, "id")
		if err != nil {
			return nil, "", err
		}
		return nil, "role deleted", h.service.DeleteRole(r.Context(), tenantID, id)
	})
}

func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	h.tenantCall(w, r, http.StatusOK, func(tenantID uuid.UUID) (any, string, error) {
		includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive"))
		out, err := h.service.ListEmployees(r.Context(), tenantID, includeInactive)
		if out == nil {
			out = []Profile{}
		}
		return out, "", err
	})
}

func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	h.tenantCall(w, r, http.StatusCreated, func(tenantID uuid.UUID) (any, string, error) {
		var in EmployeeInput
		if err := respond.Decode(r, &in); err != nil {
			return nil, "", err
		}
		p, err := h.service.CreateEmployee(r.Context(), tenantID, in)
		return p, "employee created", err
	})
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	h.tenantCall(w, r, http.StatusOK, func(tenantID uuid.UUID) (any, string, error) {
		id, err := respond.PathUUID(r, "id")
		if err != nil {
			return nil, "", err
		}
		p, err := h.service.GetEmployee(r.Context(), tenantID, id)
		return p, "", err
	})
}

func (h *Handler) UpdateEmployee(w http.ResponseWriter, r *http.Request) {
	h.tenantCall(w, r, http.StatusOK, func(tenantID uuid.UUID) (any, string, error) {
		id, err := respond.PathUUID(r, "id")
		if err != nil {
			return nil, "", err
		}
		var patch EmployeePatch
		if err := respond.Decode(r, &patch); err != nil {
			return nil, "", err
		}
		p, err := h.service.UpdateEmployee(r.Context(), tenantID, id, patch)
		return p, "employee updated", err
	})
}

func (h *Handler) DeactivateEmployee(w http.ResponseWriter, r *http.Request) {
	h.tenantCall(w, r, http.StatusOK, func(tenantID uuid.UUID) (any, string, error) {
		id, err := respond.PathUUID(r, "id")
		if err != nil {
			return nil, "", err
		}
		p, err := h.service.DeactivateEmployee(r.Context(), tenantID, id)
		return p, "employee deactivated", err
	})
}
