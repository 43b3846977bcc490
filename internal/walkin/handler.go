package walkin

import (
	"net/http"
	"strings"

	"github.com/wolfman30/carwash-platform/internal/apperr"
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

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, status int, fn func(tenancy.Identity) (any, string, error)) {
	actor, ok := tenancy.IdentityFromContext(r.Context())
	if !ok {
		respond.Fail(w, http.StatusUnauthorized, "authentication required")
		return
	}
	data, msg, err := fn(actor)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, status, msg, data)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, http.StatusCreated, func(actor tenancy.Identity) (any, string, error) {
		var in RegisterInput
		if err := respond.Decode(r, &in); err != nil {
			return nil, "", err
		}
		out, err := h.service.RegisterCustomer(r.Context(), actor, in)
		return out, "walk-in registered", err
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, http.StatusOK, func(actor tenancy.Identity) (any, string, error) {
		var f CustomerFilter
		var err error
		if f.LocationID, err = respond.QueryUUID(r, "location_id"); err != nil {
			return nil, "", err
		}
		if f.Since, err = respond.QueryDate(r, "since"); err != nil {
			return nil, "", err
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			f.Status = CustomerStatus(raw)
			if !f.Status.Valid() {
				return nil, "", apperr.Invalid("status", "unknown walk-in status")
			}
		}
		out, err := h.service.ListCustomers(r.Context(), actor, f)
		if out == nil {
			out = []Customer{}
		}
		return out, "", err
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, http.StatusOK, func(actor tenancy.Identity) (any, string, error) {
		id, err := respond.PathUUID(r, "id")
		if err != nil {
			return nil, "", err
		}
		out, err := h.service.GetCustomer(r.Context(), actor, id)
		return out, "", err
	})
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, http.StatusOK, func(actor tenancy.Identity) (any, string, error) {
		id, err := respond.PathUUID(r, "id")
		if err != nil {
			return nil, "", err
		}
		var in statusRequest
		if err := respond.Decode(r, &in); err != nil {
			return nil, "", err
		}
		out, err := h.service.SetCustomerStatus(r.Context(), actor, id, CustomerStatus(in.Status))
		return out, "walk-in updated", err
	})
}

func (h *Handler) AddTask(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, http.StatusCreated, func(actor tenancy.Identity) (any, string, error) {
		id, err := respond.PathUUID(r, "id")
		if err != nil {
			return nil, "", err
		}
		var in AddTaskInput
		if err := respond.Decode(r, &in); err != nil {
			return nil, "", err
		}
		out, err := h.service.AddTask(r.Context(), actor, id, in)
		return out, "task created", err
	})
}

func (h *Handler) RecordCash(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, http.StatusCreated, func(actor tenancy.Identity) (any, string, error) {
		id, err := respond.PathUUID(r, "id")
		if err != nil {
			return nil, "", err
		}
		var in CashInput
		if r.ContentLength != 0 {
			if err := respond.Decode(r, &in); err != nil {
				return nil, "", err
			}
		}
		out, err := h.service.RecordCashPayment(r.Context(), actor, id, in)
		return out, "cash payment recorded", err
	})
}

func (h *Handler) InitiateMpesa(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, http.StatusOK, func(actor tenancy.Identity) (any, string, error) {
		id, err := respond.PathUUID(r, "id")
		if err != nil {
			return nil, "", err
		}
		var in MpesaInput
		if r.ContentLength != 0 {
			if err := respond.Decode(r, &in); err != nil {
				return nil, "", err
			}
		}
		out, err := h.service.InitiateMpesaPayment(r.Context(), actor, id, in)
		return out, "payment prompt sent", err
	})
}

func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, http.StatusOK, func(actor tenancy.Identity) (any, string, error) {
		id, err := respond.PathUUID(r, "id")
		if err != nil {
			return nil, "", err
		}
		out, err := h.service.PaymentStatus(r.Context(), actor, id)
		return out, "", err
	})
}

// ListTasks serves the task board; MyTasks narrows it to the caller.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	h.listTasks(w, r, false)
}

func (h *Handler) MyTasks(w http.ResponseWriter, r *http.Request) {
	h.listTasks(w, r, true)
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request, mine bool) {
	h.serve(w, r, http.StatusOK, func(actor tenancy.Identity) (any, string, error) {
		var f TaskFilter
		var err error
		if f.LocationID, err = respond.QueryUUID(r, "location_id"); err != nil {
			return nil, "", err
		}
		if f.StaffID, err = respond.QueryUUID(r, "staff_id"); err != nil {
			return nil, "", err
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			for _, part := range strings.Split(raw, ",") {
				st := TaskStatus(strings.TrimSpace(part))
				if !st.Valid() {
					return nil, "", apperr.Invalid("status", "unknown task status "+part)
				}
				f.Statuses = append(f.Statuses, st)
			}
		}
		out, err := h.service.ListTasks(r.Context(), actor, f, mine)
		if out == nil {
			out = []Task{}
		}
		return out, "", err
	})
}

func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, http.StatusOK, func(actor tenancy.Identity) (any, string, error) {
		id, err := respond.PathUUID(r, "id")
		if err != nil {
			return nil, "", err
		}
		var patch TaskPatch
		if err := respond.Decode(r, &patch); err != nil {
			return nil, "", err
		}
		out, err := h.service.UpdateTask(r.Context(), actor, id, patch)
		return out, "task updated", err
	})
}

func (h *Handler) TransitionTask(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, http.StatusOK, func(actor tenancy.Identity) (any, string, error) {
		id, err := respond.PathUUID(r, "id")
		if err != nil {
			return nil, "", err
		}
		var in statusRequest
		if err := respond.Decode(r, &in); err != nil {
			return nil, "", err
		}
		out, err := h.service.TransitionTask(r.Context(), actor, id, TaskStatus(in.Status))
		return out, "task updated", err
	})
}
