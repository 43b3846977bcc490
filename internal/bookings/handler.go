package bookings

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/carwash-platform/internal/apperr"
	"github.com/wolfman30/carwash-platform/internal/http/respond"
	"github.com/wolfman30/carwash-platform/internal/tenancy"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

// Handler serves booking routes for customers, tenants and staff. Scope is
// taken from the caller identity, so the same handlers back every prefix.
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

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type paymentRequest struct {
	PhoneNumber string `json:"phone_number" validate:"max=20"`
}

func identityFrom(w http.ResponseWriter, r *http.Request) (tenancy.Identity, bool) {
	id, ok := tenancy.IdentityFromContext(r.Context())
	if !ok {
		respond.Fail(w, http.StatusUnauthorized, "authentication required")
		return tenancy.Identity{}, false
	}
	return id, true
}

// decodeOptional decodes a body only when one was sent.
func decodeOptional(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return respond.Decode(r, dst)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := identityFrom(w, r)
	if !ok {
		return
	}
	var in CreateInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	b, err := h.service.Create(r.Context(), actor, in)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusCreated, "booking created", b)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := identityFrom(w, r)
	if !ok {
		return
	}
	f, err := filterFrom(r)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	out, err := h.service.List(r.Context(), actor, f)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	if out == nil {
		out = []Booking{}
	}
	respond.OK(w, http.StatusOK, "", out)
}

func filterFrom(r *http.Request) (Filter, error) {
	var f Filter
	var err error
	if f.LocationID, err = respond.QueryUUID(r, "location_id"); err != nil {
		return f, err
	}
	if f.From, err = respond.QueryDate(r, "from"); err != nil {
		return f, err
	}
	if f.To, err = respond.QueryDate(r, "to"); err != nil {
		return f, err
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := Status(strings.TrimSpace(part))
			if !validStatus(st) {
				return f, apperr.Invalid("status", "unknown booking status "+part)
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return f, apperr.Invalid("limit", "must be a positive integer")
		}
		f.Limit = n
	}
	return f, nil
}

func validStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.withBooking(w, r, func(actor tenancy.Identity, id uuid.UUID) (any, string, error) {
		b, err := h.service.Get(r.Context(), actor, id)
		return b, "", err
	})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	h.withBooking(w, r, func(actor tenancy.Identity, id uuid.UUID) (any, string, error) {
		var in UpdateInput
		if err := respond.Decode(r, &in); err != nil {
			return nil, "", err
		}
		b, err := h.service.Update(r.Context(), actor, id, in)
		return b, "booking updated", err
	})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withBooking(w, r, func(actor tenancy.Identity, id uuid.UUID) (any, string, error) {
		var in cancelRequest
		if err := decodeOptional(r, &in); err != nil {
			return nil, "", err
		}
		b, err := h.service.Cancel(r.Context(), actor, id, in.Reason)
		return b, "booking cancelled", err
	})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	h.withBooking(w, r, func(actor tenancy.Identity, id uuid.UUID) (any, string, error) {
		b, err := h.service.Submit(r.Context(), actor, id)
		return b, "booking submitted", err
	})
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.withBooking(w, r, func(actor tenancy.Identity, id uuid.UUID) (any, string, error) {
		b, err := h.service.Confirm(r.Context(), actor, id)
		return b, "booking confirmed", err
	})
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	h.withBooking(w, r, func(actor tenancy.Identity, id uuid.UUID) (any, string, error) {
		b, err := h.service.Start(r.Context(), actor, id)
		return b, "service started", err
	})
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	h.withBooking(w, r, func(actor tenancy.Identity, id uuid.UUID) (any, string, error) {
		b, err := h.service.Complete(r.Context(), actor, id)
		return b, "booking completed", err
	})
}

func (h *Handler) NoShow(w http.ResponseWriter, r *http.Request) {
	h.withBooking(w, r, func(actor tenancy.Identity, id uuid.UUID) (any, string, error) {
		var in cancelRequest
		if err := decodeOptional(r, &in); err != nil {
			return nil, "", err
		}
		b, err := h.service.MarkNoShow(r.Context(), actor, id, in.Reason)
		return b, "booking marked as no-show", err
	})
}

func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	h.withBooking(w, r, func(actor tenancy.Identity, id uuid.UUID) (any, string, error) {
		var in paymentRequest
		if err := decodeOptional(r, &in); err != nil {
			return nil, "", err
		}
		out, err := h.service.InitiatePayment(r.Context(), actor, id, in.PhoneNumber)
		return out, "payment prompt sent", err
	})
}

func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	h.withBooking(w, r, func(actor tenancy.Identity, id uuid.UUID) (any, string, error) {
		out, err := h.service.PaymentStatus(r.Context(), actor, id)
		return out, "", err
	})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	h.withBooking(w, r, func(actor tenancy.Identity, id uuid.UUID) (any, string, error) {
		out, err := h.service.History(r.Context(), actor, id)
		if out == nil {
			out = []HistoryEntry{}
		}
		return out, "", err
	})
}

func (h *Handler) withBooking(w http.ResponseWriter, r *http.Request, fn func(tenancy.Identity, uuid.UUID) (any, string, error)) {
	actor, ok := identityFrom(w, r)
	if !ok {
		return
	}
	id, err := respond.PathUUID(r, "id")
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	data, msg, err := fn(actor, id)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, msg, data)
}
