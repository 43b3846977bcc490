package catalog

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/wolfman30/carwash-platform/internal/http/respond"
	"github.com/wolfman30/carwash-platform/internal/tenancy"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

// Handler exposes the catalog over HTTP.
type Handler struct {
	manager *Manager
	logger  *logging.Logger
}

func NewHandler(manager *Manager, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{manager: manager, logger: logger}
}

// GET /api/locations
func (h *Handler) PublicLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := h.manager.PublicLocations(r.Context())
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, "", nonNil(locs))
}

// GET /api/locations/{id}/services
func (h *Handler) PublicLocationServices(w http.ResponseWriter, r *http.Request) {
	id, err := respond.PathUUID(r, "id")
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	bundles, err := h.manager.PublicLocationServices(r.Context(), id)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, "", nonNil(bundles))
}

func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	locs, err := h.manager.ListLocations(r.Context(), tenantID)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, "", nonNil(locs))
}

func (h *Handler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var in LocationInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	loc, err := h.manager.CreateLocation(r.Context(), tenantID, in)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusCreated, "location created", loc)
}

func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, err := respond.PathUUID(r, "id")
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	loc, err := h.manager.GetLocation(r.Context(), tenantID, id)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, "", loc)
}

func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, err := respond.PathUUID(r, "id")
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	var patch LocationPatch
	if err := respond.Decode(r, &patch); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	loc, err := h.manager.UpdateLocation(r.Context(), tenantID, id, patch)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, "location updated", loc)
}

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	svcs, err := h.manager.ListServices(r.Context(), tenantID)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, "", nonNil(svcs))
}

func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var in ServiceInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	svc, err := h.manager.CreateService(r.Context(), tenantID, in)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusCreated, "service created", svc)
}

func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, err := respond.PathUUID(r, "id")
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	svc, err := h.manager.GetService(r.Context(), tenantID, id)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, "", svc)
}

func (h *Handler) UpdateService(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, err := respond.PathUUID(r, "id")
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	var patch ServicePatch
	if err := respond.Decode(r, &patch); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	svc, err := h.manager.UpdateService(r.Context(), tenantID, id, patch)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, "service updated", svc)
}

// GET /api/tenant/location-services?location_id=
func (h *Handler) ListLocationServices(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	locationID, err := respond.QueryUUID(r, "location_id")
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	bundles, err := h.manager.ListLocationServices(r.Context(), tenantID, locationID)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, "", nonNil(bundles))
}

func (h *Handler) CreateLocationService(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	var in LocationServiceInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	ls, err := h.manager.CreateLocationService(r.Context(), tenantID, in)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusCreated, "location service created", ls)
}

func (h *Handler) GetLocationService(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, err := respond.PathUUID(r, "id")
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	ls, err := h.manager.GetLocationService(r.Context(), tenantID, id)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, "", ls)
}

func (h *Handler) UpdateLocationService(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, err := respond.PathUUID(r, "id")
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	var patch LocationServicePatch
	if err := respond.Decode(r, &patch); err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	ls, err := h.manager.UpdateLocationService(r.Context(), tenantID, id, patch)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, "location service updated", ls)
}

func tenantFrom(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		respond.Fail(w, http.StatusUnauthorized, "authentication required")
		return uuid.Nil, false
	}
	return tenantID, true
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
