package analytics

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/carwash-platform/internal/apperr"
	"github.com/wolfman30/carwash-platform/internal/http/respond"
	"github.com/wolfman30/carwash-platform/internal/tenancy"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

const defaultWindow = 30 * 24 * time.Hour

type Handler struct {
	reporter *Reporter
	logger   *logging.Logger
	now      func() time.Time
}

func NewHandler(reporter *Reporter, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{reporter: reporter, logger: logger, now: time.Now}
}

// Summary serves GET /api/tenant/analytics/summary?from=&to=&location_id=.
// A date-only "to" includes that whole day.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenancy.TenantIDFromContext(r.Context())
	if !ok {
		respond.Fail(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !h.reporter.Enabled() {
		respond.Fail(w, http.StatusServiceUnavailable, "analytics requires a database")
		return
	}

	period, err := h.parseRange(r)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	locationIDs, err := parseLocationIDs(r)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}

	summary, err := h.reporter.Summary(r.Context(), tenantID, period, locationIDs)
	if err != nil {
		respond.Error(w, r, h.logger, err)
		return
	}
	respond.OK(w, http.StatusOK, "analytics summary", summary)
}

func (h *Handler) parseRange(r *http.Request) (Range, error) {
	from, err := respond.QueryDate(r, "from")
	if err != nil {
		return Range{}, err
	}
	to, err := respond.QueryDate(r, "to")
	if err != nil {
		return Range{}, err
	}

	var period Range
	if to != nil {
		period.To = *to
		if !strings.Contains(r.URL.Query().Get("to"), "T") {
			period.To = period.To.Add(24 * time.Hour)
		}
	} else {
		period.To = h.now().UTC()
	}
	if from != nil {
		period.From = *from
	} else {
		period.From = period.To.Add(-defaultWindow)
	}
	if !period.From.Before(period.To) {
		return Range{}, apperr.Invalid("from", "must be before to")
	}
	return period, nil
}

// parseLocationIDs accepts repeated or comma separated location_id values.
func parseLocationIDs(r *http.Request) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for _, raw := range r.URL.Query()["location_id"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := uuid.Parse(part)
			if err != nil {
				return nil, apperr.Invalid("location_id", "must be a valid UUID")
			}
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}
