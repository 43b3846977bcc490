package reconcile

import (
	"context"
	"errors"
	"io"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/wolfman30/carwash-platform/internal/archive"
	"github.com/wolfman30/carwash-platform/internal/mpesa"
	"github.com/wolfman30/carwash-platform/internal/payments"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

const maxCallbackBytes = 64 << 10

type ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// Archiver stores raw callbacks for audit.
type Archiver interface {
	ArchiveCallback(ctx context.Context, record *archive.CallbackRecord) error
}

// Handler receives Daraja STK callbacks. Daraja only needs an
// acknowledgement, so every request is answered 200 and failures are logged.
type Handler struct {
	reconciler *Reconciler
	archive    Archiver
	logger     *logging.Logger
}

func NewHandler(reconciler *Reconciler, archiver Archiver, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{reconciler: reconciler, archive: archiver, logger: logger}
}

func (h *Handler) HandleBookingCallback(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, payments.SubjectBooking)
}

func (h *Handler) HandleWalkInCallback(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, payments.SubjectWalkIn)
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request, kind payments.SubjectKind) {
	defer writeAck(w)
	ctx := r.Context()
	logger := h.logger.WithContext(ctx).With("subject_kind", kind)

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
	if err != nil {
		logger.Warn("failed to read mpesa callback", "error", err)
		return
	}
	cb, err := mpesa.ParseCallback(raw)
	if err != nil {
		logger.Warn("rejected malformed mpesa callback", "error", err, "bytes", len(raw))
		h.reconciler.metrics.ObserveCallback(string(kind), SourceCallback, "invalid")
		return
	}

	outcome := FromCallback(kind, cb)
	label := string(outcome.Status())
	if _, err := h.reconciler.Apply(ctx, outcome); err != nil {
		label = "unmatched"
		if !errors.Is(err, ErrUnmatched) {
			label = "error"
		}
	}
	h.archiveCallback(ctx, kind, cb, label)
}

func (h *Handler) archiveCallback(ctx context.Context, kind payments.SubjectKind, cb mpesa.Callback, outcome string) {
	if h.archive == nil {
		return
	}
	record := &archive.CallbackRecord{
		Provider:          "mpesa",
		Kind:              string(kind),
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		Outcome:           outcome,
		PhoneHash:         archive.HashPhone(cb.PhoneNumber),
		Payload:           cb.Raw,
	}
	if err := h.archive.ArchiveCallback(ctx, record); err != nil {
		h.logger.Warn("failed to archive mpesa callback", "error", err, "checkout_request_id", cb.CheckoutRequestID)
	}
}

func writeAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ack{ResultCode: 0, ResultDesc: "Accepted"})
}
