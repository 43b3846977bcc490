// Package respond writes the {success, message, data|errors} envelope every
// endpoint returns and maps the apperr taxonomy onto HTTP status codes.
package respond

import (
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/wolfman30/carwash-platform/internal/apperr"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

// Envelope is the response body shape.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Errors  any    `json:"errors,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JSON writes payload with the given status.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// OK writes a success envelope.
func OK(w http.ResponseWriter, status int, message string, data any) {
	JSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

// Fail writes a failure envelope with a plain message.
func Fail(w http.ResponseWriter, status int, message string) {
	JSON(w, status, Envelope{Success: false, Message: message})
}

// Error maps err to a status code and writes the failure envelope.
func Error(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	if logger == nil {
		logger = logging.Default()
	}
	if v, ok := apperr.AsValidation(err); ok {
		JSON(w, http.StatusBadRequest, Envelope{Success: false, Message: "validation failed", Errors: v.Fields})
		return
	}
	switch {
	case apperr.IsNotFound(err):
		var nf apperr.NotFoundError
		msg := "not found or no permission"
		if asNotFound(err, &nf) {
			msg = nf.Error()
		}
		Fail(w, http.StatusNotFound, msg)
		return
	case apperr.IsConflict(err):
		JSON(w, http.StatusBadRequest, Envelope{Success: false, Message: "request conflicts with current state", Error: err.Error()})
		return
	}
	if gw, ok := apperr.AsGateway(err); ok {
		status := http.StatusInternalServerError
		if gw.Upstream {
			status = http.StatusBadRequest
		}
		logger.WithContext(r.Context()).Warn("payment gateway failure", "error", gw.Msg, "path", r.URL.Path)
		JSON(w, status, Envelope{Success: false, Message: "payment request failed", Error: gw.Msg})
		return
	}
	logger.WithContext(r.Context()).Error("request failed", "error", err, "method", r.Method, "path", r.URL.Path)
	JSON(w, http.StatusInternalServerError, Envelope{Success: false, Message: "internal server error", Error: err.Error()})
}
