package respond

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/carwash-platform/internal/apperr"
	"github.com/wolfman30/carwash-platform/pkg/logging"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", apperr.Invalid("phone", "invalid"), http.StatusBadRequest},
		{"not found", apperr.NotFound("booking"), http.StatusNotFound},
		{"conflict", apperr.Conflict("booking", "slot taken"), http.StatusBadRequest},
		{"gateway upstream", apperr.GatewayError{Msg: "rejected", Upstream: true}, http.StatusBadRequest},
		{"gateway transport", apperr.GatewayError{Msg: "timeout"}, http.StatusInternalServerError},
		{"internal", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			Error(rec, req, logging.Discard(), tt.err)
			assert.Equal(t, tt.status, rec.Code)
			body := decodeEnvelope(t, rec)
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestValidationErrorsExposeFieldMap(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	Error(rec, req, logging.Discard(), apperr.Invalid("phone", "invalid format"))

	body := decodeEnvelope(t, rec)
	fields, ok := body["errors"].(map[string]any)
	require.True(t, ok, "expected errors map, got %#v", body["errors"])
	assert.Equal(t, "invalid format", fields["phone"])
}

func TestNotFoundMessageHidesExistence(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	Error(rec, req, logging.Discard(), apperr.NotFound("location"))
	body := decodeEnvelope(t, rec)
	assert.Equal(t, "location not found or no permission", body["message"])
}

type sampleRequest struct {
	Name   string `json:"name" validate:"required"`
	Rating int    `json:"rating" validate:"gte=1,lte=5"`
}

func TestDecodeValidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"rating": 9}`))
	var dst sampleRequest
	err := Decode(req, &dst)
	v, ok := apperr.AsValidation(err)
	require.True(t, ok, "expected validation error, got %v", err)
	assert.Equal(t, "this field is required", v.Fields["name"])
	assert.Equal(t, "must be less than or equal to 5", v.Fields["rating"])
}

func TestDecodeRejectsUnknownAndEmpty(t *testing.T) {
	var dst sampleRequest
	err := Decode(httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"name":"a","rating":2,"extra":1}`)), &dst)
	assert.True(t, apperr.IsValidation(err))

	err = Decode(httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(``)), &dst)
	v, ok := apperr.AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "request body is required", v.Fields["body"])
}

func TestOKEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	OK(rec, http.StatusCreated, "created", map[string]string{"id": "1"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "created", body["message"])
}

func TestPathAndQueryParams(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/bookings/"+id.String()+"?location_id=bad&date=2025-01-02", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id.String())
	rctx.URLParams.Add("other", "nope")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	got, err := PathUUID(req, "id")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = PathUUID(req, "other")
	assert.True(t, apperr.IsValidation(err))

	_, err = QueryUUID(req, "location_id")
	assert.True(t, apperr.IsValidation(err))

	missing, err := QueryUUID(req, "absent")
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, missing)

	date, err := QueryDate(req, "date")
	require.NoError(t, err)
	require.NotNil(t, date)
	assert.Equal(t, 2, date.Day())
}
