package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	svcerrors "github.com/vitalis-labs/service_layer/internal/errors"
)

func TestWriteServiceError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/progress", nil)
	req.Header.Set("X-Trace-ID", "trace-9")
	rec := httptest.NewRecorder()

	WriteServiceError(rec, req, svcerrors.Conflict("A save is already in progress"))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Code != string(svcerrors.CodeConflict) || body.TraceID != "trace-9" {
		t.Errorf("body = %+v", body)
	}
}

func TestWriteServiceError_PlainErrorIsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteServiceError(rec, nil, http.ErrHandlerTimeout)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		StepID int `json:"step_id"`
	}

	req := httptest.NewRequest(http.MethodPost, "/progress/select", strings.NewReader(`{"step_id":3}`))
	req.Header.Set("Content-Type", "application/json")
	if err := DecodeJSON(req, &v); err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	if v.StepID != 3 {
		t.Errorf("StepID = %d, want 3", v.StepID)
	}

	req = httptest.NewRequest(http.MethodPost, "/progress/select", strings.NewReader(`{"step":3}`))
	if err := DecodeJSON(req, &v); svcerrors.GetServiceError(err) == nil {
		t.Errorf("DecodeJSON(unknown field) error = %v, want service error", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/progress/select", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	if err := DecodeJSON(req, &v); err == nil {
		t.Error("DecodeJSON(text/plain) should fail")
	}
}
