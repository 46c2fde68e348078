package workinghours

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/auth"
	"github.com/Moraesssa/agendarbrasil-health-hub-sub004/internal/platform/validation"
)

func newTestHandler() (*Handler, *mockRepo, *echo.Echo) {
	svc, repo, _ := newTestService()
	e := echo.New()
	e.Validator = validation.New(ValidationRules()...)
	return NewHandler(svc, zerolog.Nop()), repo, e
}

func newRequest(e *echo.Echo, method, body, userID string, roles ...string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, "/", nil)
	}
	req = req.WithContext(auth.WithUser(req.Context(), userID, roles))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

const validTemplateBody = `{
	"default_slot_duration_minutes": 30,
	"buffer_minutes": 5,
	"days": {
		"segunda": [
			{"start": "08:00", "end": "12:00", "active": true},
			{"start": "14:00", "end": "18:00", "active": true, "location_id": "9a7c1f2e-3b4d-4e5f-8a6b-7c8d9e0f1a2b"}
		]
	}
}`

func TestHandler_SaveTemplate(t *testing.T) {
	h, repo, e := newTestHandler()
	doctorID := uuid.New()
	c, rec := newRequest(e, http.MethodPut, validTemplateBody, doctorID.String(), auth.RoleDoctor)
	c.SetParamNames("id")
	c.SetParamValues(doctorID.String())

	if err := h.SaveTemplate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	stored := repo.templates[doctorID]
	if stored == nil || len(stored.Blocks(Monday)) != 2 || stored.BufferMinutes != 5 {
		t.Fatalf("unexpected stored template: %+v", stored)
	}
	if stored.Blocks(Monday)[1].LocationID == nil {
		t.Error("expected afternoon block location")
	}
}

func TestHandler_SaveTemplate_OtherDoctor(t *testing.T) {
	h, _, e := newTestHandler()
	c, _ := newRequest(e, http.MethodPut, validTemplateBody, uuid.NewString(), auth.RoleDoctor)
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())

	err := h.SaveTemplate(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestHandler_SaveTemplate_ValidationError(t *testing.T) {
	h, _, e := newTestHandler()
	doctorID := uuid.New()
	body := `{"default_slot_duration_minutes": 10, "days": {"segunda": [{"start": "08:00", "end": "12:00", "active": true}]}}`
	c, _ := newRequest(e, http.MethodPut, body, doctorID.String(), auth.RoleDoctor)
	c.SetParamNames("id")
	c.SetParamValues(doctorID.String())

	err := h.SaveTemplate(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_SaveTemplate_InvertedBlock(t *testing.T) {
	h, _, e := newTestHandler()
	doctorID := uuid.New()
	body := `{"default_slot_duration_minutes": 30, "days": {"segunda": [{"start": "12:00", "end": "08:00", "active": true}]}}`
	c, _ := newRequest(e, http.MethodPut, body, doctorID.String(), auth.RoleDoctor)
	c.SetParamNames("id")
	c.SetParamValues(doctorID.String())

	err := h.SaveTemplate(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_GetTemplate_Default(t *testing.T) {
	h, _, e := newTestHandler()
	c, rec := newRequest(e, http.MethodGet, "", uuid.NewString(), auth.RolePatient)
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())

	if err := h.GetTemplate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Configured bool     `json:"configured"`
		Template   Template `json:"template"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Configured {
		t.Error("expected configured=false")
	}
	if len(resp.Template.Blocks(Friday)) != 1 {
		t.Errorf("expected default friday block, got %+v", resp.Template.Days)
	}
}

func TestHandler_SetBlockActive(t *testing.T) {
	h, repo, e := newTestHandler()
	doctorID := uuid.New()
	repo.templates[doctorID] = DefaultTemplate(doctorID)

	c, rec := newRequest(e, http.MethodPatch, `{"active": false}`, doctorID.String(), auth.RoleDoctor)
	c.SetParamNames("id", "day", "index")
	c.SetParamValues(doctorID.String(), "segunda", "0")

	if err := h.SetBlockActive(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if repo.templates[doctorID].Blocks(Monday)[0].Active {
		t.Error("expected block deactivated")
	}
}

func TestHandler_SetBlockActive_MissingField(t *testing.T) {
	h, repo, e := newTestHandler()
	doctorID := uuid.New()
	repo.templates[doctorID] = DefaultTemplate(doctorID)

	c, _ := newRequest(e, http.MethodPatch, `{}`, doctorID.String(), auth.RoleDoctor)
	c.SetParamNames("id", "day", "index")
	c.SetParamValues(doctorID.String(), "segunda", "0")

	err := h.SetBlockActive(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_SaveTemplate_UnknownDay(t *testing.T) {
	h, _, e := newTestHandler()
	doctorID := uuid.New()
	body := `{"default_slot_duration_minutes": 30, "days": {"monday": [{"start": "08:00", "end": "12:00", "active": true}]}}`
	c, _ := newRequest(e, http.MethodPut, body, doctorID.String(), auth.RoleDoctor)
	c.SetParamNames("id")
	c.SetParamValues(doctorID.String())

	err := h.SaveTemplate(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if msg, _ := he.Message.(string); !strings.Contains(msg, "must be a day of week") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestHandler_SaveTemplate_StorageErrors(t *testing.T) {
	tests := []struct {
		name     string
		saveErr  error
		wantCode int
		wantMsg  string
	}{
		{
			name:     "permission denied",
			saveErr:  &pgconn.PgError{Code: "42501", Message: "permission denied for table doctor_working_hours"},
			wantCode: http.StatusUnauthorized,
			wantMsg:  "sign in to continue",
		},
		{
			name:     "connection lost",
			saveErr:  &pgconn.PgError{Code: "08006", Message: "connection failure"},
			wantCode: http.StatusInternalServerError,
			wantMsg:  "internal error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, repo, e := newTestHandler()
			repo.saveErr = tt.saveErr
			doctorID := uuid.New()
			c, _ := newRequest(e, http.MethodPut, validTemplateBody, doctorID.String(), auth.RoleDoctor)
			c.SetParamNames("id")
			c.SetParamValues(doctorID.String())

			err := h.SaveTemplate(c)
			he, ok := err.(*echo.HTTPError)
			if !ok || he.Code != tt.wantCode {
				t.Fatalf("expected %d, got %v", tt.wantCode, err)
			}
			if he.Message != tt.wantMsg {
				t.Errorf("expected message %q, got %v", tt.wantMsg, he.Message)
			}
		})
	}
}

func TestHandler_SetBlockActive_Errors(t *testing.T) {
	tests := []struct {
		name     string
		day      string
		index    string
		seed     bool
		saveErr  error
		wantCode int
	}{
		{name: "unknown day", day: "monday", index: "0", seed: true, wantCode: http.StatusBadRequest},
		{name: "no such block", day: "segunda", index: "5", seed: true, wantCode: http.StatusBadRequest},
		{name: "not configured", day: "segunda", index: "0", wantCode: http.StatusNotFound},
		{name: "storage failure", day: "segunda", index: "0", seed: true, saveErr: &pgconn.PgError{Code: "XX000", Message: "internal"}, wantCode: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, repo, e := newTestHandler()
			doctorID := uuid.New()
			if tt.seed {
				repo.templates[doctorID] = DefaultTemplate(doctorID)
			}
			repo.saveErr = tt.saveErr
			c, _ := newRequest(e, http.MethodPatch, `{"active": false}`, doctorID.String(), auth.RoleDoctor)
			c.SetParamNames("id", "day", "index")
			c.SetParamValues(doctorID.String(), tt.day, tt.index)

			err := h.SetBlockActive(c)
			he, ok := err.(*echo.HTTPError)
			if !ok || he.Code != tt.wantCode {
				t.Fatalf("expected %d, got %v", tt.wantCode, err)
			}
		})
	}
}
