package pagination

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextFor(target string) echo.Context {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return echo.New().NewContext(req, httptest.NewRecorder())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  Params
	}{
		{"defaults", "patient_id=p1", Params{Limit: DefaultLimit}},
		{"limit and offset", "patient_id=p1&limit=5&offset=10", Params{Limit: 5, Offset: 10}},
		{"page and per_page", "patient_id=p1&page=3&per_page=10", Params{Limit: 10, Offset: 20}},
		{"offset wins over page", "limit=10&offset=5&page=4", Params{Limit: 10, Offset: 5}},
		{"limit capped", "limit=1000", Params{Limit: MaxLimit}},
		{"garbage falls back", "limit=abc&offset=-4", Params{Limit: DefaultLimit}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromContext(contextFor("/api/v1/appointments?" + tt.query))
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestNewResponse_WithLinks(t *testing.T) {
	u, _ := url.Parse("/api/v1/appointments?patient_id=p1&page=2&per_page=10")
	p := Params{Limit: 10, Offset: 10}

	r := NewResponse([]string{"a"}, 35, p).WithLinks(u, p)
	if !r.HasMore || r.Total != 35 {
		t.Errorf("expected has_more with total 35, got %+v", r)
	}
	next, err := url.Parse(r.Next)
	if err != nil {
		t.Fatalf("bad next link %q: %v", r.Next, err)
	}
	q := next.Query()
	if next.Path != "/api/v1/appointments" || q.Get("patient_id") != "p1" || q.Get("offset") != "20" || q.Get("limit") != "10" {
		t.Errorf("unexpected next link %q", r.Next)
	}
	if q.Has("page") || q.Has("per_page") {
		t.Errorf("page params should be replaced by limit/offset, got %q", r.Next)
	}
	if prev, _ := url.Parse(r.Previous); prev.Query().Get("offset") != "0" {
		t.Errorf("unexpected previous link %q", r.Previous)
	}
}

func TestNewResponse_LastPage(t *testing.T) {
	u, _ := url.Parse("/api/v1/appointments?patient_id=p1")
	p := Params{Limit: 20}

	r := NewResponse([]string{}, 3, p).WithLinks(u, p)
	if r.HasMore || r.Next != "" || r.Previous != "" {
		t.Errorf("single page should carry no links, got %+v", r)
	}
}

func TestParams_PreviousOffsetClampsAtZero(t *testing.T) {
	if got := (Params{Limit: 20, Offset: 5}).PreviousOffset(); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}
