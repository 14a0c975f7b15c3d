package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParsePagination(t *testing.T) {
	cases := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
		wantErr    bool
	}{
		{"defaults", "", 50, 0, false},
		{"explicit", "?limit=10&offset=20", 10, 20, false},
		{"zero_limit", "?limit=0", 0, 0, true},
		{"negative_offset", "?offset=-1", 0, 0, true},
		{"non_numeric", "?limit=ten", 0, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/calls"+tc.query, nil)
			p, err := ParsePagination(r)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Limit != tc.wantLimit || p.Offset != tc.wantOffset {
				t.Errorf("got %d/%d, want %d/%d", p.Limit, p.Offset, tc.wantLimit, tc.wantOffset)
			}
		})
	}
}

func TestQueryTime(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/calls?start_time=2026-08-24T14:00:00Z", nil)
	ts, ok := QueryTime(r, "start_time")
	if !ok {
		t.Fatal("expected parse")
	}
	if ts.Hour() != 14 {
		t.Errorf("hour = %d, want 14", ts.Hour())
	}

	r = httptest.NewRequest(http.MethodGet, "/api/calls?start_time=yesterday", nil)
	if _, ok := QueryTime(r, "start_time"); ok {
		t.Error("expected failure on non-RFC3339 value")
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusNotFound, "not_found", "call not found")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	want := `{"error":"not_found","message":"call not found"}` + "\n"
	if rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}
}
