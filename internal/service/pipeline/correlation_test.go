package pipeline

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCorrelationID_AssignsWhenAbsent(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	CorrelationID(nil)(next).ServeHTTP(rec, req)

	if seen == "" {
		t.Fatal("expected a correlation id to be assigned")
	}
	if rec.Header().Get(CorrelationIDHeader) != seen {
		t.Errorf("response header = %q, want %q", rec.Header().Get(CorrelationIDHeader), seen)
	}
}

func TestCorrelationID_AcceptsIncoming(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationIDHeader, "caller-supplied-id")
	rec := httptest.NewRecorder()
	CorrelationID(nil)(next).ServeHTTP(rec, req)

	if seen != "caller-supplied-id" {
		t.Errorf("seen = %q, want caller-supplied-id", seen)
	}
}
