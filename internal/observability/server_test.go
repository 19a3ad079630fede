package observability

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestReadyzFollowsPipelineState(t *testing.T) {
	var running atomic.Bool
	s := NewServer("127.0.0.1:0", running.Load)

	get := func() int {
		rec := httptest.NewRecorder()
		s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec.Code
	}

	if code := get(); code != http.StatusServiceUnavailable {
		t.Errorf("not running: /readyz = %d, want 503", code)
	}
	running.Store(true)
	if code := get(); code != http.StatusOK {
		t.Errorf("running: /readyz = %d, want 200", code)
	}

	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", rec.Code)
	}
}
