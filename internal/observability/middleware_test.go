package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/commlink/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestObserveRequestsCollapsesUnknownRoutes(t *testing.T) {
	testlog.Start(t)
	r := NewStatusRouter("node-mw", zerolog.Nop())

	for _, path := range []string{"/nope", "/also/nope"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s returned %d", path, rec.Code)
		}
	}

	got := testutil.ToFloat64(httpRequests.WithLabelValues("node-mw", http.MethodGet, "unmatched", "404"))
	if got != 2 {
		t.Fatalf("expected 2 unmatched requests, got %v", got)
	}
}
