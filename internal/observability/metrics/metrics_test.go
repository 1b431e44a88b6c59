package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndHandler(t *testing.T) {
	IntentHandled("diet", "record", false)
	IntentHandled("diet", "record", true)
	IntentHandled("diet", "record", true)
	ObserveHTTPRequest("jobs", "GET", 200, 20*time.Millisecond)

	if got := testutil.ToFloat64(intents.WithLabelValues("diet", "record", "rejected")); got != 2 {
		t.Fatalf("expected 2 rejected intents, got %v", got)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`kurashi_intents_total{action="record",agent="diet",outcome="ok"} 1`,
		`kurashi_http_requests_total{code="200",handler="jobs",method="GET"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
