package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dabbsLondon/pivot-experiment/internal/core/observability"
	mylog "github.com/dabbsLondon/pivot-experiment/internal/logger"
)

func TestLogging_PropagatesRequestID(t *testing.T) {
	var buf bytes.Buffer
	zl := mylog.Build(mylog.Config{Level: "info"}, &buf)
	l := mylog.NewSlog(&zl)

	var seen string
	h := Logging(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = mylog.RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/instruments", nil)
	req.Header.Set(HeaderRequestID, "abc123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if seen != "abc123" || rr.Header().Get(HeaderRequestID) != "abc123" {
		t.Fatalf("request id seen=%q header=%q", seen, rr.Header().Get(HeaderRequestID))
	}
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("log line: %v (%s)", err, buf.String())
	}
	if line["request_id"] != "abc123" || line["status"] != float64(http.StatusTeapot) || line["component"] != "http" {
		t.Fatalf("log line=%v", line)
	}
}

func TestLogging_GeneratesRequestID(t *testing.T) {
	h := Logging(mylog.Discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(rr.Header().Get(HeaderRequestID)) != 16 {
		t.Fatalf("generated id=%q", rr.Header().Get(HeaderRequestID))
	}
}

func TestRecover_WritesGenericError(t *testing.T) {
	h := Recover(mylog.Discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"error":"Internal server error"}` {
		t.Fatalf("body=%s", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/api/v1/pivot", nil))
	if rr.Code != http.StatusNoContent || called {
		t.Fatalf("preflight status=%d called=%v", rr.Code, called)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), "POST") {
		t.Fatalf("methods=%q", rr.Header().Get("Access-Control-Allow-Methods"))
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/pivot", nil))
	if !called || rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("simple request not passed through")
	}
}

func TestMetrics_LabelsByRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	observability.Init(reg, true)
	t.Cleanup(func() { observability.Init(nil, false) })

	r := chi.NewRouter()
	r.Use(Metrics())
	r.Get("/api/v1/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	for _, id := range []string{"1", "2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/items/"+id, nil))
	}

	want := `
# HELP http_requests_total Total number of HTTP requests.
# TYPE http_requests_total counter
http_requests_total{method="GET",route="/api/v1/items/{id}",status="202"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "http_requests_total"); err != nil {
		t.Fatal(err)
	}
}
