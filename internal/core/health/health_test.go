package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHandler_HealthyAndDegraded(t *testing.T) {
	up := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("dial tcp: connection refused") })

	cases := []struct {
		name   string
		c      Checker
		status int
		want   string
		cache  string
	}{
		{"all up", Checker{ClickHouse: up, Cache: up, Version: "1.2.3"}, 200, StatusHealthy, StatusUp},
		{"cache disabled", Checker{ClickHouse: up, Version: "1.2.3"}, 200, StatusHealthy, StatusDisabled},
		{"cache down", Checker{ClickHouse: up, Cache: down, Version: "1.2.3"}, 503, StatusDegraded, StatusDown},
		{"clickhouse down", Checker{ClickHouse: down, Cache: up, Version: "1.2.3"}, 503, StatusDegraded, StatusUp},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			Handler(tc.c)(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rr.Code != tc.status {
				t.Fatalf("status=%d want %d", rr.Code, tc.status)
			}
			var rep Report
			if err := json.Unmarshal(rr.Body.Bytes(), &rep); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if rep.Status != tc.want || rep.Cache.Status != tc.cache || rep.Version != "1.2.3" {
				t.Fatalf("report=%+v", rep)
			}
			if rep.ClickHouse.Status == StatusDown && !strings.Contains(rep.ClickHouse.Error, "refused") {
				t.Fatalf("error not reported: %+v", rep.ClickHouse)
			}
		})
	}
}

func TestCheck_PingHonoursTimeout(t *testing.T) {
	slow := pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	rep := Checker{ClickHouse: slow, Timeout: 20 * time.Millisecond}.Check(context.Background())
	if rep.Status != StatusDegraded || rep.ClickHouse.LatencyMs == nil {
		t.Fatalf("report=%+v", rep)
	}
}
