// Package health serves liveness and dependency health endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/dabbsLondon/pivot-experiment/internal/core/model"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUp        = "up"
	StatusDown      = "down"
	StatusDisabled  = "disabled"
	defaultDeadline = 2 * time.Second
)

// Pinger is a dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Component struct {
	Status    string  `json:"status"`
	LatencyMs *uint64 `json:"latency_ms,omitempty"`
	Error     string  `json:"error,omitempty"`
}

type Report struct {
	Status     string    `json:"status"`
	ClickHouse Component `json:"clickhouse"`
	Cache      Component `json:"cache"`
	Version    string    `json:"version"`
}

// Checker probes ClickHouse and the cache. A nil cache reports as disabled.
type Checker struct {
	ClickHouse Pinger
	Cache      Pinger
	Version    string
	Timeout    time.Duration
}

func (c Checker) Check(ctx context.Context) Report {
	d := c.Timeout
	if d <= 0 {
		d = defaultDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	var (
		wg     sync.WaitGroup
		ch, cc Component
	)
	wg.Add(2)
	go func() { defer wg.Done(); ch = probe(ctx, c.ClickHouse) }()
	go func() { defer wg.Done(); cc = probe(ctx, c.Cache) }()
	wg.Wait()

	r := Report{Status: StatusHealthy, ClickHouse: ch, Cache: cc, Version: c.Version}
	if ch.Status == StatusDown || cc.Status == StatusDown {
		r.Status = StatusDegraded
	}
	return r
}

func probe(ctx context.Context, p Pinger) Component {
	if p == nil {
		return Component{Status: StatusDisabled}
	}
	start := time.Now()
	err := p.Ping(ctx)
	ms := model.Millis(time.Since(start))
	if err != nil {
		return Component{Status: StatusDown, LatencyMs: &ms, Error: err.Error()}
	}
	return Component{Status: StatusUp, LatencyMs: &ms}
}

// Handler serves the dependency report, answering 503 when degraded.
func Handler(c Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := c.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if rep.Status != StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(rep)
	}
}

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
