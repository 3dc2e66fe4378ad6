// Package aside implements cache-aside around a compute step.
//
// Reads and writes are bounded by the operation timeout. Any store or payload
// error degrades to a miss on read and is dropped on write; only the compute
// step can fail a Fetch.
package aside

import (
	"context"
	"log/slog"
	"time"

	"github.com/dabbsLondon/pivot-experiment/internal/cache"
	"github.com/dabbsLondon/pivot-experiment/internal/core/observability"
	"github.com/dabbsLondon/pivot-experiment/internal/logger"
)

type Outcome string

const (
	Hit    Outcome = "hit"
	Miss   Outcome = "miss"
	Bypass Outcome = "bypass"
)

// Plan describes the cache treatment of one request.
type Plan struct {
	Endpoint string
	Key      string
	TTL      time.Duration
	Bypass   bool
}

// Cacheable responses get their metadata rewritten when served from cache.
type Cacheable interface {
	MarkCached(elapsed time.Duration)
}

type Config struct {
	Enabled   bool
	OpTimeout time.Duration
	Codec     cache.Codec
}

type Orchestrator struct {
	store  cache.Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New returns an orchestrator over store. A nil store behaves as a disabled cache.
func New(store cache.Store, cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = logger.Discard()
	}
	return &Orchestrator{store: store, cfg: cfg, logger: log, now: time.Now}
}

func (o *Orchestrator) Enabled() bool {
	return o != nil && o.cfg.Enabled && o.store != nil
}

// Fetch serves p.Key from cache or runs compute and stores its result.
// On a hit, values implementing Cacheable (through *T) are marked cached with the
// time spent in Fetch.
func Fetch[T any](ctx context.Context, o *Orchestrator, p Plan, compute func(context.Context) (T, error)) (T, Outcome, error) {
	if p.Bypass || !o.Enabled() || p.Key == "" {
		observability.ObserveCacheResult(p.Endpoint, string(Bypass))
		v, err := compute(ctx)
		return v, Bypass, err
	}
	start := o.now()

	if v, ok := lookup[T](ctx, o, p); ok {
		if c, ok := any(&v).(Cacheable); ok {
			c.MarkCached(o.now().Sub(start))
		}
		observability.ObserveCacheResult(p.Endpoint, string(Hit))
		return v, Hit, nil
	}
	observability.ObserveCacheResult(p.Endpoint, string(Miss))

	v, err := compute(ctx)
	if err != nil {
		return v, Miss, err
	}
	o.write(ctx, p, v)
	return v, Miss, nil
}

func lookup[T any](ctx context.Context, o *Orchestrator, p Plan) (T, bool) {
	var zero T
	rctx, cancel := o.withTimeout(ctx)
	defer cancel()

	b, found, err := o.store.Get(rctx, p.Key)
	if err != nil {
		o.logger.WarnContext(ctx, "cache read failed, computing", "key", p.Key, "err", err)
		return zero, false
	}
	if !found {
		return zero, false
	}
	var v T
	if err := o.cfg.Codec.Decode(b, &v); err != nil {
		o.logger.WarnContext(ctx, "cached payload unreadable, computing", "key", p.Key, "err", err)
		return zero, false
	}
	return v, true
}

// write stores v under p.Key. The write outlives request cancellation but not the op timeout.
func (o *Orchestrator) write(ctx context.Context, p Plan, v any) {
	b, err := o.cfg.Codec.Encode(v)
	if err != nil {
		o.logger.WarnContext(ctx, "cache encode failed", "key", p.Key, "err", err)
		return
	}
	wctx, cancel := o.withTimeout(context.WithoutCancel(ctx))
	defer cancel()
	if err := o.store.Set(wctx, p.Key, b, p.TTL); err != nil {
		o.logger.WarnContext(ctx, "cache write failed", "key", p.Key, "err", err)
	}
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.cfg.OpTimeout)
}
