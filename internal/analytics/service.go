// Package analytics serves the aggregation endpoints: validate, then cache-aside
// around compile, execute and reshape.
package analytics

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dabbsLondon/pivot-experiment/internal/aggregate"
	"github.com/dabbsLondon/pivot-experiment/internal/cache/aside"
	"github.com/dabbsLondon/pivot-experiment/internal/cache/keys"
	"github.com/dabbsLondon/pivot-experiment/internal/core/apierr"
	"github.com/dabbsLondon/pivot-experiment/internal/core/executor"
	"github.com/dabbsLondon/pivot-experiment/internal/core/model"
	"github.com/dabbsLondon/pivot-experiment/internal/core/observability"
	"github.com/dabbsLondon/pivot-experiment/internal/events"
	"github.com/dabbsLondon/pivot-experiment/internal/logger"
	"github.com/dabbsLondon/pivot-experiment/internal/query"
)

// endpoint names, used as metric labels and event tags
const (
	EndpointPivot        = "pivot"
	EndpointExposure     = "exposure"
	EndpointPnl          = "pnl"
	EndpointInstruments  = "instruments"
	EndpointConstituents = "constituents"
)

// cache namespaces
const (
	nsPivot    = "pivot:query"
	nsExposure = "exposure"
	nsPnl      = "pnl"
)

type Service struct {
	compiler *query.Compiler
	exec     executor.Interface
	cache    *aside.Orchestrator
	ttls     aside.TTLs
	events   events.Sink
	logger   *slog.Logger
	now      func() time.Time
}

// New wires a service. A nil cache disables caching and a nil sink drops events.
func New(c *query.Compiler, exec executor.Interface, cache *aside.Orchestrator, ttls aside.TTLs, sink events.Sink, log *slog.Logger) *Service {
	if sink == nil {
		sink = events.Nop{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		compiler: c,
		exec:     exec,
		cache:    cache,
		ttls:     ttls,
		events:   sink,
		logger:   log,
		now:      time.Now,
	}
}

func (s *Service) Pivot(ctx context.Context, req model.PivotRequest) (model.PivotResponse, error) {
	ctx = logger.WithEndpoint(ctx, EndpointPivot)
	if err := query.ValidatePivot(req); err != nil {
		return model.PivotResponse{}, validation(err)
	}
	plan, err := s.plan(EndpointPivot, nsPivot, keyPayload(req), req.CacheBypass)
	if err != nil {
		return model.PivotResponse{}, err
	}

	resp, out, err := aside.Fetch(ctx, s.cache, plan, func(ctx context.Context) (model.PivotResponse, error) {
		start := s.now()
		sql, err := s.compiler.Pivot(req)
		if err != nil {
			return model.PivotResponse{}, validation(err)
		}
		rows, err := s.run(ctx, EndpointPivot, sql)
		if err != nil {
			return model.PivotResponse{}, err
		}
		data := aggregate.PivotRows(rows)
		return model.PivotResponse{Data: data, Metadata: model.NewMetadata(len(data), s.now().Sub(start))}, nil
	})
	if err != nil {
		return model.PivotResponse{}, err
	}
	s.emit(ctx, EndpointPivot, plan.Key, out, resp.Metadata)
	return resp, nil
}

func (s *Service) Exposure(ctx context.Context, q model.ExposureQuery) (model.ExposureResponse, error) {
	ctx = logger.WithEndpoint(ctx, EndpointExposure)
	if q.View == "" {
		q.View = model.ViewTopLevel
	}
	if err := query.ValidateExposure(q); err != nil {
		return model.ExposureResponse{}, validation(err)
	}
	payload := q
	payload.CacheBypass = false
	plan, err := s.plan(EndpointExposure, nsExposure, payload, q.CacheBypass)
	if err != nil {
		return model.ExposureResponse{}, err
	}

	resp, out, err := aside.Fetch(ctx, s.cache, plan, func(ctx context.Context) (model.ExposureResponse, error) {
		start := s.now()
		sql, err := s.compiler.Exposure(q)
		if err != nil {
			return model.ExposureResponse{}, validation(err)
		}
		rows, err := s.run(ctx, EndpointExposure, sql)
		if err != nil {
			return model.ExposureResponse{}, err
		}
		data := aggregate.ExposureRows(rows)
		return model.ExposureResponse{Data: data, Metadata: model.NewMetadata(len(data), s.now().Sub(start))}, nil
	})
	if err != nil {
		return model.ExposureResponse{}, err
	}
	s.emit(ctx, EndpointExposure, plan.Key, out, resp.Metadata)
	return resp, nil
}

func (s *Service) Pnl(ctx context.Context, q model.PnlQuery) (model.PnlResponse, error) {
	ctx = logger.WithEndpoint(ctx, EndpointPnl)
	if err := query.ValidatePnl(q); err != nil {
		return model.PnlResponse{}, validation(err)
	}
	payload := q
	payload.CacheBypass = false
	plan, err := s.plan(EndpointPnl, nsPnl, payload, q.CacheBypass)
	if err != nil {
		return model.PnlResponse{}, err
	}

	resp, out, err := aside.Fetch(ctx, s.cache, plan, func(ctx context.Context) (model.PnlResponse, error) {
		start := s.now()
		sql, err := s.compiler.Pnl(q)
		if err != nil {
			return model.PnlResponse{}, validation(err)
		}
		rows, err := s.run(ctx, EndpointPnl, sql)
		if err != nil {
			return model.PnlResponse{}, err
		}
		data := aggregate.PnlRows(rows)
		return model.PnlResponse{Data: data, Metadata: model.NewMetadata(len(data), s.now().Sub(start))}, nil
	})
	if err != nil {
		return model.PnlResponse{}, err
	}
	s.emit(ctx, EndpointPnl, plan.Key, out, resp.Metadata)
	return resp, nil
}

// Instruments lists reference instruments. Only the unfiltered listing is cached.
func (s *Service) Instruments(ctx context.Context, q model.InstrumentsQuery) (model.InstrumentsResponse, error) {
	ctx = logger.WithEndpoint(ctx, EndpointInstruments)
	plan := aside.Plan{
		Endpoint: EndpointInstruments,
		Key:      keys.InstrumentsAll,
		TTL:      s.ttls.For(EndpointInstruments, time.Hour),
		Bypass:   !q.Unfiltered(),
	}
	start := s.now()
	resp, out, err := aside.Fetch(ctx, s.cache, plan, func(ctx context.Context) (model.InstrumentsResponse, error) {
		rows, err := s.run(ctx, EndpointInstruments, s.compiler.Instruments(q))
		if err != nil {
			return model.InstrumentsResponse{}, err
		}
		list := aggregate.Instruments(rows)
		return model.InstrumentsResponse{Instruments: list, Count: len(list)}, nil
	})
	if err != nil {
		return model.InstrumentsResponse{}, err
	}
	s.emit(ctx, EndpointInstruments, plan.Key, out, model.QueryMetadata{
		ReturnedRows: resp.Count,
		QueryTimeMs:  model.Millis(s.now().Sub(start)),
		Cached:       out == aside.Hit,
	})
	return resp, nil
}

// Constituents lists composite constituents. Only the unfiltered listing is cached.
func (s *Service) Constituents(ctx context.Context, q model.ConstituentsQuery) (model.ConstituentsResponse, error) {
	ctx = logger.WithEndpoint(ctx, EndpointConstituents)
	plan := aside.Plan{
		Endpoint: EndpointConstituents,
		Key:      keys.ConstituentsAll,
		TTL:      s.ttls.For(EndpointConstituents, time.Hour),
		Bypass:   !q.Unfiltered(),
	}
	start := s.now()
	resp, out, err := aside.Fetch(ctx, s.cache, plan, func(ctx context.Context) (model.ConstituentsResponse, error) {
		rows, err := s.run(ctx, EndpointConstituents, s.compiler.Constituents(q))
		if err != nil {
			return model.ConstituentsResponse{}, err
		}
		list := aggregate.Constituents(rows)
		return model.ConstituentsResponse{Constituents: list, Count: len(list)}, nil
	})
	if err != nil {
		return model.ConstituentsResponse{}, err
	}
	s.emit(ctx, EndpointConstituents, plan.Key, out, model.QueryMetadata{
		ReturnedRows: resp.Count,
		QueryTimeMs:  model.Millis(s.now().Sub(start)),
		Cached:       out == aside.Hit,
	})
	return resp, nil
}

func (s *Service) plan(endpoint, ns string, payload any, bypass bool) (aside.Plan, error) {
	p := aside.Plan{Endpoint: endpoint, TTL: s.ttls.For(ns, 0), Bypass: bypass}
	if bypass || !s.cache.Enabled() {
		return p, nil
	}
	k, err := keys.Derive(ns, payload)
	if err != nil {
		return aside.Plan{}, apierr.Wrap(apierr.Internal, "derive cache key", err)
	}
	p.Key = k
	return p, nil
}

// run executes sql, recording latency and mapping failures to a database error.
func (s *Service) run(ctx context.Context, endpoint, sql string) ([]model.Row, error) {
	start := s.now()
	rows, err := s.exec.Query(ctx, sql)
	observability.ObserveQuery(endpoint, err, s.now().Sub(start).Seconds())
	if err != nil {
		s.logger.ErrorContext(ctx, "query failed", "err", err)
		return nil, apierr.Wrap(apierr.Database, endpoint+" query", err)
	}
	return rows, nil
}

func (s *Service) emit(ctx context.Context, endpoint, key string, out aside.Outcome, md model.QueryMetadata) {
	s.logger.DebugContext(logger.WithCache(ctx, string(out)), "request served",
		"rows", md.ReturnedRows, "query_time_ms", md.QueryTimeMs)
	s.events.Publish(events.Event{
		Endpoint:    endpoint,
		CacheKey:    key,
		Cached:      md.Cached,
		Rows:        md.ReturnedRows,
		QueryTimeMs: md.QueryTimeMs,
		TS:          s.now().UTC(),
	})
}

func keyPayload(req model.PivotRequest) model.PivotRequest {
	req.CacheBypass = false
	return req
}

func validation(err error) error {
	var ve *query.ValidationError
	if errors.As(err, &ve) {
		return apierr.New(apierr.Validation, ve.Msg)
	}
	return apierr.Wrap(apierr.Internal, "validate", err)
}
