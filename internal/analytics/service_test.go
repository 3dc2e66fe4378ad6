package analytics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/dabbsLondon/pivot-experiment/internal/cache"
	"github.com/dabbsLondon/pivot-experiment/internal/cache/aside"
	"github.com/dabbsLondon/pivot-experiment/internal/cache/keys"
	"github.com/dabbsLondon/pivot-experiment/internal/cache/memstore"
	"github.com/dabbsLondon/pivot-experiment/internal/cache/redisstore"
	"github.com/dabbsLondon/pivot-experiment/internal/core/apierr"
	"github.com/dabbsLondon/pivot-experiment/internal/core/model"
	"github.com/dabbsLondon/pivot-experiment/internal/events"
	"github.com/dabbsLondon/pivot-experiment/internal/query"
)

type fakeExec struct {
	mu      sync.Mutex
	rows    []model.Row
	err     error
	queries []string
}

func (f *fakeExec) Query(_ context.Context, sql string) ([]model.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, sql)
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func (f *fakeExec) Ping(context.Context) error { return nil }

func (f *fakeExec) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type recordSink struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recordSink) Publish(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *recordSink) Close() error { return nil }

// countingStore counts every store call.
type countingStore struct {
	cache.Store
	mu  sync.Mutex
	ops int
}

func (c *countingStore) Get(ctx context.Context, k string) ([]byte, bool, error) {
	c.mu.Lock()
	c.ops++
	c.mu.Unlock()
	return c.Store.Get(ctx, k)
}

func (c *countingStore) Set(ctx context.Context, k string, v []byte, ttl time.Duration) error {
	c.mu.Lock()
	c.ops++
	c.mu.Unlock()
	return c.Store.Set(ctx, k, v, ttl)
}

var ttls = aside.TTLs{Default: 5 * time.Minute, Overrides: map[string]time.Duration{"pnl": 30 * time.Second}}

func newService(t *testing.T, exec *fakeExec, st cache.Store, sink events.Sink) *Service {
	t.Helper()
	o := aside.New(st, aside.Config{Enabled: true, OpTimeout: time.Second, Codec: cache.Codec{CompressMin: 64}}, nil)
	return New(query.New("pivot"), exec, o, ttls, sink, nil)
}

func newMem(t *testing.T) *memstore.Store {
	t.Helper()
	st, err := memstore.New(256)
	require.NoError(t, err)
	return st
}

func pivotReq() model.PivotRequest {
	d := "2024-01-15"
	req := model.NewPivotRequest(
		[]model.Dimension{model.DimAssetClass},
		[]model.Metric{model.MetricNotional, model.MetricTradeCount},
	)
	req.Filters.TradeDate = &d
	return req
}

func TestPivot_FreshThenCached(t *testing.T) {
	exec := &fakeExec{rows: []model.Row{
		{"asset_class": model.String("Equity"), "total_notional": model.Float(1000), "trade_count": model.Int(5)},
		{"asset_class": model.String("Rates"), "total_notional": model.Float(250.5), "trade_count": model.Int(2)},
	}}
	sink := &recordSink{}
	svc := newService(t, exec, newMem(t), sink)

	first, err := svc.Pivot(context.Background(), pivotReq())
	require.NoError(t, err)
	require.False(t, first.Metadata.Cached)
	require.Equal(t, uint64(2), first.Metadata.TotalRows)
	require.Equal(t, 2, first.Metadata.ReturnedRows)
	require.Equal(t, model.String("Equity"), first.Data[0].Dimensions["asset_class"])
	require.Equal(t, 1000.0, first.Data[0].Metrics["total_notional"])
	require.Equal(t, 5.0, first.Data[0].Metrics["trade_count"])

	second, err := svc.Pivot(context.Background(), pivotReq())
	require.NoError(t, err)
	require.True(t, second.Metadata.Cached)
	require.Equal(t, first.Data, second.Data)
	require.Equal(t, 1, exec.calls(), "hit must not reach the executor")

	require.Len(t, sink.evs, 2)
	require.False(t, sink.evs[0].Cached)
	require.True(t, sink.evs[1].Cached)
	require.True(t, strings.HasPrefix(sink.evs[0].CacheKey, "pivot:query:"))
	require.Equal(t, sink.evs[0].CacheKey, sink.evs[1].CacheKey)
}

func TestPivot_BypassAlwaysComputes(t *testing.T) {
	exec := &fakeExec{rows: []model.Row{{"desk": model.String("Rates"), "total_pnl": model.Float(1)}}}
	st := &countingStore{Store: newMem(t)}
	svc := newService(t, exec, st, nil)

	req := model.NewPivotRequest([]model.Dimension{model.DimDesk}, []model.Metric{model.MetricPnl})
	req.CacheBypass = true
	for range 2 {
		resp, err := svc.Pivot(context.Background(), req)
		require.NoError(t, err)
		require.False(t, resp.Metadata.Cached)
	}
	require.Equal(t, 2, exec.calls())
	require.Zero(t, st.ops)
}

func TestPivot_BypassFlagDoesNotChangeKey(t *testing.T) {
	exec := &fakeExec{rows: []model.Row{{"desk": model.String("Rates"), "total_pnl": model.Float(1)}}}
	svc := newService(t, exec, newMem(t), nil)

	req := model.NewPivotRequest([]model.Dimension{model.DimDesk}, []model.Metric{model.MetricPnl})
	_, err := svc.Pivot(context.Background(), req)
	require.NoError(t, err)

	want, err := keys.Derive("pivot:query", req)
	require.NoError(t, err)
	bypassed := req
	bypassed.CacheBypass = true
	got, err := keys.Derive("pivot:query", keyPayload(bypassed))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestValidationFailuresPerformNoIO(t *testing.T) {
	exec := &fakeExec{}
	st := &countingStore{Store: newMem(t)}
	svc := newService(t, exec, st, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
		msg  string
	}{
		{"no dimensions", func() error {
			_, err := svc.Pivot(ctx, model.NewPivotRequest(nil, []model.Metric{model.MetricPnl}))
			return err
		}, "at least one dimension required"},
		{"no metrics", func() error {
			_, err := svc.Pivot(ctx, model.NewPivotRequest([]model.Dimension{model.DimDesk}, nil))
			return err
		}, "at least one metric required"},
		{"exposure group_by", func() error {
			_, err := svc.Exposure(ctx, model.ExposureQuery{TradeDate: "2024-01-15", GroupBy: "notional"})
			return err
		}, `invalid group_by "notional"`},
		{"pnl group_by", func() error {
			_, err := svc.Pnl(ctx, model.PnlQuery{TradeDate: "2024-01-15", GroupBy: []string{"desk", "pnl"}})
			return err
		}, `invalid group_by column "pnl"`},
		{"pnl empty", func() error {
			_, err := svc.Pnl(ctx, model.PnlQuery{TradeDate: "2024-01-15"})
			return err
		}, "at least one group_by column required"},
	}
	for _, tc := range cases {
		err := tc.call()
		require.Error(t, err, tc.name)
		e := apierr.As(err)
		require.Equal(t, apierr.Validation, e.Kind, tc.name)
		require.Contains(t, e.Public(), tc.msg, tc.name)
	}
	require.Zero(t, exec.calls())
	require.Zero(t, st.ops)
}

func TestExecutorFailureIsDatabaseError(t *testing.T) {
	exec := &fakeExec{err: errors.New("code: 241, Memory limit exceeded")}
	svc := newService(t, exec, newMem(t), nil)

	_, err := svc.Pivot(context.Background(), pivotReq())
	require.Error(t, err)
	e := apierr.As(err)
	require.Equal(t, apierr.Database, e.Kind)
	require.Equal(t, "Database error", e.Public())

	// failures are not cached
	exec.err = nil
	resp, err := svc.Pivot(context.Background(), pivotReq())
	require.NoError(t, err)
	require.False(t, resp.Metadata.Cached)
	require.Equal(t, 2, exec.calls())
}

func TestExposure_DefaultViewAndCaching(t *testing.T) {
	exec := &fakeExec{rows: []model.Row{
		{"group_value": model.String("Equity"), "total_notional": model.Float(10), "total_pnl": model.Float(-1), "trade_count": model.Int(3)},
	}}
	svc := newService(t, exec, newMem(t), nil)

	q := model.ExposureQuery{TradeDate: "2024-01-15", GroupBy: "asset_class"}
	first, err := svc.Exposure(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, []model.ExposureRow{{Group: "Equity", TotalNotional: 10, TotalPnl: -1, TradeCount: 3}}, first.Data)
	require.Contains(t, exec.queries[0], "exposure_type IN ('Direct', 'ETF', 'ETC')")

	// an explicit top_level view is the same request
	q.View = model.ViewTopLevel
	second, err := svc.Exposure(context.Background(), q)
	require.NoError(t, err)
	require.True(t, second.Metadata.Cached)
	require.Equal(t, 1, exec.calls())

	q.View = model.ViewAll
	third, err := svc.Exposure(context.Background(), q)
	require.NoError(t, err)
	require.False(t, third.Metadata.Cached)
	require.Contains(t, exec.queries[1], "AND 1=1")
}

func TestPnl_UsesNamespaceTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	exec := &fakeExec{rows: []model.Row{
		{"desk": model.String("Rates"), "book": model.String("B1"), "total_pnl": model.Float(7), "total_notional": model.Float(70), "trade_count": model.Int(1)},
	}}
	svc := newService(t, exec, rc, nil)

	q := model.PnlQuery{TradeDate: "2024-01-15", GroupBy: []string{"desk", "book"}}
	resp, err := svc.Pnl(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, model.String("B1"), resp.Data[0].Groups["book"])

	key, err := keys.Derive("pnl", q)
	require.NoError(t, err)
	require.True(t, mr.Exists(key))
	require.Equal(t, 30*time.Second, mr.TTL(key))

	cached, err := svc.Pnl(context.Background(), q)
	require.NoError(t, err)
	require.True(t, cached.Metadata.Cached)
	require.Equal(t, resp.Data, cached.Data)

	mr.FastForward(31 * time.Second)
	again, err := svc.Pnl(context.Background(), q)
	require.NoError(t, err)
	require.False(t, again.Metadata.Cached)
	require.Equal(t, 2, exec.calls())
}

func TestInstruments_UnfilteredListingIsCached(t *testing.T) {
	exec := &fakeExec{rows: []model.Row{
		{"symbol": model.String("AAPL"), "name": model.String("Apple"), "asset_class": model.String("Equity"),
			"instrument_type": model.String("Stock"), "currency": model.String("USD"), "exchange": model.String("NASDAQ"),
			"sector": model.String("Tech"), "is_composite": model.Int(0)},
	}}
	mr := miniredis.RunT(t)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	svc := newService(t, exec, rc, nil)

	first, err := svc.Instruments(context.Background(), model.InstrumentsQuery{})
	require.NoError(t, err)
	second, err := svc.Instruments(context.Background(), model.InstrumentsQuery{})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, second.Count)
	require.Equal(t, 1, exec.calls())
	require.True(t, mr.Exists(keys.InstrumentsAll))
	require.Equal(t, time.Hour, mr.TTL(keys.InstrumentsAll))

	ac := "Equity"
	_, err = svc.Instruments(context.Background(), model.InstrumentsQuery{AssetClass: &ac})
	require.NoError(t, err)
	_, err = svc.Instruments(context.Background(), model.InstrumentsQuery{AssetClass: &ac})
	require.NoError(t, err)
	require.Equal(t, 3, exec.calls(), "filtered listings always recompute")
	require.Contains(t, exec.queries[2], "WHERE asset_class = 'Equity'")
}

func TestConstituents_UnfilteredListingIsCached(t *testing.T) {
	exec := &fakeExec{rows: []model.Row{
		{"parent_symbol": model.String("SPY"), "constituent_symbol": model.String("AAPL"),
			"weight": model.Float(0.07), "shares_per_unit": model.Float(0.5), "effective_date": model.String("2024-01-01")},
	}}
	svc := newService(t, exec, newMem(t), nil)

	first, err := svc.Constituents(context.Background(), model.ConstituentsQuery{})
	require.NoError(t, err)
	second, err := svc.Constituents(context.Background(), model.ConstituentsQuery{})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, exec.calls())
	require.Equal(t, "SPY", second.Constituents[0].ParentSymbol)
}

func TestDisabledCache(t *testing.T) {
	exec := &fakeExec{rows: []model.Row{{"desk": model.String("Rates"), "total_pnl": model.Float(1)}}}
	svc := New(query.New("pivot"), exec, nil, ttls, nil, nil)

	req := model.NewPivotRequest([]model.Dimension{model.DimDesk}, []model.Metric{model.MetricPnl})
	for range 2 {
		resp, err := svc.Pivot(context.Background(), req)
		require.NoError(t, err)
		require.False(t, resp.Metadata.Cached)
	}
	_, err := svc.Instruments(context.Background(), model.InstrumentsQuery{})
	require.NoError(t, err)
	require.Equal(t, 3, exec.calls())
}
