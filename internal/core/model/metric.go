package model

import (
	"fmt"
	"strings"
)

// Metric is an aggregation over a fact column exposed under a fixed alias.
type Metric uint8

const (
	MetricQuantity Metric = iota + 1
	MetricNotional
	MetricPnl
	MetricPrice
	MetricDelta
	MetricGamma
	MetricVega
	MetricTheta
	MetricRho
	MetricMargin
	MetricFees
	MetricSlippage
	MetricExposure
	MetricTradeCount
)

type metricDef struct {
	name        string
	aggregation string
	alias       string
}

var metricDefs = [...]metricDef{
	MetricQuantity:   {"quantity", "sum(quantity)", "total_quantity"},
	MetricNotional:   {"notional", "sum(notional)", "total_notional"},
	MetricPnl:        {"pnl", "sum(pnl)", "total_pnl"},
	MetricPrice:      {"price", "avg(price)", "avg_price"},
	MetricDelta:      {"delta", "sum(delta)", "total_delta"},
	MetricGamma:      {"gamma", "sum(gamma)", "total_gamma"},
	MetricVega:       {"vega", "sum(vega)", "total_vega"},
	MetricTheta:      {"theta", "sum(theta)", "total_theta"},
	MetricRho:        {"rho", "sum(rho)", "total_rho"},
	MetricMargin:     {"margin", "sum(margin)", "total_margin"},
	MetricFees:       {"fees", "sum(fees)", "total_fees"},
	MetricSlippage:   {"slippage", "sum(slippage)", "total_slippage"},
	MetricExposure:   {"exposure", "sum(exposure)", "total_exposure"},
	MetricTradeCount: {"trade_count", "count()", "trade_count"},
}

var metricByName = func() map[string]Metric {
	m := make(map[string]Metric, len(metricDefs))
	for _, mt := range AllMetrics() {
		m[mt.Name()] = mt
	}
	return m
}()

// AllMetrics lists every metric in declaration order.
func AllMetrics() []Metric {
	out := make([]Metric, 0, len(metricDefs)-1)
	for m := MetricQuantity; int(m) < len(metricDefs); m++ {
		out = append(out, m)
	}
	return out
}

func (m Metric) def() metricDef {
	if m == 0 || int(m) >= len(metricDefs) {
		return metricDef{}
	}
	return metricDefs[m]
}

// Name is the request-facing symbol.
func (m Metric) Name() string { return m.def().name }

// Aggregation returns the aggregation expression, e.g. "sum(pnl)".
func (m Metric) Aggregation() string { return m.def().aggregation }

// Alias is the output column name used in the compiled query and the response.
func (m Metric) Alias() string { return m.def().alias }

func (m Metric) String() string { return m.Name() }

func (m Metric) Valid() bool { return m.Name() != "" }

func ParseMetric(s string) (Metric, error) {
	if m, ok := metricByName[strings.TrimSpace(s)]; ok {
		return m, nil
	}
	return 0, &UnknownValueError{Field: "metric", Value: s}
}

func (m Metric) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid metric %d", uint8(m))
	}
	return []byte(m.Name()), nil
}

func (m *Metric) UnmarshalText(b []byte) error {
	v, err := ParseMetric(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
