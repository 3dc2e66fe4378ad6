package main

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/dabbsLondon/pivot-experiment/internal/core/model"
)

// dimension sets analysts commonly pivot on, hottest first
var hotDimensionSets = [][]model.Dimension{
	{model.DimAssetClass},
	{model.DimDesk},
	{model.DimPortfolioManagerID},
	{model.DimAssetClass, model.DimRegion},
	{model.DimDesk, model.DimBook},
	{model.DimFundID, model.DimAssetClass},
	{model.DimSymbol},
	{model.DimTradeDate, model.DimDesk},
}

var metricSets = [][]model.Metric{
	{model.MetricNotional, model.MetricPnl},
	{model.MetricPnl, model.MetricTradeCount},
	{model.MetricNotional, model.MetricQuantity, model.MetricTradeCount},
	{model.MetricDelta, model.MetricGamma},
}

var regions = []string{"NA", "EMEA", "APAC", "LATAM"}

// makeWorkload builds count distinct pivot bodies. Low indexes are the hot working set.
func makeWorkload(count int, days int, base time.Time, r *rand.Rand) ([][]byte, error) {
	if days < 1 {
		days = 1
	}
	out := make([][]byte, 0, count)
	seen := make(map[string]struct{}, count)
	for attempts := 0; len(out) < count && attempts < count*20; attempts++ {
		i := len(out)
		req := model.NewPivotRequest(
			hotDimensionSets[i%len(hotDimensionSets)],
			metricSets[(i/len(hotDimensionSets))%len(metricSets)],
		)
		d := base.AddDate(0, 0, -r.Intn(days)).Format(time.DateOnly)
		req.Filters.TradeDate = &d
		if r.Float64() < 0.3 {
			req.Filters.Region = []string{regions[r.Intn(len(regions))]}
		}
		if r.Float64() < 0.2 {
			req.Filters.ExposureType = []model.ExposureType{model.ExposureDirect}
		}
		b, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("marshal workload request: %w", err)
		}
		if _, dup := seen[string(b)]; dup {
			continue
		}
		seen[string(b)] = struct{}{}
		out = append(out, b)
	}
	return out, nil
}

func percentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sortedValues[0]
	}
	if p >= 100 {
		return sortedValues[len(sortedValues)-1]
	}
	k := (p / 100.0) * float64(len(sortedValues)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sortedValues)-1 {
		return sortedValues[len(sortedValues)-1]
	}
	d := k - f
	return sortedValues[i]*(1-d) + sortedValues[i+1]*d
}
