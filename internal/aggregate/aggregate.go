// Package aggregate reshapes raw aggregation rows into the response row types.
package aggregate

import (
	"math"
	"strings"

	"github.com/dabbsLondon/pivot-experiment/internal/core/model"
)

// IsMetric reports whether an output column holds an aggregated measure. The rule
// is a naming convention shared with every alias the query compiler emits.
func IsMetric(column string) bool {
	return strings.HasPrefix(column, "total_") ||
		strings.HasSuffix(column, "_count") ||
		column == "avg_price"
}

// PivotRow partitions one row. Metric columns with non-numeric or non-finite values are dropped.
func PivotRow(r model.Row) model.PivotRow {
	out := model.PivotRow{
		Dimensions: make(map[string]model.Value, len(r)),
		Metrics:    make(map[string]float64, len(r)),
	}
	for col, v := range r {
		if !IsMetric(col) {
			out.Dimensions[col] = v
			continue
		}
		if f, ok := finite(v); ok {
			out.Metrics[col] = f
		}
	}
	return out
}

func finite(v model.Value) (float64, bool) {
	f, ok := v.Float64()
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func PivotRows(rows []model.Row) []model.PivotRow {
	out := make([]model.PivotRow, len(rows))
	for i, r := range rows {
		out[i] = PivotRow(r)
	}
	return out
}
