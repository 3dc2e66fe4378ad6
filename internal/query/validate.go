package query

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dabbsLondon/pivot-experiment/internal/core/model"
)

// ValidationError reports a request that breaks a structural or whitelist rule.
// The message is safe to return to the caller.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// group-by whitelists of the single-purpose aggregation endpoints
var (
	exposureGroupBy = []string{
		"asset_class",
		"symbol",
		"underlying_symbol",
		"instrument_type",
		"portfolio_manager_id",
		"fund_id",
		"desk",
		"book",
		"region",
		"country",
	}
	pnlGroupBy = []string{
		"portfolio_manager_id",
		"fund_id",
		"desk",
		"book",
		"asset_class",
		"symbol",
		"exposure_type",
		"region",
		"country",
	}
)

// ExposureGroupBy returns a copy of the exposure group-by whitelist.
func ExposureGroupBy() []string { return slices.Clone(exposureGroupBy) }

// PnlGroupBy returns a copy of the pnl group-by whitelist.
func PnlGroupBy() []string { return slices.Clone(pnlGroupBy) }

// ValidatePivot checks a pivot request. Rules run in order and the first failure wins:
// dimensions present, metrics present, every symbol known, sort field selectable.
func ValidatePivot(req model.PivotRequest) error {
	if len(req.Dimensions) == 0 {
		return invalid("at least one dimension required")
	}
	if len(req.Metrics) == 0 {
		return invalid("at least one metric required")
	}
	for _, d := range req.Dimensions {
		if !d.Valid() {
			return invalid("unknown dimension %d", uint8(d))
		}
	}
	for _, m := range req.Metrics {
		if !m.Valid() {
			return invalid("unknown metric %d", uint8(m))
		}
	}
	if req.Sort != nil {
		allowed := sortable(req)
		if !slices.Contains(allowed, req.Sort.Field) {
			return invalid("invalid sort field %q (allowed: %s)", req.Sort.Field, strings.Join(allowed, ", "))
		}
	}
	return nil
}

// sortable lists the output columns of the request: dimension columns then metric aliases.
func sortable(req model.PivotRequest) []string {
	out := make([]string, 0, len(req.Dimensions)+len(req.Metrics))
	for _, d := range req.Dimensions {
		out = append(out, d.Column())
	}
	for _, m := range req.Metrics {
		out = append(out, m.Alias())
	}
	return out
}

func ValidateExposure(q model.ExposureQuery) error {
	if strings.TrimSpace(q.TradeDate) == "" {
		return invalid("trade_date required")
	}
	if !slices.Contains(exposureGroupBy, q.GroupBy) {
		return invalid("invalid group_by %q (allowed: %s)", q.GroupBy, strings.Join(exposureGroupBy, ", "))
	}
	if _, err := model.ParseExposureView(string(q.View)); err != nil {
		return invalid("%s", err.Error())
	}
	return nil
}

func ValidatePnl(q model.PnlQuery) error {
	if strings.TrimSpace(q.TradeDate) == "" {
		return invalid("trade_date required")
	}
	for _, col := range q.GroupBy {
		if !slices.Contains(pnlGroupBy, col) {
			return invalid("invalid group_by column %q (allowed: %s)", col, strings.Join(pnlGroupBy, ", "))
		}
	}
	if len(q.GroupBy) == 0 {
		return invalid("at least one group_by column required")
	}
	return nil
}
