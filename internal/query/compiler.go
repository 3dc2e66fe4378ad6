// Package query compiles validated analytical requests into ClickHouse SQL text.
//
// Identifiers come only from closed enums or whitelists. Literal values are
// interpolated after passing a restrictive character filter (see sanitize.go).
package query

import (
	"strconv"
	"strings"

	"github.com/dabbsLondon/pivot-experiment/internal/core/model"
)

const (
	tradesTable       = "trades_1d"
	instrumentsTable  = "instruments"
	constituentsTable = "constituents"

	aggregateLimit = 100
)

// Compiler renders query text against the tables of one database. It holds no
// mutable state and is safe for concurrent use.
type Compiler struct {
	database string
}

func New(database string) *Compiler {
	return &Compiler{database: strings.TrimSpace(database)}
}

func (c *Compiler) table(name string) string {
	if c.database == "" {
		return name
	}
	return c.database + "." + name
}

// Pivot compiles a pivot request. The GROUP BY list always equals the selected
// dimension columns in request order.
func (c *Compiler) Pivot(req model.PivotRequest) (string, error) {
	if err := ValidatePivot(req); err != nil {
		return "", err
	}

	dims := make([]string, len(req.Dimensions))
	for i, d := range req.Dimensions {
		dims[i] = d.Column()
	}
	sel := make([]string, 0, len(dims)+len(req.Metrics))
	sel = append(sel, dims...)
	for _, m := range req.Metrics {
		sel = append(sel, m.Aggregation()+" AS "+m.Alias())
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(sel, ", "))
	b.WriteString(" FROM ")
	b.WriteString(c.table(tradesTable))
	if where := pivotFilters(req.Filters); len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" GROUP BY ")
	b.WriteString(strings.Join(dims, ", "))

	b.WriteString(" ORDER BY ")
	if req.Sort != nil {
		b.WriteString(req.Sort.Field)
		b.WriteByte(' ')
		b.WriteString(req.Sort.Direction.Keyword())
	} else {
		b.WriteString(req.Metrics[0].Alias())
		b.WriteString(" DESC")
	}

	b.WriteString(" LIMIT ")
	b.WriteString(strconv.FormatUint(uint64(req.Limit), 10))
	if req.Offset > 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.FormatUint(uint64(req.Offset), 10))
	}
	return b.String(), nil
}

// pivotFilters renders one clause per present filter in a fixed field order.
// Empty lists contribute nothing.
func pivotFilters(f model.PivotFilters) []string {
	var out []string
	if f.TradeDate != nil {
		out = append(out, "trade_date = "+quote(pivotLiteral(*f.TradeDate)))
	}
	if r := f.TradeDateRange; r != nil {
		out = append(out, "trade_date >= "+quote(pivotLiteral(r.Start))+" AND trade_date <= "+quote(pivotLiteral(r.End)))
	}
	if len(f.ExposureType) > 0 {
		vals := make([]string, len(f.ExposureType))
		for i, e := range f.ExposureType {
			vals[i] = quote(string(e))
		}
		out = append(out, in("exposure_type", vals))
	}
	out = appendIDs(out, "portfolio_manager_id", f.PortfolioManagerID)
	out = appendIDs(out, "fund_id", f.FundID)
	out = appendStrings(out, "asset_class", f.AssetClass)
	out = appendStrings(out, "symbol", f.Symbol)
	out = appendStrings(out, "underlying_symbol", f.UnderlyingSymbol)
	out = appendStrings(out, "parent_symbol", f.ParentSymbol)
	out = appendStrings(out, "desk", f.Desk)
	out = appendStrings(out, "book", f.Book)
	out = appendStrings(out, "region", f.Region)
	out = appendStrings(out, "country", f.Country)
	return out
}

func appendIDs(out []string, col string, ids []uint32) []string {
	if len(ids) == 0 {
		return out
	}
	vals := make([]string, len(ids))
	for i, id := range ids {
		vals[i] = strconv.FormatUint(uint64(id), 10)
	}
	return append(out, in(col, vals))
}

func appendStrings(out []string, col string, ss []string) []string {
	if len(ss) == 0 {
		return out
	}
	vals := make([]string, len(ss))
	for i, s := range ss {
		vals[i] = quote(pivotLiteral(s))
	}
	return append(out, in(col, vals))
}

func in(col string, vals []string) string {
	return col + " IN (" + strings.Join(vals, ", ") + ")"
}

func viewFilter(v model.ExposureView) string {
	switch v {
	case model.ViewLookThrough:
		return "exposure_type IN ('Direct', 'Constituent')"
	case model.ViewAll:
		return "1=1"
	default:
		return "exposure_type IN ('Direct', 'ETF', 'ETC')"
	}
}

// Exposure compiles a single-column exposure aggregation for one trade date.
func (c *Compiler) Exposure(q model.ExposureQuery) (string, error) {
	if err := ValidateExposure(q); err != nil {
		return "", err
	}
	view, _ := model.ParseExposureView(string(q.View))

	var b strings.Builder
	b.WriteString("SELECT toString(")
	b.WriteString(q.GroupBy)
	b.WriteString(") AS group_value, sum(notional) AS total_notional, sum(pnl) AS total_pnl, count() AS trade_count FROM ")
	b.WriteString(c.table(tradesTable))
	b.WriteString(" WHERE trade_date = ")
	b.WriteString(quote(dateLiteral(q.TradeDate)))
	b.WriteString(" AND ")
	b.WriteString(viewFilter(view))
	b.WriteString(" GROUP BY ")
	b.WriteString(q.GroupBy)
	b.WriteString(" ORDER BY total_notional DESC LIMIT ")
	b.WriteString(strconv.Itoa(aggregateLimit))
	return b.String(), nil
}

// Pnl compiles a multi-column P&L aggregation for one trade date.
func (c *Compiler) Pnl(q model.PnlQuery) (string, error) {
	if err := ValidatePnl(q); err != nil {
		return "", err
	}
	cols := strings.Join(q.GroupBy, ", ")

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(cols)
	b.WriteString(", sum(pnl) AS total_pnl, sum(notional) AS total_notional, count() AS trade_count FROM ")
	b.WriteString(c.table(tradesTable))
	b.WriteString(" WHERE trade_date = ")
	b.WriteString(quote(dateLiteral(q.TradeDate)))
	b.WriteString(" GROUP BY ")
	b.WriteString(cols)
	b.WriteString(" ORDER BY total_pnl DESC LIMIT ")
	b.WriteString(strconv.Itoa(aggregateLimit))
	return b.String(), nil
}

// Instruments lists reference instruments, optionally filtered by exact match.
func (c *Compiler) Instruments(q model.InstrumentsQuery) string {
	var where []string
	if q.AssetClass != nil {
		where = append(where, "asset_class = "+quote(listingLiteral(*q.AssetClass)))
	}
	if q.InstrumentType != nil {
		where = append(where, "instrument_type = "+quote(listingLiteral(*q.InstrumentType)))
	}
	return listing(
		"SELECT symbol, name, asset_class, instrument_type, currency, exchange, sector, is_composite FROM "+c.table(instrumentsTable),
		where,
		"symbol",
	)
}

// Constituents lists composite-instrument weights, heaviest first within a parent.
func (c *Compiler) Constituents(q model.ConstituentsQuery) string {
	var where []string
	if q.ParentSymbol != nil {
		where = append(where, "parent_symbol = "+quote(listingLiteral(*q.ParentSymbol)))
	}
	if q.ConstituentSymbol != nil {
		where = append(where, "constituent_symbol = "+quote(listingLiteral(*q.ConstituentSymbol)))
	}
	return listing(
		"SELECT parent_symbol, constituent_symbol, weight, shares_per_unit, toString(effective_date) AS effective_date FROM "+c.table(constituentsTable),
		where,
		"parent_symbol, weight DESC",
	)
}

func listing(base string, where []string, order string) string {
	var b strings.Builder
	b.WriteString(base)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(order)
	return b.String()
}
