package query

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dabbsLondon/pivot-experiment/internal/core/model"
)

func strp(s string) *string { return &s }

func TestPivot_SimpleQuery(t *testing.T) {
	t.Parallel()

	req := model.NewPivotRequest(
		[]model.Dimension{model.DimAssetClass},
		[]model.Metric{model.MetricNotional, model.MetricPnl},
	)
	req.Filters.TradeDate = strp("2024-01-15")

	sql, err := New("pivot").Pivot(req)
	require.NoError(t, err)
	require.Equal(t,
		"SELECT asset_class, sum(notional) AS total_notional, sum(pnl) AS total_pnl FROM pivot.trades_1d "+
			"WHERE trade_date = '2024-01-15' GROUP BY asset_class ORDER BY total_notional DESC LIMIT 100",
		sql)
}

func TestPivot_ExposureTypeFilterRendersEnumText(t *testing.T) {
	t.Parallel()

	req := model.NewPivotRequest([]model.Dimension{model.DimSymbol}, []model.Metric{model.MetricNotional})
	req.Filters.ExposureType = []model.ExposureType{model.ExposureDirect, model.ExposureETF}

	sql, err := New("pivot").Pivot(req)
	require.NoError(t, err)
	require.Contains(t, sql, "WHERE exposure_type IN ('Direct', 'ETF') GROUP BY")
}

func TestPivot_GroupByMatchesSelectedDimensions(t *testing.T) {
	t.Parallel()

	re := regexp.MustCompile(`^SELECT (.+?), (?:sum|avg|count)\(.*GROUP BY (.+?) ORDER BY`)
	cases := [][]model.Dimension{
		{model.DimPortfolioManagerID, model.DimAssetClass, model.DimSymbol},
		{model.DimScenario},
		{model.DimCountry, model.DimRegion, model.DimDesk, model.DimBook},
		model.AllDimensions(),
	}
	for _, dims := range cases {
		req := model.NewPivotRequest(dims, []model.Metric{model.MetricTradeCount, model.MetricPrice})
		sql, err := New("pivot").Pivot(req)
		require.NoError(t, err)

		m := re.FindStringSubmatch(sql)
		require.Len(t, m, 3, sql)
		require.Equal(t, m[1], m[2])

		cols := make([]string, len(dims))
		for i, d := range dims {
			cols[i] = d.Column()
		}
		require.Equal(t, strings.Join(cols, ", "), m[2])
	}
}

func TestPivot_InjectionAttemptIsNeutralised(t *testing.T) {
	t.Parallel()

	hostile := []string{
		"2024-01-15'; DROP TABLE trades_1d; --",
		"Equity' OR '1'='1",
		"x\"; SELECT 1",
		"a\\'b",
	}
	for _, v := range hostile {
		req := model.NewPivotRequest([]model.Dimension{model.DimAssetClass}, []model.Metric{model.MetricNotional})
		req.Filters.TradeDate = strp(v)
		req.Filters.AssetClass = []string{v}
		req.Filters.Desk = []string{v}
		rng := model.DateRange{Start: v, End: v}
		req.Filters.TradeDateRange = &rng

		sql, err := New("pivot").Pivot(req)
		require.NoError(t, err)
		require.NotContains(t, sql, "DROP TABLE")
		require.NotContains(t, sql, ";")
		require.NotContains(t, sql, `"`)
		require.NotContains(t, sql, `\`)
		// every quote in the text delimits a literal
		require.Zero(t, strings.Count(sql, "'")%2, sql)
		require.NotContains(t, sql, "''")
	}
}

func TestPivot_EmptyListsAddNoClause(t *testing.T) {
	t.Parallel()

	req := model.NewPivotRequest([]model.Dimension{model.DimDesk}, []model.Metric{model.MetricPnl})
	req.Filters = model.PivotFilters{
		ExposureType:       []model.ExposureType{},
		PortfolioManagerID: []uint32{},
		AssetClass:         []string{},
		Country:            nil,
	}
	sql, err := New("pivot").Pivot(req)
	require.NoError(t, err)
	require.NotContains(t, sql, "WHERE")
}

func TestPivot_FilterOrderSortAndPaging(t *testing.T) {
	t.Parallel()

	req := model.NewPivotRequest([]model.Dimension{model.DimDesk, model.DimBook}, []model.Metric{model.MetricPnl})
	req.Filters = model.PivotFilters{
		Country:            []string{"GB"},
		FundID:             []uint32{3, 4},
		PortfolioManagerID: []uint32{7},
		TradeDateRange:     &model.DateRange{Start: "2024-01-01", End: "2024-01-31"},
		Region:             []string{"EMEA"},
	}
	req.Sort = &model.SortSpec{Field: "book", Direction: model.SortAsc}
	req.Limit = 25
	req.Offset = 50

	sql, err := New("pivot").Pivot(req)
	require.NoError(t, err)
	require.Equal(t,
		"SELECT desk, book, sum(pnl) AS total_pnl FROM pivot.trades_1d WHERE "+
			"trade_date >= '2024-01-01' AND trade_date <= '2024-01-31' AND "+
			"portfolio_manager_id IN (7) AND fund_id IN (3, 4) AND "+
			"region IN ('EMEA') AND country IN ('GB') "+
			"GROUP BY desk, book ORDER BY book ASC LIMIT 25 OFFSET 50",
		sql)
}

func TestPivot_CompileIsIdempotent(t *testing.T) {
	t.Parallel()

	req := model.NewPivotRequest(
		[]model.Dimension{model.DimRegion, model.DimAssetClass},
		[]model.Metric{model.MetricDelta, model.MetricGamma, model.MetricTradeCount},
	)
	req.Filters.Symbol = []string{"AAPL", "MSFT"}
	c := New("pivot")
	a, err := c.Pivot(req)
	require.NoError(t, err)
	b, err := c.Pivot(req)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestValidatePivot_RulesInOrder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		req  model.PivotRequest
		msg  string
	}{
		{"no dimensions or metrics", model.PivotRequest{}, "at least one dimension required"},
		{"no metrics", model.PivotRequest{Dimensions: []model.Dimension{model.DimDesk}}, "at least one metric required"},
		{"zero dimension", model.PivotRequest{Dimensions: []model.Dimension{0}, Metrics: []model.Metric{model.MetricPnl}}, "unknown dimension"},
		{
			"sort outside selection",
			model.PivotRequest{
				Dimensions: []model.Dimension{model.DimDesk},
				Metrics:    []model.Metric{model.MetricPnl},
				Sort:       &model.SortSpec{Field: "1; DROP TABLE x", Direction: model.SortDesc},
			},
			`invalid sort field "1; DROP TABLE x" (allowed: desk, total_pnl)`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sql, err := New("pivot").Pivot(tc.req)
			require.Empty(t, sql)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "want ValidationError, got %v", err)
			require.Contains(t, ve.Msg, tc.msg)
		})
	}
}

func TestPivot_SortByMetricAlias(t *testing.T) {
	t.Parallel()

	req := model.NewPivotRequest([]model.Dimension{model.DimDesk}, []model.Metric{model.MetricPnl, model.MetricPrice})
	req.Sort = &model.SortSpec{Field: "avg_price", Direction: model.SortDesc}
	sql, err := New("pivot").Pivot(req)
	require.NoError(t, err)
	require.Contains(t, sql, "ORDER BY avg_price DESC LIMIT 100")
}

func TestExposure_Views(t *testing.T) {
	t.Parallel()

	cases := map[model.ExposureView]string{
		"":                    "exposure_type IN ('Direct', 'ETF', 'ETC')",
		model.ViewTopLevel:    "exposure_type IN ('Direct', 'ETF', 'ETC')",
		model.ViewLookThrough: "exposure_type IN ('Direct', 'Constituent')",
		model.ViewAll:         "1=1",
	}
	for view, clause := range cases {
		sql, err := New("pivot").Exposure(model.ExposureQuery{TradeDate: "2024-01-15", GroupBy: "desk", View: view})
		require.NoError(t, err)
		require.Equal(t,
			"SELECT toString(desk) AS group_value, sum(notional) AS total_notional, sum(pnl) AS total_pnl, "+
				"count() AS trade_count FROM pivot.trades_1d WHERE trade_date = '2024-01-15' AND "+clause+
				" GROUP BY desk ORDER BY total_notional DESC LIMIT 100",
			sql)
	}
}

func TestExposure_RejectsColumnOutsideWhitelist(t *testing.T) {
	t.Parallel()

	for _, g := range []string{"exposure_type", "password", "desk; DROP TABLE trades_1d", ""} {
		sql, err := New("pivot").Exposure(model.ExposureQuery{TradeDate: "2024-01-15", GroupBy: g})
		require.Empty(t, sql)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		require.Contains(t, ve.Msg, "allowed: asset_class, symbol")
	}
}

func TestExposure_TradeDateSanitised(t *testing.T) {
	t.Parallel()

	sql, err := New("pivot").Exposure(model.ExposureQuery{TradeDate: "2024-01-15' OR 1=1; --", GroupBy: "symbol"})
	require.NoError(t, err)
	require.Contains(t, sql, "trade_date = '2024-01-15OR11--'")
	require.NotContains(t, sql, ";")
}

func TestPnl_Query(t *testing.T) {
	t.Parallel()

	sql, err := New("pivot").Pnl(model.PnlQuery{TradeDate: "2024-01-15", GroupBy: []string{"fund_id", "desk"}})
	require.NoError(t, err)
	require.Equal(t,
		"SELECT fund_id, desk, sum(pnl) AS total_pnl, sum(notional) AS total_notional, count() AS trade_count "+
			"FROM pivot.trades_1d WHERE trade_date = '2024-01-15' GROUP BY fund_id, desk ORDER BY total_pnl DESC LIMIT 100",
		sql)
}

func TestPnl_Validation(t *testing.T) {
	t.Parallel()

	_, err := New("pivot").Pnl(model.PnlQuery{TradeDate: "2024-01-15"})
	require.EqualError(t, err, "at least one group_by column required")

	_, err = New("pivot").Pnl(model.PnlQuery{TradeDate: "2024-01-15", GroupBy: []string{"desk", "underlying_symbol"}})
	require.ErrorContains(t, err, `invalid group_by column "underlying_symbol"`)

	_, err = New("pivot").Pnl(model.PnlQuery{GroupBy: []string{"desk"}})
	require.EqualError(t, err, "trade_date required")
}

func TestListings(t *testing.T) {
	t.Parallel()

	c := New("pivot")
	require.Equal(t,
		"SELECT symbol, name, asset_class, instrument_type, currency, exchange, sector, is_composite FROM pivot.instruments ORDER BY symbol",
		c.Instruments(model.InstrumentsQuery{}))
	require.Equal(t,
		"SELECT symbol, name, asset_class, instrument_type, currency, exchange, sector, is_composite FROM pivot.instruments "+
			"WHERE asset_class = 'Fixed Income' AND instrument_type = 'ETF' ORDER BY symbol",
		c.Instruments(model.InstrumentsQuery{AssetClass: strp("Fixed Income"), InstrumentType: strp("E'T;F")}))
	require.Equal(t,
		"SELECT parent_symbol, constituent_symbol, weight, shares_per_unit, toString(effective_date) AS effective_date "+
			"FROM pivot.constituents WHERE parent_symbol = 'SPY' ORDER BY parent_symbol, weight DESC",
		c.Constituents(model.ConstituentsQuery{ParentSymbol: strp("SPY")}))
}

func TestTableQualification(t *testing.T) {
	t.Parallel()

	require.Equal(t, "SELECT symbol, name, asset_class, instrument_type, currency, exchange, sector, is_composite FROM instruments ORDER BY symbol",
		New(" ").Instruments(model.InstrumentsQuery{}))
}

func TestSanitizers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		fn   func(string) string
		in   string
		want string
	}{
		{pivotLiteral, "2024-01-15", "2024-01-15"},
		{pivotLiteral, "US-TECH", "USTECH"},
		{pivotLiteral, "Rates_EU", "Rates_EU"},
		{pivotLiteral, "O'Brien", "OBrien"},
		{pivotLiteral, "Zürich", "Zürich"},
		{dateLiteral, "2024-01-15'", "2024-01-15"},
		{dateLiteral, "2024_01 15", "2024_0115"},
		{listingLiteral, "Fixed Income", "Fixed Income"},
		{listingLiteral, "a'; --b", "a --b"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.fn(c.in), c.in)
	}
}
