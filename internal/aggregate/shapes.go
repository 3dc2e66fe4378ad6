package aggregate

import "github.com/dabbsLondon/pivot-experiment/internal/core/model"

// fixed output columns of the exposure and pnl queries
const (
	colGroupValue    = "group_value"
	colTotalNotional = "total_notional"
	colTotalPnl      = "total_pnl"
	colTradeCount    = "trade_count"
)

func ExposureRows(rows []model.Row) []model.ExposureRow {
	out := make([]model.ExposureRow, len(rows))
	for i, r := range rows {
		out[i] = model.ExposureRow{
			Group:         r[colGroupValue].Text(),
			TotalNotional: num(r[colTotalNotional]),
			TotalPnl:      num(r[colTotalPnl]),
			TradeCount:    count(r[colTradeCount]),
		}
	}
	return out
}

// PnlRows lifts the three measures out of each row; every other column is a group.
func PnlRows(rows []model.Row) []model.PnlRow {
	out := make([]model.PnlRow, len(rows))
	for i, r := range rows {
		row := model.PnlRow{Groups: make(map[string]model.Value, len(r))}
		for col, v := range r {
			switch col {
			case colTotalPnl:
				row.TotalPnl = num(v)
			case colTotalNotional:
				row.TotalNotional = num(v)
			case colTradeCount:
				row.TradeCount = count(v)
			default:
				row.Groups[col] = v
			}
		}
		out[i] = row
	}
	return out
}

func Instruments(rows []model.Row) []model.Instrument {
	out := make([]model.Instrument, len(rows))
	for i, r := range rows {
		out[i] = model.Instrument{
			Symbol:         r["symbol"].Text(),
			Name:           r["name"].Text(),
			AssetClass:     r["asset_class"].Text(),
			InstrumentType: r["instrument_type"].Text(),
			Currency:       r["currency"].Text(),
			Exchange:       r["exchange"].Text(),
			Sector:         r["sector"].Text(),
			IsComposite:    truthy(r["is_composite"]),
		}
	}
	return out
}

func Constituents(rows []model.Row) []model.Constituent {
	out := make([]model.Constituent, len(rows))
	for i, r := range rows {
		out[i] = model.Constituent{
			ParentSymbol:      r["parent_symbol"].Text(),
			ConstituentSymbol: r["constituent_symbol"].Text(),
			Weight:            num(r["weight"]),
			SharesPerUnit:     num(r["shares_per_unit"]),
			EffectiveDate:     r["effective_date"].Text(),
		}
	}
	return out
}

func num(v model.Value) float64 {
	f, _ := finite(v)
	return f
}

func count(v model.Value) uint64 {
	if v.Kind() == model.KindInt {
		if v.Int64() < 0 {
			return 0
		}
		return uint64(v.Int64())
	}
	f, ok := finite(v)
	if !ok || f < 0 {
		return 0
	}
	return uint64(f)
}

// ClickHouse has no native bool in older schemas; UInt8 1 means true.
func truthy(v model.Value) bool {
	switch v.Kind() {
	case model.KindBool:
		return v.Boolean()
	case model.KindInt:
		return v.Int64() != 0
	case model.KindString:
		return v.Str() == "true" || v.Str() == "1"
	}
	return false
}
