package model

import "time"

// QueryMetadata accompanies every aggregation response.
type QueryMetadata struct {
	TotalRows    uint64 `json:"total_rows"`
	ReturnedRows int    `json:"returned_rows"`
	QueryTimeMs  uint64 `json:"query_time_ms"`
	Cached       bool   `json:"cached"`
}

// NewMetadata builds metadata for a freshly computed result of n rows.
func NewMetadata(n int, elapsed time.Duration) QueryMetadata {
	return QueryMetadata{
		TotalRows:    uint64(n),
		ReturnedRows: n,
		QueryTimeMs:  Millis(elapsed),
		Cached:       false,
	}
}

// MarkCached flags metadata served from cache with the latency of the cache read.
func (m *QueryMetadata) MarkCached(elapsed time.Duration) {
	m.Cached = true
	m.QueryTimeMs = Millis(elapsed)
}

func Millis(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d.Milliseconds())
}

type PivotResponse struct {
	Data     []PivotRow    `json:"data"`
	Metadata QueryMetadata `json:"metadata"`
}

func (r *PivotResponse) MarkCached(elapsed time.Duration) { r.Metadata.MarkCached(elapsed) }

// PivotRow is one result row partitioned into dimension and metric bags.
type PivotRow struct {
	Dimensions map[string]Value   `json:"dimensions"`
	Metrics    map[string]float64 `json:"metrics"`
}

type ExposureResponse struct {
	Data     []ExposureRow `json:"data"`
	Metadata QueryMetadata `json:"metadata"`
}

func (r *ExposureResponse) MarkCached(elapsed time.Duration) { r.Metadata.MarkCached(elapsed) }

type ExposureRow struct {
	Group         string  `json:"group"`
	TotalNotional float64 `json:"total_notional"`
	TotalPnl      float64 `json:"total_pnl"`
	TradeCount    uint64  `json:"trade_count"`
}

type PnlResponse struct {
	Data     []PnlRow      `json:"data"`
	Metadata QueryMetadata `json:"metadata"`
}

func (r *PnlResponse) MarkCached(elapsed time.Duration) { r.Metadata.MarkCached(elapsed) }

type PnlRow struct {
	Groups        map[string]Value `json:"groups"`
	TotalPnl      float64          `json:"total_pnl"`
	TotalNotional float64          `json:"total_notional"`
	TradeCount    uint64           `json:"trade_count"`
}

type InstrumentsResponse struct {
	Instruments []Instrument `json:"instruments"`
	Count       int          `json:"count"`
}

type Instrument struct {
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	AssetClass     string `json:"asset_class"`
	InstrumentType string `json:"instrument_type"`
	Currency       string `json:"currency"`
	Exchange       string `json:"exchange"`
	Sector         string `json:"sector"`
	IsComposite    bool   `json:"is_composite"`
}

type ConstituentsResponse struct {
	Constituents []Constituent `json:"constituents"`
	Count        int           `json:"count"`
}

type Constituent struct {
	ParentSymbol      string  `json:"parent_symbol"`
	ConstituentSymbol string  `json:"constituent_symbol"`
	Weight            float64 `json:"weight"`
	SharesPerUnit     float64 `json:"shares_per_unit"`
	EffectiveDate     string  `json:"effective_date"`
}
