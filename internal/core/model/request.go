package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

const DefaultLimit uint32 = 100

// PivotRequest is the body of POST /api/v1/pivot.
type PivotRequest struct {
	Dimensions  []Dimension  `json:"dimensions"`
	Metrics     []Metric     `json:"metrics"`
	Filters     PivotFilters `json:"filters"`
	Sort        *SortSpec    `json:"sort,omitempty"`
	Limit       uint32       `json:"limit"`
	Offset      uint32       `json:"offset"`
	CacheBypass bool         `json:"cache_bypass"`
}

// UnmarshalJSON applies the request defaults for fields missing from the body.
func (r *PivotRequest) UnmarshalJSON(b []byte) error {
	type plain PivotRequest
	p := plain{Limit: DefaultLimit}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = PivotRequest(p)
	return nil
}

// NewPivotRequest returns a request with default limit and no filters.
func NewPivotRequest(dims []Dimension, metrics []Metric) PivotRequest {
	return PivotRequest{Dimensions: dims, Metrics: metrics, Limit: DefaultLimit}
}

// PivotFilters holds the optional filter catalogue. A nil or empty list means no constraint.
type PivotFilters struct {
	TradeDate          *string        `json:"trade_date,omitempty"`
	TradeDateRange     *DateRange     `json:"trade_date_range,omitempty"`
	ExposureType       []ExposureType `json:"exposure_type,omitempty"`
	PortfolioManagerID []uint32       `json:"portfolio_manager_id,omitempty"`
	FundID             []uint32       `json:"fund_id,omitempty"`
	AssetClass         []string       `json:"asset_class,omitempty"`
	Symbol             []string       `json:"symbol,omitempty"`
	UnderlyingSymbol   []string       `json:"underlying_symbol,omitempty"`
	ParentSymbol       []string       `json:"parent_symbol,omitempty"`
	Desk               []string       `json:"desk,omitempty"`
	Book               []string       `json:"book,omitempty"`
	Region             []string       `json:"region,omitempty"`
	Country            []string       `json:"country,omitempty"`
}

type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

func (d *SortDirection) UnmarshalText(b []byte) error {
	switch v := SortDirection(strings.ToLower(string(b))); v {
	case SortAsc, SortDesc:
		*d = v
		return nil
	case "":
		*d = SortDesc
		return nil
	default:
		return &UnknownValueError{Field: "sort direction", Value: string(b)}
	}
}

// Keyword renders the SQL direction keyword; anything but asc sorts descending.
func (d SortDirection) Keyword() string {
	if d == SortAsc {
		return "ASC"
	}
	return "DESC"
}

type SortSpec struct {
	Field     string        `json:"field"`
	Direction SortDirection `json:"direction"`
}

func (s *SortSpec) UnmarshalJSON(b []byte) error {
	type plain SortSpec
	p := plain{Direction: SortDesc}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = SortSpec(p)
	return nil
}

// ExposureView selects which exposure types an exposure aggregation covers.
type ExposureView string

const (
	ViewTopLevel    ExposureView = "top_level"
	ViewLookThrough ExposureView = "look_through"
	ViewAll         ExposureView = "all"
)

func ParseExposureView(s string) (ExposureView, error) {
	switch v := ExposureView(strings.TrimSpace(s)); v {
	case ViewTopLevel, ViewLookThrough, ViewAll:
		return v, nil
	case "":
		return ViewTopLevel, nil
	default:
		return "", fmt.Errorf("unknown view %q (allowed: top_level, look_through, all)", s)
	}
}

// ExposureQuery parameterises GET /api/v1/exposure.
type ExposureQuery struct {
	TradeDate   string       `json:"trade_date"`
	GroupBy     string       `json:"group_by"`
	View        ExposureView `json:"view"`
	CacheBypass bool         `json:"cache_bypass"`
}

// PnlQuery parameterises GET /api/v1/pnl.
type PnlQuery struct {
	TradeDate   string   `json:"trade_date"`
	GroupBy     []string `json:"group_by"`
	CacheBypass bool     `json:"cache_bypass"`
}

type InstrumentsQuery struct {
	AssetClass     *string `json:"asset_class,omitempty"`
	InstrumentType *string `json:"instrument_type,omitempty"`
}

func (q InstrumentsQuery) Unfiltered() bool {
	return q.AssetClass == nil && q.InstrumentType == nil
}

type ConstituentsQuery struct {
	ParentSymbol      *string `json:"parent_symbol,omitempty"`
	ConstituentSymbol *string `json:"constituent_symbol,omitempty"`
}

func (q ConstituentsQuery) Unfiltered() bool {
	return q.ParentSymbol == nil && q.ConstituentSymbol == nil
}
