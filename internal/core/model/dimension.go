package model

import (
	"fmt"
	"strings"
)

// Dimension is a groupable column of the trade fact table. The set is closed:
// values outside it cannot be decoded from a request.
type Dimension uint8

const (
	DimTradeDate Dimension = iota + 1
	DimPortfolioManagerID
	DimFundID
	DimPortfolioID
	DimAccountID
	DimDesk
	DimBook
	DimStrategy
	DimRegion
	DimCountry
	DimVenue
	DimAssetClass
	DimProduct
	DimInstrumentType
	DimSymbol
	DimUnderlyingSymbol
	DimParentSymbol
	DimExposureType
	DimCurrency
	DimCounterparty
	DimRiskBucket
	DimScenario
)

// the request name doubles as the physical column for every dimension
var dimensionColumns = [...]string{
	DimTradeDate:          "trade_date",
	DimPortfolioManagerID: "portfolio_manager_id",
	DimFundID:             "fund_id",
	DimPortfolioID:        "portfolio_id",
	DimAccountID:          "account_id",
	DimDesk:               "desk",
	DimBook:               "book",
	DimStrategy:           "strategy",
	DimRegion:             "region",
	DimCountry:            "country",
	DimVenue:              "venue",
	DimAssetClass:         "asset_class",
	DimProduct:            "product",
	DimInstrumentType:     "instrument_type",
	DimSymbol:             "symbol",
	DimUnderlyingSymbol:   "underlying_symbol",
	DimParentSymbol:       "parent_symbol",
	DimExposureType:       "exposure_type",
	DimCurrency:           "currency",
	DimCounterparty:       "counterparty",
	DimRiskBucket:         "risk_bucket",
	DimScenario:           "scenario",
}

var dimensionByName = func() map[string]Dimension {
	m := make(map[string]Dimension, len(dimensionColumns))
	for _, d := range AllDimensions() {
		m[d.Column()] = d
	}
	return m
}()

// AllDimensions lists every dimension in declaration order.
func AllDimensions() []Dimension {
	out := make([]Dimension, 0, len(dimensionColumns)-1)
	for d := DimTradeDate; int(d) < len(dimensionColumns); d++ {
		out = append(out, d)
	}
	return out
}

// Column returns the grouping column expression.
func (d Dimension) Column() string {
	if d == 0 || int(d) >= len(dimensionColumns) {
		return ""
	}
	return dimensionColumns[d]
}

func (d Dimension) String() string { return d.Column() }

func (d Dimension) Valid() bool { return d.Column() != "" }

func ParseDimension(s string) (Dimension, error) {
	if d, ok := dimensionByName[strings.TrimSpace(s)]; ok {
		return d, nil
	}
	return 0, &UnknownValueError{Field: "dimension", Value: s}
}

func (d Dimension) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid dimension %d", uint8(d))
	}
	return []byte(d.Column()), nil
}

func (d *Dimension) UnmarshalText(b []byte) error {
	v, err := ParseDimension(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
