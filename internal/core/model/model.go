// Package model defines the request, response and result-row types shared across the service.
package model

// Row is one raw result row keyed by output column name.
type Row map[string]Value

// ExposureType is the closed set of trade exposure classifications.
type ExposureType string

const (
	ExposureDirect      ExposureType = "Direct"
	ExposureETF         ExposureType = "ETF"
	ExposureETC         ExposureType = "ETC"
	ExposureConstituent ExposureType = "Constituent"
)

func (e ExposureType) Valid() bool {
	switch e {
	case ExposureDirect, ExposureETF, ExposureETC, ExposureConstituent:
		return true
	}
	return false
}

func (e *ExposureType) UnmarshalText(b []byte) error {
	v := ExposureType(b)
	if !v.Valid() {
		return &UnknownValueError{Field: "exposure_type", Value: string(b)}
	}
	*e = v
	return nil
}

// UnknownValueError reports an enum value outside its closed set.
type UnknownValueError struct {
	Field string
	Value string
}

func (e *UnknownValueError) Error() string {
	return "unknown " + e.Field + " " + `"` + e.Value + `"`
}
