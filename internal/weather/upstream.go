package weather

import "time"

// MeasureRef identifies a measurement on the upstream API.
type MeasureRef struct {
	Type string `json:"measureType"`
	ID   string `json:"measureId"`
}

// StationDetail is the decoded first discovery step.
type StationDetail struct {
	Name      string
	SensorIDs []string
}

// Bucket is an hourly upstream reading bucket, always in UTC.
type Bucket struct {
	Start time.Time
}

// ReadingRequest addresses one reading bucket.
type ReadingRequest struct {
	StationID string
	SensorID  string
	Measure   MeasureRef
	Bucket    Bucket
}

// ReadingStatus tags the decoded reading response.
type ReadingStatus int

const (
	ReadingValue ReadingStatus = iota
	ReadingNull
	ReadingNotFound
)

func (s ReadingStatus) String() string {
	switch s {
	case ReadingValue:
		return "value"
	case ReadingNull:
		return "null"
	case ReadingNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// ReadingResponse is a successful reading call. Value is only meaningful when
// Status is ReadingValue. Non-2xx answers other than 404 are returned as
// *StatusError instead.
type ReadingResponse struct {
	Status ReadingStatus
	Value  float64
}

// Region is a top level node of the forecast geography.
type Region struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Zones []Zone `json:"zones,omitempty"`
}

// Zone groups forecast locations inside a region.
type Zone struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RegionID  string    `json:"regionId"`
	Locations []Subject `json:"locations,omitempty"`
}

// Hierarchy is the region → zone → location tree.
type Hierarchy struct {
	Regions []Region `json:"regions"`
}

// Report is the decoded "last report" for a forecast location.
type Report struct {
	ConditionCode string
	Current       CurrentConditions
}

// DailyTrend is one decoded day of the daily trends endpoint.
// Sunrise/Sunset are zero when the upstream does not supply them.
type DailyTrend struct {
	Date          time.Time
	ConditionCode string
	Max           *float64
	Min           *float64
	Sunrise       time.Time
	Sunset        time.Time
}

// HourlyTrend is one decoded hour of the hourly trends endpoint. Hour is the
// local hour the entry covers on the requested target day.
type HourlyTrend struct {
	Hour                     int
	ConditionCode            string
	Temperature              *float64
	Precipitation            *float64
	PrecipitationProbability *float64
	WindSpeed                *float64
	WindDirection            *float64
	Humidity                 *float64
	Pressure                 *float64
}
