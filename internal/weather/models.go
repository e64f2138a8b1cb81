package weather

import (
	"sort"
	"time"
)

// SubjectKind distinguishes real-time stations from forecast locations.
type SubjectKind string

const (
	KindStation  SubjectKind = "station"
	KindLocation SubjectKind = "location"
)

// HierarchyPath places a forecast location inside the upstream geography.
type HierarchyPath struct {
	RegionID string `json:"regionId"`
	ZoneID   string `json:"zoneId"`
}

// Coordinates of a subject in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Subject is a station or location being polled.
type Subject struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"displayName"`
	Kind        SubjectKind    `json:"kind"`
	Hierarchy   *HierarchyPath `json:"hierarchy,omitempty"`
	Coordinates *Coordinates   `json:"coordinates,omitempty"`
}

// Key returns a canonical string key for indexing this subject in stores.
func (s Subject) Key() string {
	return string(s.Kind) + ":" + s.ID
}

// Reading is the latest value of one measurement for one subject.
// Value is nil when the upstream bucket exists but carries no value, or when
// the fetch failed.
type Reading struct {
	Key       string    `json:"key"`
	Value     *float64  `json:"value"`
	Timestamp time.Time `json:"timestamp"` // always UTC
	SubjectID string    `json:"subjectId"`
}

// Snapshot is the immutable result of one station cycle.
// Readings holds exactly one entry per capability; Succeeded and Failed are
// sorted and partition the keys of Readings.
type Snapshot struct {
	SubjectID   string             `json:"subjectId"`
	CycleID     string             `json:"cycleId"`
	Readings    map[string]Reading `json:"readings"`
	Succeeded   []string           `json:"succeeded"`
	Failed      []string           `json:"failed"`
	GeneratedAt time.Time          `json:"generatedAt"`
}

// Keys returns the sorted reading keys.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.Readings))
	for k := range s.Readings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TotalFailure reports whether every attempted measurement failed.
func (s Snapshot) TotalFailure() bool {
	return len(s.Failed) > 0 && len(s.Succeeded) == 0
}

// CurrentConditions holds the latest observed values for a forecast location.
type CurrentConditions struct {
	Temperature   *float64 `json:"temperature"`
	Humidity      *float64 `json:"humidity"`
	Pressure      *float64 `json:"pressure"`
	WindSpeed     *float64 `json:"windSpeed"` // m/s
	WindDirection *float64 `json:"windDirection"`
	Precipitation *float64 `json:"precipitation"`
}

// DayForecast is one entry of the daily outlook.
type DayForecast struct {
	Date           time.Time `json:"date"`
	ConditionCode  string    `json:"conditionCode"`
	Condition      Condition `json:"condition"`
	TemperatureMax *float64  `json:"temperatureMax"`
	TemperatureMin *float64  `json:"temperatureMin"`
	Sunrise        time.Time `json:"sunrise,omitempty"`
	Sunset         time.Time `json:"sunset,omitempty"`
}

// HourForecast is one entry of the hourly outlook.
type HourForecast struct {
	Time                     time.Time `json:"time"`
	ConditionCode            string    `json:"conditionCode"`
	Condition                Condition `json:"condition"`
	Temperature              *float64  `json:"temperature"`
	Precipitation            *float64  `json:"precipitation"`
	PrecipitationProbability *float64  `json:"precipitationProbability"`
	WindSpeed                *float64  `json:"windSpeed"`
	WindDirection            *float64  `json:"windDirection"`
	Humidity                 *float64  `json:"humidity"`
	Pressure                 *float64  `json:"pressure"`
}

// ForecastBlock is the immutable result of one forecast cycle.
// Daily holds at most MaxForecastDays entries ordered by date; Hourly is
// ordered by time.
type ForecastBlock struct {
	SubjectID          string            `json:"subjectId"`
	CycleID            string            `json:"cycleId"`
	CurrentCondition   Condition         `json:"currentCondition"`
	CurrentTemperature *float64          `json:"currentTemperature"`
	Current            CurrentConditions `json:"current"`
	Daily              []DayForecast     `json:"daily"`
	Hourly             []HourForecast    `json:"hourly"`
	GeneratedAt        time.Time         `json:"generatedAt"`
}

// MaxForecastDays bounds ForecastBlock.Daily.
const MaxForecastDays = 7

// Availability is what the presentation layer shows for a subject after the
// latest cycle.
type Availability struct {
	SubjectID   string    `json:"subjectId"`
	Available   bool      `json:"available"`
	Halted      bool      `json:"halted"`
	Reason      string    `json:"reason,omitempty"`
	LastCycleAt time.Time `json:"lastCycleAt"`
}
