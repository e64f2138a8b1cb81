package weather

import (
	"context"
	"time"

	"github.com/i474232898/euskalmet-poller/internal/auth"
)

// TokenSource hands out bearer tokens. Implemented by *auth.Manager.
type TokenSource interface {
	EnsureValid(profile auth.Profile) (auth.Token, error)
	Invalidate()
}

// StationSource is the part of the upstream API used by station cycles.
type StationSource interface {
	StationDetail(ctx context.Context, bearer, stationID string) (StationDetail, error)
	SensorMeasures(ctx context.Context, bearer, sensorID string) ([]MeasureRef, error)
	Reading(ctx context.Context, bearer string, req ReadingRequest) (ReadingResponse, error)
}

// CatalogSource is the part of the upstream API used at setup time.
type CatalogSource interface {
	Stations(ctx context.Context, bearer string) ([]Subject, error)
	Regions(ctx context.Context, bearer string) ([]Region, error)
	Zones(ctx context.Context, bearer, regionID string) ([]Zone, error)
	Locations(ctx context.Context, bearer, regionID, zoneID string) ([]Subject, error)
}

// ForecastSource is the part of the upstream API used by forecast cycles.
type ForecastSource interface {
	Report(ctx context.Context, bearer string, loc Subject, day time.Time) (Report, error)
	DailyTrends(ctx context.Context, bearer string, loc Subject, day time.Time) ([]DailyTrend, error)
	HourlyTrends(ctx context.Context, bearer string, loc Subject, issued, target time.Time) ([]HourlyTrend, error)
}

// Sink receives the outcome of every cycle. The in-memory store and the MQTT
// publisher both implement it.
type Sink interface {
	PublishSnapshot(snapshot Snapshot)
	PublishForecast(block ForecastBlock)
	MarkUnavailable(subjectID, reason string, at time.Time, halted bool)
}

// Store is the contract the in-memory store (and any future persistent store) must satisfy.
type Store interface {
	Sink
	GetLatest(subjectID string) (Snapshot, error)
	GetRange(subjectID string, from, to time.Time) ([]Snapshot, error)
	GetForecast(subjectID string) (ForecastBlock, error)
	GetAvailability(subjectID string) (Availability, error)
}

// MultiSink fans a cycle outcome out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) PublishSnapshot(snapshot Snapshot) {
	for _, s := range m {
		s.PublishSnapshot(snapshot)
	}
}

func (m MultiSink) PublishForecast(block ForecastBlock) {
	for _, s := range m {
		s.PublishForecast(block)
	}
}

func (m MultiSink) MarkUnavailable(subjectID, reason string, at time.Time, halted bool) {
	for _, s := range m {
		s.MarkUnavailable(subjectID, reason, at, halted)
	}
}
