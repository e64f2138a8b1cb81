package weather

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/i474232898/euskalmet-poller/internal/auth"
)

// captureHandler records log records for assertion in tests.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(name string) slog.Handler { return h }

func (h *captureHandler) count(msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Message == msg {
			n++
		}
	}
	return n
}

func discardLogger() *slog.Logger {
	return slog.New(&captureHandler{})
}

// fakeTokens hands out "tok-<generation>" and bumps the generation on Invalidate.
type fakeTokens struct {
	mu            sync.Mutex
	gen           int
	err           error
	invalidations atomic.Int32
	ensureCalls   atomic.Int32
}

func (f *fakeTokens) EnsureValid(p auth.Profile) (auth.Token, error) {
	f.ensureCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return auth.Token{}, f.err
	}
	return auth.Token{Value: fmt.Sprintf("tok-%d", f.gen), Profile: p, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeTokens) Invalidate() {
	f.invalidations.Add(1)
	f.mu.Lock()
	f.gen++
	f.mu.Unlock()
}

// fakeStations is a scripted StationSource.
type fakeStations struct {
	mu        sync.Mutex
	detail    StationDetail
	detailErr error
	sensors   map[string][]MeasureRef
	sensorErr map[string]error
	reading   func(bearer string, req ReadingRequest) (ReadingResponse, error)

	detailCalls  atomic.Int32
	sensorCalls  atomic.Int32
	readingCalls atomic.Int32
}

func (f *fakeStations) StationDetail(ctx context.Context, bearer, stationID string) (StationDetail, error) {
	f.detailCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detail, f.detailErr
}

func (f *fakeStations) SensorMeasures(ctx context.Context, bearer, sensorID string) ([]MeasureRef, error) {
	f.sensorCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sensorErr[sensorID]; err != nil {
		return nil, err
	}
	return f.sensors[sensorID], nil
}

func (f *fakeStations) Reading(ctx context.Context, bearer string, req ReadingRequest) (ReadingResponse, error) {
	f.readingCalls.Add(1)
	if f.reading == nil {
		return ReadingResponse{Status: ReadingValue, Value: 1}, nil
	}
	return f.reading(bearer, req)
}

func (f *fakeStations) set(fn func(f *fakeStations)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

var (
	refTemperature = MeasureRef{Type: CategoryAir, ID: "temperature"}
	refHumidity    = MeasureRef{Type: CategoryAir, ID: "humidity"}
	refWindSpeed   = MeasureRef{Type: CategoryWind, ID: "mean_speed"}
	refPressure    = MeasureRef{Type: CategoryAtmosphere, ID: "pressure"}
	refPrecip      = MeasureRef{Type: CategoryWater, ID: "precipitation"}
	refUnknown     = MeasureRef{Type: "measuresForSoil", ID: "moisture"}
)

// fiveSensorStation exposes five catalog measurements plus one unknown.
func fiveSensorStation() *fakeStations {
	return &fakeStations{
		detail: StationDetail{Name: "Deusto", SensorIDs: []string{"SN1", "SN2", "SN3"}},
		sensors: map[string][]MeasureRef{
			"SN1": {refTemperature, refHumidity},
			"SN2": {refWindSpeed, refPressure, refUnknown},
			"SN3": {refPrecip},
		},
	}
}

type unavailable struct {
	subjectID string
	reason    string
	halted    bool
}

// recordSink remembers everything published to it.
type recordSink struct {
	mu          sync.Mutex
	snapshots   []Snapshot
	forecasts   []ForecastBlock
	unavailable []unavailable
}

func (s *recordSink) PublishSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
}

func (s *recordSink) PublishForecast(block ForecastBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forecasts = append(s.forecasts, block)
}

func (s *recordSink) MarkUnavailable(subjectID, reason string, at time.Time, halted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = append(s.unavailable, unavailable{subjectID, reason, halted})
}

func (s *recordSink) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots), len(s.forecasts), len(s.unavailable)
}

var (
	errUnauthorized = &StatusError{Code: http.StatusUnauthorized}
	errServer       = &StatusError{Code: http.StatusInternalServerError}
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
