package weather

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"testing"
)

var deusto = Subject{ID: "C040", Kind: KindStation}

func TestDiscoveryIntersectsCatalogAndCaches(t *testing.T) {
	src := fiveSensorStation()
	d := NewDiscovery(src, DefaultMeasurements, discardLogger())
	ctx := context.Background()

	set, stale, err := d.GetOrFetch(ctx, deusto, "tok")
	if err != nil || stale {
		t.Fatalf("GetOrFetch: %v stale=%v", err, stale)
	}
	want := []string{"humidity", "precipitation", "pressure", "temperature", "wind_speed"}
	if !reflect.DeepEqual(set.Keys(), want) {
		t.Fatalf("keys = %v, want %v", set.Keys(), want)
	}
	if set["pressure"].SensorID != "SN2" || set["pressure"].Measure != refPressure {
		t.Errorf("pressure entry = %+v", set["pressure"])
	}
	if d.StationName() != "Deusto" {
		t.Errorf("station name = %q", d.StationName())
	}

	if _, _, err := d.GetOrFetch(ctx, deusto, "tok"); err != nil {
		t.Fatalf("second GetOrFetch: %v", err)
	}
	if src.detailCalls.Load() != 1 || src.sensorCalls.Load() != 3 {
		t.Fatalf("discovery repeated: detail=%d sensors=%d", src.detailCalls.Load(), src.sensorCalls.Load())
	}
}

func TestDiscoveryFirstSensorWins(t *testing.T) {
	src := &fakeStations{
		detail: StationDetail{SensorIDs: []string{"A", "B"}},
		sensors: map[string][]MeasureRef{
			"A": {refTemperature},
			"B": {refTemperature, refHumidity},
		},
	}
	set, _, err := NewDiscovery(src, nil, discardLogger()).GetOrFetch(context.Background(), deusto, "tok")
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if set["temperature"].SensorID != "A" || set["humidity"].SensorID != "B" {
		t.Fatalf("set = %+v", set)
	}
}

func TestDiscoveryEmptySetIsValidAndLoggedOnce(t *testing.T) {
	h := &captureHandler{}
	src := &fakeStations{
		detail:  StationDetail{SensorIDs: []string{"A"}},
		sensors: map[string][]MeasureRef{"A": {refUnknown}},
	}
	d := NewDiscovery(src, nil, slog.New(h))

	for i := 0; i < 3; i++ {
		set, _, err := d.GetOrFetch(context.Background(), deusto, "tok")
		if err != nil {
			t.Fatalf("GetOrFetch: %v", err)
		}
		if len(set) != 0 {
			t.Fatalf("expected empty set, got %v", set.Keys())
		}
		d.Invalidate()
	}
	if n := h.count("subject exposes no known measurements"); n != 1 {
		t.Fatalf("empty-set warnings = %d, want 1", n)
	}
}

func TestDiscoverySensorFailureFailsWholeDiscovery(t *testing.T) {
	src := fiveSensorStation()
	src.sensorErr = map[string]error{"SN2": errServer}
	d := NewDiscovery(src, nil, discardLogger())

	set, stale, err := d.GetOrFetch(context.Background(), deusto, "tok")
	var derr *DiscoveryError
	if !errors.As(err, &derr) {
		t.Fatalf("expected *DiscoveryError, got %v", err)
	}
	if set != nil || stale {
		t.Fatalf("expected no set, got %v stale=%v", set, stale)
	}

	// nothing was cached: a later success discovers from scratch
	src.set(func(f *fakeStations) { f.sensorErr = nil })
	set, _, err = d.GetOrFetch(context.Background(), deusto, "tok")
	if err != nil || len(set) != 5 {
		t.Fatalf("retry: %v, %v", set.Keys(), err)
	}
}

func TestDiscoveryStaleFallbackAfterInvalidate(t *testing.T) {
	src := fiveSensorStation()
	d := NewDiscovery(src, nil, discardLogger())
	ctx := context.Background()

	first, _, err := d.GetOrFetch(ctx, deusto, "tok")
	if err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}

	d.Invalidate()
	src.set(func(f *fakeStations) { f.detailErr = errServer })

	set, stale, err := d.GetOrFetch(ctx, deusto, "tok")
	if err == nil || !stale {
		t.Fatalf("expected stale fallback with error, got err=%v stale=%v", err, stale)
	}
	if !reflect.DeepEqual(set, first) {
		t.Fatalf("stale set differs from cached set")
	}

	src.set(func(f *fakeStations) {
		f.detailErr = nil
		f.sensors["SN3"] = nil
	})
	set, stale, err = d.GetOrFetch(ctx, deusto, "tok")
	if err != nil || stale {
		t.Fatalf("refresh: %v stale=%v", err, stale)
	}
	if _, ok := set["precipitation"]; ok {
		t.Fatalf("refresh did not replace the cached set")
	}
}

func TestDiscoveryErrorKeepsStatusForClassification(t *testing.T) {
	src := &fakeStations{detailErr: errUnauthorized}
	_, _, err := NewDiscovery(src, nil, discardLogger()).GetOrFetch(context.Background(), deusto, "tok")
	if Classify(err) != OutcomeAuthFailure {
		t.Fatalf("Classify(%v) = %v", err, Classify(err))
	}
}
