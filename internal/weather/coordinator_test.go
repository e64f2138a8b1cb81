package weather

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/i474232898/euskalmet-poller/internal/auth"
)

var cycleTime = time.Date(2025, 3, 1, 12, 15, 0, 0, time.UTC)

func newStation(src *fakeStations, tokens *fakeTokens, sink *recordSink) *StationCoordinator {
	return NewStationCoordinator(StationConfig{
		Subject: deusto,
		Tokens:  tokens,
		Source:  src,
		Sink:    sink,
		Now:     fixedNow(cycleTime),
		Logger:  discardLogger(),
	})
}

func TestStationCyclePartialSuccess(t *testing.T) {
	src := fiveSensorStation()
	src.reading = func(bearer string, req ReadingRequest) (ReadingResponse, error) {
		if req.Measure == refPressure {
			return ReadingResponse{}, ErrTransient
		}
		return ReadingResponse{Status: ReadingValue, Value: 21.5}, nil
	}
	sink := &recordSink{}
	c := newStation(src, &fakeTokens{}, sink)

	snap, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantOK := []string{"humidity", "precipitation", "temperature", "wind_speed"}
	if !reflect.DeepEqual(snap.Succeeded, wantOK) {
		t.Errorf("succeeded = %v, want %v", snap.Succeeded, wantOK)
	}
	if !reflect.DeepEqual(snap.Failed, []string{"pressure"}) {
		t.Errorf("failed = %v", snap.Failed)
	}
	if snap.Readings["pressure"].Value != nil {
		t.Errorf("failed reading carries a value")
	}
	if v := snap.Readings["temperature"].Value; v == nil || *v != 21.5 {
		t.Errorf("temperature = %v", v)
	}
	if snap.CycleID == "" {
		t.Errorf("missing cycle id")
	}
	if got := snap.Readings["temperature"].Timestamp; !got.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("reading timestamp = %v", got)
	}

	snaps, _, unavail := sink.counts()
	if snaps != 1 || unavail != 0 {
		t.Fatalf("sink got %d snapshots, %d unavailable", snaps, unavail)
	}
}

func TestSnapshotKeysMatchCapabilities(t *testing.T) {
	src := fiveSensorStation()
	c := newStation(src, &fakeTokens{}, &recordSink{})

	snap, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	set, _, _ := c.discovery.GetOrFetch(context.Background(), deusto, "tok-0")
	if !reflect.DeepEqual(snap.Keys(), set.Keys()) {
		t.Fatalf("snapshot keys %v != capability keys %v", snap.Keys(), set.Keys())
	}
	if len(snap.Succeeded)+len(snap.Failed) != len(set) {
		t.Fatalf("succeeded+failed does not cover the set")
	}
}

func TestConsecutiveCyclesDiscoverOnce(t *testing.T) {
	src := fiveSensorStation()
	sink := &recordSink{}
	c := newStation(src, &fakeTokens{}, sink)

	for i := 0; i < 2; i++ {
		if _, err := c.Run(context.Background()); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}
	if n := src.detailCalls.Load(); n != 1 {
		t.Fatalf("detail calls = %d, want 1", n)
	}
	if n := src.sensorCalls.Load(); n != 3 {
		t.Fatalf("sensor calls = %d, want 3", n)
	}
	if n := src.readingCalls.Load(); n != 10 {
		t.Fatalf("reading calls = %d, want 10", n)
	}
	if snaps, _, _ := sink.counts(); snaps != 2 {
		t.Fatalf("published %d snapshots, want 2", snaps)
	}
}

func TestEmptyReadingCountsAsSucceeded(t *testing.T) {
	src := fiveSensorStation()
	src.reading = func(bearer string, req ReadingRequest) (ReadingResponse, error) {
		if req.Measure == refPrecip {
			return ReadingResponse{Status: ReadingNull}, nil
		}
		if req.Measure == refHumidity {
			return ReadingResponse{Status: ReadingNotFound}, nil
		}
		return ReadingResponse{Status: ReadingValue, Value: 3}, nil
	}
	c := newStation(src, &fakeTokens{}, &recordSink{})

	snap, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(snap.Failed) != 0 || len(snap.Succeeded) != 5 {
		t.Fatalf("succeeded=%v failed=%v", snap.Succeeded, snap.Failed)
	}
	if snap.Readings["precipitation"].Value != nil || snap.Readings["humidity"].Value != nil {
		t.Fatalf("empty readings carry values")
	}
}

func TestAllUnauthorizedInvalidatesOnce(t *testing.T) {
	src := fiveSensorStation()
	src.reading = func(bearer string, req ReadingRequest) (ReadingResponse, error) {
		return ReadingResponse{}, errUnauthorized
	}
	tokens := &fakeTokens{}
	sink := &recordSink{}
	c := newStation(src, tokens, sink)

	_, err := c.Run(context.Background())
	if !errors.Is(err, ErrTotalFailure) {
		t.Fatalf("expected ErrTotalFailure, got %v", err)
	}
	if n := tokens.invalidations.Load(); n != 1 {
		t.Fatalf("Invalidate called %d times, want 1", n)
	}
	// every fetch is retried at most once
	if n := src.readingCalls.Load(); n > 10 {
		t.Fatalf("reading called %d times for 5 measurements", n)
	}

	snaps, _, unavail := sink.counts()
	if snaps != 0 || unavail != 1 {
		t.Fatalf("sink got %d snapshots, %d unavailable", snaps, unavail)
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %v", c.State())
	}

	// the budget is per cycle
	_, _ = c.Run(context.Background())
	if n := tokens.invalidations.Load(); n != 2 {
		t.Fatalf("Invalidate called %d times after two cycles, want 2", n)
	}
}

func TestAuthFailureRetriesWithFreshToken(t *testing.T) {
	src := fiveSensorStation()
	src.reading = func(bearer string, req ReadingRequest) (ReadingResponse, error) {
		if bearer == "tok-0" {
			return ReadingResponse{}, errUnauthorized
		}
		return ReadingResponse{Status: ReadingValue, Value: 1}, nil
	}
	tokens := &fakeTokens{}
	c := newStation(src, tokens, &recordSink{})

	snap, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(snap.Failed) != 0 {
		t.Fatalf("failed = %v", snap.Failed)
	}
	if tokens.invalidations.Load() != 1 {
		t.Fatalf("invalidations = %d", tokens.invalidations.Load())
	}
}

func TestDiscoveryAuthFailureSharesBudget(t *testing.T) {
	src := fiveSensorStation()
	src.detailErr = errUnauthorized
	tokens := &fakeTokens{}
	sink := &recordSink{}
	c := newStation(src, tokens, sink)

	_, err := c.Run(context.Background())
	var derr *DiscoveryError
	if !errors.As(err, &derr) {
		t.Fatalf("expected *DiscoveryError, got %v", err)
	}
	if tokens.invalidations.Load() != 1 || src.detailCalls.Load() != 2 {
		t.Fatalf("invalidations=%d detail calls=%d", tokens.invalidations.Load(), src.detailCalls.Load())
	}
	if src.readingCalls.Load() != 0 {
		t.Fatalf("fetched readings without capabilities")
	}
}

func TestDiscoveryFailureKeepsPreviousSnapshot(t *testing.T) {
	src := fiveSensorStation()
	sink := &recordSink{}
	c := newStation(src, &fakeTokens{}, sink)

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// a brand-new coordinator has no cache to fall back on
	broken := fiveSensorStation()
	broken.detailErr = errServer
	c2 := newStation(broken, &fakeTokens{}, sink)
	if _, err := c2.Run(context.Background()); err == nil {
		t.Fatalf("expected discovery error")
	}

	snaps, _, unavail := sink.counts()
	if snaps != 1 || unavail != 1 {
		t.Fatalf("sink got %d snapshots, %d unavailable", snaps, unavail)
	}
	if sink.unavailable[0].halted {
		t.Fatalf("discovery failure must not halt")
	}
}

func TestStaleCapabilitiesStillPoll(t *testing.T) {
	src := fiveSensorStation()
	sink := &recordSink{}
	c := newStation(src, &fakeTokens{}, sink)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	c.Rediscover()
	src.set(func(f *fakeStations) { f.detailErr = errServer })

	snap, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run with stale capabilities: %v", err)
	}
	if len(snap.Readings) != 5 {
		t.Fatalf("readings = %d", len(snap.Readings))
	}
}

func TestEmptyCapabilitySetPublishesEmptySnapshot(t *testing.T) {
	src := &fakeStations{detail: StationDetail{SensorIDs: []string{"A"}}, sensors: map[string][]MeasureRef{"A": {refUnknown}}}
	sink := &recordSink{}
	c := newStation(src, &fakeTokens{}, sink)

	snap, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(snap.Readings) != 0 || snap.TotalFailure() {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snaps, _, _ := sink.counts(); snaps != 1 {
		t.Fatalf("empty snapshot not published")
	}
}

func TestOverlappingRunIsNoop(t *testing.T) {
	src := fiveSensorStation()
	started := make(chan struct{}, 16)
	release := make(chan struct{})
	src.reading = func(bearer string, req ReadingRequest) (ReadingResponse, error) {
		started <- struct{}{}
		<-release
		return ReadingResponse{Status: ReadingValue, Value: 1}, nil
	}
	c := newStation(src, &fakeTokens{}, &recordSink{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background())
		done <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle never started fetching")
	}
	if c.State() != StateFetching {
		t.Fatalf("state = %v, want fetching", c.State())
	}

	if _, err := c.Run(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Fatalf("second Run err = %v, want ErrCycleInProgress", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if c.Cycles() != 1 {
		t.Fatalf("cycles = %d, want 1", c.Cycles())
	}
	if c.State() != StateIdle {
		t.Fatalf("state after cycle = %v", c.State())
	}
}

func TestCredentialErrorHalts(t *testing.T) {
	src := fiveSensorStation()
	tokens := &fakeTokens{err: &auth.CredentialError{Reason: "parse private key"}}
	sink := &recordSink{}
	c := newStation(src, tokens, sink)

	_, err := c.Run(context.Background())
	if !IsCredentialError(err) {
		t.Fatalf("expected credential error, got %v", err)
	}
	if c.State() != StateHalted {
		t.Fatalf("state = %v, want halted", c.State())
	}
	if len(sink.unavailable) != 1 || !sink.unavailable[0].halted {
		t.Fatalf("unavailable = %+v", sink.unavailable)
	}

	if _, err := c.Run(context.Background()); !errors.Is(err, ErrHalted) {
		t.Fatalf("second Run err = %v, want ErrHalted", err)
	}
	if src.detailCalls.Load() != 0 || c.Cycles() != 1 {
		t.Fatalf("halted coordinator did work: detail=%d cycles=%d", src.detailCalls.Load(), c.Cycles())
	}
}

func TestCredentialErrorDuringRefreshHalts(t *testing.T) {
	src := fiveSensorStation()
	tokens := &fakeTokens{}
	src.reading = func(bearer string, req ReadingRequest) (ReadingResponse, error) {
		tokens.mu.Lock()
		tokens.err = &auth.CredentialError{Reason: "sign token"}
		tokens.mu.Unlock()
		return ReadingResponse{}, errUnauthorized
	}
	c := newStation(src, tokens, &recordSink{})

	if _, err := c.Run(context.Background()); !IsCredentialError(err) {
		t.Fatalf("expected credential error, got %v", err)
	}
	if c.State() != StateHalted {
		t.Fatalf("state = %v", c.State())
	}
}

func TestSubjectNameFromDiscovery(t *testing.T) {
	c := newStation(fiveSensorStation(), &fakeTokens{}, &recordSink{})
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := c.Subject().DisplayName; got != "Deusto" {
		t.Fatalf("display name = %q", got)
	}
}
