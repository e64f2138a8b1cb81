package weather

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// CapabilityEntry ties a canonical measurement key to the sensor that
// provides it.
type CapabilityEntry struct {
	Key      string     `json:"key"`
	SensorID string     `json:"sensorId"`
	Measure  MeasureRef `json:"measure"`
}

// CapabilitySet is what a subject can actually report, keyed by canonical key.
type CapabilitySet map[string]CapabilityEntry

// Keys returns the sorted keys of the set.
func (c CapabilitySet) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type discovered struct {
	set         CapabilitySet
	stationName string
}

// maxSensorLookups bounds concurrent sensor detail calls per discovery.
const maxSensorLookups = 4

// Discovery resolves and caches the CapabilitySet of one subject.
type Discovery struct {
	source  StationSource
	catalog MeasurementCatalog
	logger  *slog.Logger

	cell        Cell[discovered]
	refreshMu   sync.Mutex
	emptyLogged atomic.Bool
}

func NewDiscovery(source StationSource, catalog MeasurementCatalog, logger *slog.Logger) *Discovery {
	if catalog == nil {
		catalog = DefaultMeasurements
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{source: source, catalog: catalog, logger: logger}
}

// GetOrFetch returns the cached set, discovering it first if needed.
//
// stale is true when a refresh failed and the previously cached set is
// returned alongside the error. When nothing was ever cached a failure
// returns a nil set and a *DiscoveryError.
func (d *Discovery) GetOrFetch(ctx context.Context, subject Subject, bearer string) (CapabilitySet, bool, error) {
	if cur, _, ok := d.cell.Load(); ok && !d.cell.Stale() {
		return cur.set, false, nil
	}

	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	prev, _, hadPrev := d.cell.Load()
	if hadPrev && !d.cell.Stale() {
		return prev.set, false, nil
	}

	found, err := d.discover(ctx, subject, bearer)
	if err != nil {
		if hadPrev {
			d.logger.Warn("capability refresh failed; keeping previous set",
				"subject", subject.ID, "error", err)
			return prev.set, true, err
		}
		return nil, false, err
	}

	d.cell.Store(found)

	if len(found.set) == 0 {
		if d.emptyLogged.CompareAndSwap(false, true) {
			d.logger.Warn("subject exposes no known measurements", "subject", subject.ID)
		}
	} else {
		d.logger.Info("capabilities discovered",
			"subject", subject.ID, "station", found.stationName, "count", len(found.set))
	}
	return found.set, false, nil
}

// Invalidate marks the cached set for refresh on the next GetOrFetch. The
// current set stays available as a fallback.
func (d *Discovery) Invalidate() {
	d.cell.MarkStale()
}

// StationName is the display name learned during discovery, if any.
func (d *Discovery) StationName() string {
	cur, _, ok := d.cell.Load()
	if !ok {
		return ""
	}
	return cur.stationName
}

func (d *Discovery) discover(ctx context.Context, subject Subject, bearer string) (discovered, error) {
	detail, err := d.source.StationDetail(ctx, bearer, subject.ID)
	if err != nil {
		return discovered{}, &DiscoveryError{SubjectID: subject.ID, Step: "station detail", Err: err}
	}

	measures := make([][]MeasureRef, len(detail.SensorIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxSensorLookups)
	for i, sensorID := range detail.SensorIDs {
		g.Go(func() error {
			refs, err := d.source.SensorMeasures(gctx, bearer, sensorID)
			if err != nil {
				return &DiscoveryError{SubjectID: subject.ID, Step: "sensor " + sensorID, Err: err}
			}
			measures[i] = refs
			return nil
		})
	}
	// one failed sensor fails the whole discovery; a partial set is never cached
	if err := g.Wait(); err != nil {
		return discovered{}, err
	}

	set := make(CapabilitySet)
	for i, sensorID := range detail.SensorIDs {
		for _, ref := range measures[i] {
			key, ok := d.catalog.Lookup(ref)
			if !ok {
				continue
			}
			// first sensor in station order wins
			if _, dup := set[key]; dup {
				continue
			}
			set[key] = CapabilityEntry{Key: key, SensorID: sensorID, Measure: ref}
		}
	}

	return discovered{set: set, stationName: detail.Name}, nil
}
