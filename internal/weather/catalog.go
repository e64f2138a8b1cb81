package weather

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/i474232898/euskalmet-poller/internal/auth"
)

// Catalog lists what can be configured: stations and the forecast geography.
// Both lists are fetched lazily once and shared until Invalidate or Refresh.
type Catalog struct {
	source CatalogSource
	tokens TokenSource
	logger *slog.Logger

	group     singleflight.Group
	stations  Cell[[]Subject]
	hierarchy Cell[Hierarchy]
}

func NewCatalog(source CatalogSource, tokens TokenSource, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{source: source, tokens: tokens, logger: logger}
}

// ListSubjects returns every station sorted by display name.
func (c *Catalog) ListSubjects(ctx context.Context) ([]Subject, error) {
	if cur, _, ok := c.stations.Load(); ok {
		return cur, nil
	}
	v, err, _ := c.group.Do("stations", func() (any, error) {
		if cur, _, ok := c.stations.Load(); ok {
			return cur, nil
		}
		list, err := c.fetchStations(ctx)
		if err != nil {
			return nil, err
		}
		c.stations.Store(list)
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Subject), nil
}

// ListHierarchy returns regions, zones and locations, each level sorted by name.
func (c *Catalog) ListHierarchy(ctx context.Context) (Hierarchy, error) {
	if cur, _, ok := c.hierarchy.Load(); ok {
		return cur, nil
	}
	v, err, _ := c.group.Do("hierarchy", func() (any, error) {
		if cur, _, ok := c.hierarchy.Load(); ok {
			return cur, nil
		}
		h, err := c.fetchHierarchy(ctx)
		if err != nil {
			return nil, err
		}
		c.hierarchy.Store(h)
		return h, nil
	})
	if err != nil {
		return Hierarchy{}, err
	}
	return v.(Hierarchy), nil
}

// Invalidate drops both cached lists.
func (c *Catalog) Invalidate() {
	c.stations.Clear()
	c.hierarchy.Clear()
}

// Refresh re-fetches both lists. On failure the previous lists are kept.
func (c *Catalog) Refresh(ctx context.Context) error {
	list, err := c.fetchStations(ctx)
	if err != nil {
		return err
	}
	h, err := c.fetchHierarchy(ctx)
	if err != nil {
		return err
	}
	c.stations.Store(list)
	c.hierarchy.Store(h)
	return nil
}

// Validate checks a credential once with a short-lived token. A rejection by
// the upstream is reported as *auth.CredentialError.
func (c *Catalog) Validate(ctx context.Context) error {
	tok, err := c.tokens.EnsureValid(auth.ProfileValidation)
	if err != nil {
		return err
	}
	if _, err := c.source.Stations(ctx, tok.Value); err != nil {
		if Classify(err) == OutcomeAuthFailure {
			return &auth.CredentialError{Reason: "rejected by upstream", Err: err}
		}
		return &DiscoveryError{Step: "validate", Err: err}
	}
	return nil
}

// call runs fn with an operational token, retrying once with a fresh token
// after an auth failure.
func (c *Catalog) call(fn func(bearer string) error) error {
	tok, err := c.tokens.EnsureValid(auth.ProfileOperational)
	if err != nil {
		return err
	}
	return withAuthRetry(newRetryBudget(c.tokens, auth.ProfileOperational, tok), fn)
}

func (c *Catalog) fetchStations(ctx context.Context) ([]Subject, error) {
	var list []Subject
	err := c.call(func(bearer string) (err error) {
		list, err = c.source.Stations(ctx, bearer)
		return err
	})
	if err != nil {
		return nil, wrapCatalogErr("stations", err)
	}

	coll := newCollator()
	sort.SliceStable(list, func(i, j int) bool {
		return coll.CompareString(list[i].DisplayName, list[j].DisplayName) < 0
	})
	c.logger.Info("station catalog loaded", "count", len(list))
	return list, nil
}

func (c *Catalog) fetchHierarchy(ctx context.Context) (Hierarchy, error) {
	var regions []Region
	err := c.call(func(bearer string) (err error) {
		regions, err = c.source.Regions(ctx, bearer)
		return err
	})
	if err != nil {
		return Hierarchy{}, wrapCatalogErr("regions", err)
	}

	var all []*Subject
	for ri := range regions {
		region := &regions[ri]
		err := c.call(func(bearer string) (err error) {
			region.Zones, err = c.source.Zones(ctx, bearer, region.ID)
			return err
		})
		if err != nil {
			return Hierarchy{}, wrapCatalogErr("zones of "+region.ID, err)
		}

		for zi := range region.Zones {
			zone := &region.Zones[zi]
			err := c.call(func(bearer string) (err error) {
				zone.Locations, err = c.source.Locations(ctx, bearer, region.ID, zone.ID)
				return err
			})
			if err != nil {
				return Hierarchy{}, wrapCatalogErr("locations of "+zone.ID, err)
			}
			for li := range zone.Locations {
				all = append(all, &zone.Locations[li])
			}
		}
	}

	annotateDuplicates(all, regions)

	coll := newCollator()
	byName := func(a, b string) bool { return coll.CompareString(a, b) < 0 }
	sort.SliceStable(regions, func(i, j int) bool { return byName(regions[i].Name, regions[j].Name) })
	for ri := range regions {
		zones := regions[ri].Zones
		sort.SliceStable(zones, func(i, j int) bool { return byName(zones[i].Name, zones[j].Name) })
		for zi := range zones {
			locs := zones[zi].Locations
			sort.SliceStable(locs, func(i, j int) bool { return byName(locs[i].DisplayName, locs[j].DisplayName) })
		}
	}

	c.logger.Info("forecast geography loaded", "regions", len(regions), "locations", len(all))
	return Hierarchy{Regions: regions}, nil
}

// annotateDuplicates appends " (Zone name)" to locations whose display name
// is shared with another location.
func annotateDuplicates(locs []*Subject, regions []Region) {
	zoneNames := make(map[string]string)
	for _, r := range regions {
		for _, z := range r.Zones {
			zoneNames[r.ID+"/"+z.ID] = z.Name
		}
	}

	counts := make(map[string]int, len(locs))
	for _, l := range locs {
		counts[l.DisplayName]++
	}
	for _, l := range locs {
		if counts[l.DisplayName] < 2 || l.Hierarchy == nil {
			continue
		}
		if name := zoneNames[l.Hierarchy.RegionID+"/"+l.Hierarchy.ZoneID]; name != "" {
			l.DisplayName += " (" + name + ")"
		}
	}
}

// newCollator returns a Spanish, case-insensitive collator. Collators are not
// safe for concurrent use, so each sort gets its own.
func newCollator() *collate.Collator {
	return collate.New(language.Spanish, collate.IgnoreCase)
}

func wrapCatalogErr(step string, err error) error {
	var credErr *auth.CredentialError
	if errors.As(err, &credErr) {
		return err
	}
	return &DiscoveryError{Step: step, Err: err}
}
