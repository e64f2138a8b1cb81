package euskalmet

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/i474232898/euskalmet-poller/internal/weather"
)

type geoItem struct {
	ID         flexString    `json:"id"`
	RegionID   flexString    `json:"regionId"`
	ZoneID     flexString    `json:"zoneId"`
	LocationID flexString    `json:"locationId"`
	Name       localizedName `json:"name"`
	Latitude   *float64      `json:"latitude"`
	Longitude  *float64      `json:"longitude"`
}

func (g geoItem) id(specific flexString) string {
	if specific != "" {
		return string(specific)
	}
	return string(g.ID)
}

func (g geoItem) name(id string) string {
	if g.Name != "" {
		return string(g.Name)
	}
	return id
}

func (c *Client) geoList(ctx context.Context, bearer, key string, segments ...string) ([]geoItem, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, bearer, true, &raw, segments...); err != nil {
		return nil, err
	}
	items, err := listEnvelope[geoItem](raw, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", weather.ErrMalformed, key, err)
	}
	return items, nil
}

// Regions lists the forecast regions.
func (c *Client) Regions(ctx context.Context, bearer string) ([]weather.Region, error) {
	items, err := c.geoList(ctx, bearer, "regions", "geo", "regions")
	if err != nil {
		return nil, err
	}
	regions := make([]weather.Region, 0, len(items))
	for _, it := range items {
		id := it.id(it.RegionID)
		if id == "" {
			continue
		}
		regions = append(regions, weather.Region{ID: id, Name: it.name(id)})
	}
	return regions, nil
}

// Zones lists the zones of a region.
func (c *Client) Zones(ctx context.Context, bearer, regionID string) ([]weather.Zone, error) {
	items, err := c.geoList(ctx, bearer, "zones", "geo", "regions", regionID, "zones")
	if err != nil {
		return nil, err
	}
	zones := make([]weather.Zone, 0, len(items))
	for _, it := range items {
		id := it.id(it.ZoneID)
		if id == "" {
			continue
		}
		zones = append(zones, weather.Zone{ID: id, Name: it.name(id), RegionID: regionID})
	}
	return zones, nil
}

// Locations lists the forecast locations of a zone.
func (c *Client) Locations(ctx context.Context, bearer, regionID, zoneID string) ([]weather.Subject, error) {
	items, err := c.geoList(ctx, bearer, "locations", "geo", "regions", regionID, "zones", zoneID, "locations")
	if err != nil {
		return nil, err
	}
	locs := make([]weather.Subject, 0, len(items))
	for _, it := range items {
		id := it.id(it.LocationID)
		if id == "" {
			continue
		}
		s := weather.Subject{
			ID:          id,
			DisplayName: it.name(id),
			Kind:        weather.KindLocation,
			Hierarchy:   &weather.HierarchyPath{RegionID: regionID, ZoneID: zoneID},
		}
		if it.Latitude != nil && it.Longitude != nil {
			s.Coordinates = &weather.Coordinates{Lat: *it.Latitude, Lon: *it.Longitude}
		}
		locs = append(locs, s)
	}
	return locs, nil
}
