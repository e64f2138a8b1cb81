package euskalmet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/i474232898/euskalmet-poller/internal/weather"
)

type stationItem struct {
	ID          flexString    `json:"id"`
	StationCode flexString    `json:"stationCode"`
	Name        localizedName `json:"name"`
	StationName localizedName `json:"stationName"`
	Latitude    *float64      `json:"latitude"`
	Longitude   *float64      `json:"longitude"`
}

// Stations lists every station the credential can see.
func (c *Client) Stations(ctx context.Context, bearer string) ([]weather.Subject, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, bearer, true, &raw, "stations"); err != nil {
		return nil, err
	}

	items, err := listEnvelope[stationItem](raw, "stations")
	if err != nil {
		return nil, fmt.Errorf("%w: stations: %v", weather.ErrMalformed, err)
	}

	subjects := make([]weather.Subject, 0, len(items))
	for _, it := range items {
		id := string(it.ID)
		if id == "" {
			id = string(it.StationCode)
		}
		if id == "" {
			continue
		}
		name := string(it.Name)
		if name == "" {
			name = string(it.StationName)
		}
		if name == "" {
			name = "Station " + id
		}

		s := weather.Subject{ID: id, DisplayName: name, Kind: weather.KindStation}
		if it.Latitude != nil && it.Longitude != nil {
			s.Coordinates = &weather.Coordinates{Lat: *it.Latitude, Lon: *it.Longitude}
		}
		subjects = append(subjects, s)
	}
	return subjects, nil
}

// StationDetail fetches the station name and the ids of its sensors.
func (c *Client) StationDetail(ctx context.Context, bearer, stationID string) (weather.StationDetail, error) {
	var payload struct {
		Name    localizedName `json:"name"`
		Sensors []struct {
			SensorKey string `json:"sensorKey"`
		} `json:"sensors"`
	}
	if err := c.getJSON(ctx, bearer, true, &payload, "stations", stationID, "current"); err != nil {
		return weather.StationDetail{}, err
	}

	detail := weather.StationDetail{Name: string(payload.Name)}
	seen := make(map[string]struct{}, len(payload.Sensors))
	for _, s := range payload.Sensors {
		id := lastSegment(s.SensorKey)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		detail.SensorIDs = append(detail.SensorIDs, id)
	}
	return detail, nil
}

// SensorMeasures lists what a sensor measures.
func (c *Client) SensorMeasures(ctx context.Context, bearer, sensorID string) ([]weather.MeasureRef, error) {
	var payload struct {
		Meteors []weather.MeasureRef `json:"meteors"`
	}
	if err := c.getJSON(ctx, bearer, true, &payload, "sensors", sensorID); err != nil {
		return nil, err
	}
	return payload.Meteors, nil
}

// Reading fetches one hourly bucket. A 404 is not an error: the bucket simply
// does not exist yet.
func (c *Client) Reading(ctx context.Context, bearer string, req weather.ReadingRequest) (weather.ReadingResponse, error) {
	yyyy, mm, dd, hh := req.Bucket.PathSegments()
	u := c.endpoint(
		"readings", "forStation", req.StationID, req.SensorID,
		"measures", req.Measure.Type, req.Measure.ID,
		"at", yyyy, mm, dd, hh,
	)

	resp, err := c.get(ctx, bearer, u, false)
	if err != nil {
		return weather.ReadingResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return weather.ReadingResponse{Status: weather.ReadingNotFound}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return weather.ReadingResponse{}, drainStatus(resp)
	}

	var payload struct {
		Values []*float64 `json:"values"`
		Value  *float64   `json:"value"`
	}
	if err := decodeJSON(resp, &payload); err != nil {
		return weather.ReadingResponse{}, err
	}

	// latest non-null value wins
	for i := len(payload.Values) - 1; i >= 0; i-- {
		if v := payload.Values[i]; v != nil {
			return weather.ReadingResponse{Status: weather.ReadingValue, Value: *v}, nil
		}
	}
	if payload.Value != nil {
		return weather.ReadingResponse{Status: weather.ReadingValue, Value: *payload.Value}, nil
	}
	return weather.ReadingResponse{Status: weather.ReadingNull}, nil
}
