package euskalmet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/i474232898/euskalmet-poller/internal/weather"
)

var errNoHierarchy = errors.New("forecast location has no region/zone")

// the report wind speed arrives in km/h
const kmhPerMS = 3.6

func locationSegments(loc weather.Subject) ([]string, error) {
	if loc.Hierarchy == nil || loc.Hierarchy.RegionID == "" || loc.Hierarchy.ZoneID == "" {
		return nil, fmt.Errorf("%s: %w", loc.ID, errNoHierarchy)
	}
	return []string{
		"weather", "regions", loc.Hierarchy.RegionID,
		"zones", loc.Hierarchy.ZoneID,
		"locations", loc.ID,
	}, nil
}

func dateSegments(t time.Time) []string {
	return []string{t.Format("2006"), t.Format("01"), t.Format("02")}
}

type symbol struct {
	ID flexString `json:"id"`
}

type reportPayload struct {
	Report *struct {
		Temperature   *measured `json:"temperature"`
		Humidity      *measured `json:"humidity"`
		Pressure      *measured `json:"pressure"`
		WindDirection *measured `json:"winddirection"` // carries the speed, km/h
		WindSpeed     *measured `json:"windspeed"`     // carries the bearing
		Weather       *symbol   `json:"weather"`
		SymbolSet     *struct {
			Weather *symbol `json:"weather"`
		} `json:"symbolSet"`
		PrecipitationAccumulated []struct {
			Period int       `json:"period"`
			Value  *measured `json:"value"`
		} `json:"precipitationAccumulated"`
	} `json:"report"`
}

// Report fetches the latest observation report of day for a forecast location.
func (c *Client) Report(ctx context.Context, bearer string, loc weather.Subject, day time.Time) (weather.Report, error) {
	segs, err := locationSegments(loc)
	if err != nil {
		return weather.Report{}, err
	}
	segs = append(segs, "reports", "for")
	segs = append(segs, dateSegments(day)...)
	segs = append(segs, "last")

	var payload reportPayload
	if err := c.getJSON(ctx, bearer, true, &payload, segs...); err != nil {
		return weather.Report{}, err
	}

	r := payload.Report
	if r == nil {
		return weather.Report{}, nil
	}

	out := weather.Report{
		Current: weather.CurrentConditions{
			Temperature:   r.Temperature.get(),
			Humidity:      r.Humidity.get(),
			Pressure:      r.Pressure.get(),
			WindDirection: r.WindSpeed.get(),
		},
	}
	if v := r.WindDirection.get(); v != nil {
		out.Current.WindSpeed = ptr(*v / kmhPerMS)
	}

	if n := len(r.PrecipitationAccumulated); n > 0 {
		item := r.PrecipitationAccumulated[n-1]
		for _, p := range r.PrecipitationAccumulated {
			if p.Period == 60 {
				item = p
				break
			}
		}
		out.Current.Precipitation = item.Value.get()
	}

	switch {
	case r.Weather != nil && r.Weather.ID != "":
		out.ConditionCode = r.Weather.ID.conditionCode()
	case r.SymbolSet != nil && r.SymbolSet.Weather != nil:
		out.ConditionCode = r.SymbolSet.Weather.ID.conditionCode()
	}
	return out, nil
}

type dailyPayload struct {
	TrendsByDate *struct {
		Set []struct {
			Date             string `json:"date"`
			TemperatureRange *struct {
				Max *float64 `json:"max"`
				Min *float64 `json:"min"`
			} `json:"temperatureRange"`
			Weather *symbol `json:"weather"`
			Sunrise string  `json:"sunrise"`
			Sunset  string  `json:"sunset"`
		} `json:"set"`
	} `json:"trendsByDate"`
}

// DailyTrends fetches the multi-day outlook issued on day. Entries without a
// condition or with an unparseable date are dropped.
func (c *Client) DailyTrends(ctx context.Context, bearer string, loc weather.Subject, day time.Time) ([]weather.DailyTrend, error) {
	segs, err := locationSegments(loc)
	if err != nil {
		return nil, err
	}
	segs = append(segs, "forecast", "trends", "at")
	segs = append(segs, dateSegments(day)...)
	segs = append(segs, "for", day.Format("20060102"))

	var payload dailyPayload
	if err := c.getJSON(ctx, bearer, true, &payload, segs...); err != nil {
		return nil, err
	}
	if payload.TrendsByDate == nil {
		return nil, nil
	}

	trends := make([]weather.DailyTrend, 0, len(payload.TrendsByDate.Set))
	for _, item := range payload.TrendsByDate.Set {
		date, err := time.Parse(time.RFC3339, item.Date)
		if err != nil {
			c.logger.Warn("skipping daily trend with bad date", "location", loc.ID, "date", item.Date)
			continue
		}
		if item.Weather == nil || item.Weather.ID == "" {
			continue
		}

		t := weather.DailyTrend{
			Date:          date.UTC(),
			ConditionCode: item.Weather.ID.conditionCode(),
			Sunrise:       parseOptionalTime(item.Sunrise),
			Sunset:        parseOptionalTime(item.Sunset),
		}
		if item.TemperatureRange != nil {
			t.Max = item.TemperatureRange.Max
			t.Min = item.TemperatureRange.Min
		}
		trends = append(trends, t)
	}
	return trends, nil
}

type hourlyPayload struct {
	Trends *struct {
		Set []struct {
			Range                    string    `json:"range"`
			Temperature              *measured `json:"temperature"`
			Precipitation            *measured `json:"precipitation"`
			PrecipitationProbability *measured `json:"precipitationProbability"`
			WindSpeed                *measured `json:"windspeed"`
			WindDirection            *measured `json:"winddirection"`
			Humidity                 *measured `json:"humidity"`
			Pressure                 *measured `json:"pressure"`
			SymbolSet                *struct {
				Weather *symbol `json:"weather"`
			} `json:"symbolSet"`
		} `json:"set"`
	} `json:"trends"`
}

// HourlyTrends fetches the hourly outlook for target, as issued on issued.
func (c *Client) HourlyTrends(ctx context.Context, bearer string, loc weather.Subject, issued, target time.Time) ([]weather.HourlyTrend, error) {
	segs, err := locationSegments(loc)
	if err != nil {
		return nil, err
	}
	segs = append(segs, "forecast", "trends", "measures", "at")
	segs = append(segs, dateSegments(issued)...)
	segs = append(segs, "for", target.Format("20060102"))

	var payload hourlyPayload
	if err := c.getJSON(ctx, bearer, true, &payload, segs...); err != nil {
		return nil, err
	}
	if payload.Trends == nil {
		return nil, nil
	}

	trends := make([]weather.HourlyTrend, 0, len(payload.Trends.Set))
	for _, item := range payload.Trends.Set {
		hour, err := parseRangeHour(item.Range)
		if err != nil {
			c.logger.Warn("skipping hourly trend with bad range", "location", loc.ID, "range", item.Range)
			continue
		}
		if item.SymbolSet == nil || item.SymbolSet.Weather == nil || item.SymbolSet.Weather.ID == "" {
			continue
		}
		trends = append(trends, weather.HourlyTrend{
			Hour:                     hour,
			ConditionCode:            item.SymbolSet.Weather.ID.conditionCode(),
			Temperature:              item.Temperature.get(),
			Precipitation:            item.Precipitation.get(),
			PrecipitationProbability: item.PrecipitationProbability.get(),
			WindSpeed:                item.WindSpeed.get(),
			WindDirection:            item.WindDirection.get(),
			Humidity:                 item.Humidity.get(),
			Pressure:                 item.Pressure.get(),
		})
	}
	return trends, nil
}

// parseRangeHour reads HH out of "LocalTime:[HH:00:00:000..HH:59:59:999]".
func parseRangeHour(r string) (int, error) {
	i := strings.Index(r, "[")
	if i < 0 {
		return 0, fmt.Errorf("no range start in %q", r)
	}
	rest := r[i+1:]
	j := strings.Index(rest, ":")
	if j < 0 {
		return 0, fmt.Errorf("no hour in %q", r)
	}
	hour, err := strconv.Atoi(rest[:j])
	if err != nil {
		return 0, err
	}
	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("hour %d out of range", hour)
	}
	return hour, nil
}

func parseOptionalTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
