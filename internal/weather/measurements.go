package weather

import "sort"

// Measurement categories as named by the upstream measureType.
const (
	CategoryAir        = "measuresForAir"
	CategoryWind       = "measuresForWind"
	CategoryAtmosphere = "measuresForAtmosphere"
	CategoryWater      = "measuresForWater"
	CategorySun        = "measuresForSun"
	CategoryWaves      = "measuresForWaves"
)

// MeasurementSpec describes one measurement this service knows how to read.
type MeasurementSpec struct {
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	Measure   MeasureRef `json:"measure"`
	Unit      string     `json:"unit"`
	Precision int        `json:"precision"`
}

// Category returns the upstream measureType.
func (m MeasurementSpec) Category() string { return m.Measure.Type }

// MeasurementCatalog is the static table of supported measurements keyed by
// canonical key.
type MeasurementCatalog map[string]MeasurementSpec

// DefaultMeasurements is the catalog used in production.
var DefaultMeasurements = newCatalog(
	MeasurementSpec{Key: "temperature", Name: "Temperature", Measure: MeasureRef{CategoryAir, "temperature"}, Unit: "°C", Precision: 1},
	MeasurementSpec{Key: "humidity", Name: "Humidity", Measure: MeasureRef{CategoryAir, "humidity"}, Unit: "%", Precision: 0},
	MeasurementSpec{Key: "wind_speed", Name: "Wind speed", Measure: MeasureRef{CategoryWind, "mean_speed"}, Unit: "m/s", Precision: 1},
	MeasurementSpec{Key: "wind_speed_max", Name: "Wind gust", Measure: MeasureRef{CategoryWind, "max_speed"}, Unit: "m/s", Precision: 1},
	MeasurementSpec{Key: "wind_direction", Name: "Wind direction", Measure: MeasureRef{CategoryWind, "mean_direction"}, Unit: "°", Precision: 0},
	MeasurementSpec{Key: "speed_sigma", Name: "Wind speed deviation", Measure: MeasureRef{CategoryWind, "speed_sigma"}, Unit: "m/s", Precision: 1},
	MeasurementSpec{Key: "direction_sigma", Name: "Wind direction deviation", Measure: MeasureRef{CategoryWind, "direction_sigma"}, Unit: "°", Precision: 0},
	MeasurementSpec{Key: "pressure", Name: "Pressure", Measure: MeasureRef{CategoryAtmosphere, "pressure"}, Unit: "hPa", Precision: 1},
	MeasurementSpec{Key: "precipitation", Name: "Precipitation", Measure: MeasureRef{CategoryWater, "precipitation"}, Unit: "mm", Precision: 1},
	MeasurementSpec{Key: "sheet_level_1", Name: "Water level 1", Measure: MeasureRef{CategoryWater, "sheet_level_1"}, Unit: "m", Precision: 2},
	MeasurementSpec{Key: "sheet_level_2", Name: "Water level 2", Measure: MeasureRef{CategoryWater, "sheet_level_2"}, Unit: "m", Precision: 2},
	MeasurementSpec{Key: "sheet_level_3", Name: "Water level 3", Measure: MeasureRef{CategoryWater, "sheet_level_3"}, Unit: "m", Precision: 2},
	MeasurementSpec{Key: "flow_1", Name: "Flow 1", Measure: MeasureRef{CategoryWater, "flow_1_computed"}, Unit: "m³/s", Precision: 2},
	MeasurementSpec{Key: "flow_2", Name: "Flow 2", Measure: MeasureRef{CategoryWater, "flow_2_computed"}, Unit: "m³/s", Precision: 2},
	MeasurementSpec{Key: "irradiance", Name: "Irradiance", Measure: MeasureRef{CategorySun, "irradiance"}, Unit: "W/m²", Precision: 0},
	MeasurementSpec{Key: "max_wave_height", Name: "Max wave height", Measure: MeasureRef{CategoryWaves, "max_wave_height"}, Unit: "m", Precision: 2},
	MeasurementSpec{Key: "significant_height", Name: "Significant wave height", Measure: MeasureRef{CategoryWaves, "significant_height"}, Unit: "m", Precision: 2},
	MeasurementSpec{Key: "surf_period", Name: "Surf period", Measure: MeasureRef{CategoryWaves, "surf_period"}, Unit: "s", Precision: 1},
	MeasurementSpec{Key: "peak_period", Name: "Peak period", Measure: MeasureRef{CategoryWaves, "peak_period"}, Unit: "s", Precision: 1},
)

func newCatalog(specs ...MeasurementSpec) MeasurementCatalog {
	c := make(MeasurementCatalog, len(specs))
	for _, s := range specs {
		c[s.Key] = s
	}
	return c
}

// Lookup finds the canonical key for an upstream measure.
func (c MeasurementCatalog) Lookup(ref MeasureRef) (string, bool) {
	for key, m := range c {
		if m.Measure == ref {
			return key, true
		}
	}
	return "", false
}

// Keys returns the sorted catalog keys.
func (c MeasurementCatalog) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
