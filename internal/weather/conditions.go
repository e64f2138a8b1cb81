package weather

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Condition is the normalized weather condition shown to users.
type Condition string

const (
	ConditionSunny          Condition = "sunny"
	ConditionClearNight     Condition = "clear-night"
	ConditionPartlyCloudy   Condition = "partlycloudy"
	ConditionCloudy         Condition = "cloudy"
	ConditionFog            Condition = "fog"
	ConditionRainy          Condition = "rainy"
	ConditionPouring        Condition = "pouring"
	ConditionSnowy          Condition = "snowy"
	ConditionLightning      Condition = "lightning"
	ConditionLightningRainy Condition = "lightning-rainy"
	ConditionSnowyRainy     Condition = "snowy-rainy"
	ConditionHail           Condition = "hail"
	ConditionWindy          Condition = "windy"
	ConditionExceptional    Condition = "exceptional"
)

// upstream symbol codes. "00" is resolved against daylight in MapCondition.
var conditionCodes = map[string]Condition{
	"00": ConditionSunny,
	"01": ConditionPartlyCloudy,
	"02": ConditionPartlyCloudy,
	"03": ConditionCloudy,
	"04": ConditionCloudy,
	"05": ConditionFog,
	"06": ConditionFog,
	"07": ConditionFog,
	"08": ConditionFog,
	"09": ConditionFog,
	"10": ConditionRainy,
	"11": ConditionRainy,
	"12": ConditionRainy,
	"13": ConditionRainy,
	"14": ConditionPouring,
	"15": ConditionSnowy,
	"16": ConditionSnowy,
	"17": ConditionSnowy,
	"18": ConditionLightning,
	"19": ConditionLightningRainy,
	"20": ConditionLightningRainy,
	"21": ConditionSnowyRainy,
	"22": ConditionHail,
	"23": ConditionWindy,
	"24": ConditionExceptional,
}

// MapCondition converts an upstream symbol code into a Condition.
// The second return value is false for unknown or empty codes.
func MapCondition(code string, isDaytime bool) (Condition, bool) {
	code = normalizeCode(code)
	cond, ok := conditionCodes[code]
	if !ok {
		return ConditionExceptional, false
	}
	if code == "00" && !isDaytime {
		return ConditionClearNight, true
	}
	return cond, true
}

// upstream sometimes sends "1" or " 01" for "01".
func normalizeCode(code string) string {
	code = strings.TrimSpace(code)
	if len(code) == 1 && code[0] >= '0' && code[0] <= '9' {
		return "0" + code
	}
	return code
}

// ConditionMapper wraps MapCondition and warns once per distinct unknown code.
// Safe for concurrent use.
type ConditionMapper struct {
	logger *slog.Logger
	seen   sync.Map
}

func NewConditionMapper(logger *slog.Logger) *ConditionMapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConditionMapper{logger: logger}
}

// Map returns the Condition for code. Unknown codes map to ConditionExceptional.
func (m *ConditionMapper) Map(code string, isDaytime bool) Condition {
	cond, ok := MapCondition(code, isDaytime)
	if !ok {
		if _, loaded := m.seen.LoadOrStore(code, struct{}{}); !loaded {
			m.logger.Warn("unknown condition code", "code", code)
		}
	}
	return cond
}

// SunTimes are the sunrise and sunset of one local day. Zero values mean
// unknown.
type SunTimes struct {
	Sunrise time.Time
	Sunset  time.Time
}

func (s SunTimes) known() bool {
	return !s.Sunrise.IsZero() && !s.Sunset.IsZero() && s.Sunset.After(s.Sunrise)
}

// Fixed daylight window used when no sun times can be obtained.
const (
	fallbackDayStartHour = 6
	fallbackDayEndHour   = 20
)

// IsDaytime reports whether t falls between sunrise and sunset. When sun is
// unknown it falls back to 06:00–20:00 in t's location.
func IsDaytime(t time.Time, sun SunTimes) bool {
	if sun.known() {
		return !t.Before(sun.Sunrise) && t.Before(sun.Sunset)
	}
	h := t.Hour()
	return h >= fallbackDayStartHour && h < fallbackDayEndHour
}
