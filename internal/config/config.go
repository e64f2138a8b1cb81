package config

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/euskalmet-poller/internal/weather"
)

var validate = validator.New()

type AppConfig struct {
	AppEnv   string     `validate:"oneof=dev prod"`
	LogLevel slog.Level `validate:"-"`
	Port     string     `validate:"required,numeric"`

	BaseURL string `validate:"required,url"`

	// Credential material. The private key is PEM, read from
	// EUSKALMET_PRIVATE_KEY or the file named by EUSKALMET_PRIVATE_KEY_FILE.
	Fingerprint string `validate:"required"`
	PrivateKey  []byte `validate:"required"`

	Stations  []weather.Subject
	Locations []weather.Subject

	StationInterval  time.Duration `validate:"gte=1m"`
	ForecastInterval time.Duration `validate:"gte=1m"`
	CycleTimeout     time.Duration `validate:"gt=0"`
	HTTPTimeout      time.Duration `validate:"gt=0"`

	// ReadingLag is how far behind now the hourly bucket is chosen.
	ReadingLag        time.Duration `validate:"gte=10m"`
	TokenSafetyMargin time.Duration `validate:"gte=0"`

	UpstreamRPS   float64 `validate:"gte=0"`
	UpstreamBurst int     `validate:"gte=1"`

	ForecastTimezone *time.Location `validate:"required"`

	// In-memory store retention.
	StoreMaxHistory int           `validate:"gte=0"` // max number of snapshots per subject (0 = unlimited)
	StoreMaxAge     time.Duration `validate:"gte=0"` // max age of snapshots (0 = unlimited)

	MQTT MQTTConfig
}

type MQTTConfig struct {
	Enabled     bool
	Broker      string `validate:"required_if=Enabled true"`
	Port        int    `validate:"gte=1,lte=65535"`
	ClientID    string `validate:"required"`
	TopicPrefix string `validate:"required"`
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{}
	var err error

	cfg.AppEnv = getenvDefault("APP_ENV", "dev")
	if cfg.LogLevel, err = parseLogLevel(getenvDefault("LOG_LEVEL", "info")); err != nil {
		return nil, err
	}
	cfg.Port = getenvDefault("PORT", "8080")
	cfg.BaseURL = getenvDefault("EUSKALMET_BASE_URL", "https://api.euskadi.eus/euskalmet/")

	cfg.Fingerprint = strings.TrimSpace(os.Getenv("EUSKALMET_FINGERPRINT"))
	if cfg.PrivateKey, err = loadPrivateKey(); err != nil {
		return nil, err
	}

	if cfg.Stations, err = parseStations(os.Getenv("EUSKALMET_STATIONS")); err != nil {
		return nil, err
	}
	if cfg.Locations, err = parseLocations(os.Getenv("EUSKALMET_LOCATIONS")); err != nil {
		return nil, err
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"STATION_INTERVAL", weather.DefaultStationInterval, &cfg.StationInterval},
		{"FORECAST_INTERVAL", weather.DefaultForecastInterval, &cfg.ForecastInterval},
		{"CYCLE_TIMEOUT", 2 * time.Minute, &cfg.CycleTimeout},
		{"HTTP_TIMEOUT", 30 * time.Second, &cfg.HTTPTimeout},
		{"READING_LAG", weather.MinReadingLag, &cfg.ReadingLag},
		{"TOKEN_SAFETY_MARGIN", time.Minute, &cfg.TokenSafetyMargin},
		{"STORE_MAX_AGE", 24 * time.Hour, &cfg.StoreMaxAge},
	}
	for _, d := range durations {
		if *d.dst, err = getenvDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}
	// a shorter lag would ask for buckets the upstream has not filled yet
	if cfg.ReadingLag < weather.MinReadingLag {
		cfg.ReadingLag = weather.MinReadingLag
	}

	if cfg.UpstreamRPS, err = getenvFloat("UPSTREAM_RPS", 5); err != nil {
		return nil, err
	}
	cfg.UpstreamBurst = getenvInt("UPSTREAM_BURST", 5)

	tz := getenvDefault("FORECAST_TIMEZONE", "Europe/Madrid")
	if cfg.ForecastTimezone, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid FORECAST_TIMEZONE: %w", err)
	}

	cfg.StoreMaxHistory = getenvInt("STORE_MAX_HISTORY", 144) // 24h at 10-minute cycles

	cfg.MQTT = MQTTConfig{
		Enabled:     getenvBool("MQTT_ENABLED", false),
		Broker:      os.Getenv("MQTT_BROKER"),
		Port:        getenvInt("MQTT_PORT", 1883),
		ClientID:    getenvDefault("MQTT_CLIENT_ID", "euskalmet-poller"),
		TopicPrefix: strings.TrimSuffix(getenvDefault("MQTT_TOPIC_PREFIX", "euskalmet"), "/"),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if len(cfg.Stations)+len(cfg.Locations) == 0 {
		return nil, errors.New("no subjects configured: set EUSKALMET_STATIONS or EUSKALMET_LOCATIONS")
	}
	return cfg, nil
}

func loadPrivateKey() ([]byte, error) {
	if v := os.Getenv("EUSKALMET_PRIVATE_KEY"); v != "" {
		// single-line env values carry escaped newlines
		return []byte(strings.ReplaceAll(v, `\n`, "\n")), nil
	}
	path := os.Getenv("EUSKALMET_PRIVATE_KEY_FILE")
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read EUSKALMET_PRIVATE_KEY_FILE: %w", err)
	}
	return b, nil
}

func parseStations(s string) ([]weather.Subject, error) {
	var out []weather.Subject
	for _, id := range splitList(s) {
		out = append(out, weather.Subject{ID: id, Kind: weather.KindStation})
	}
	return out, nil
}

// parseLocations reads region/zone/location entries with optional
// @lat:lon coordinates, e.g. basque_country/coast_zone/bilbao@43.26:-2.93.
func parseLocations(s string) ([]weather.Subject, error) {
	var out []weather.Subject
	for _, entry := range splitList(s) {
		path, coords, hasCoords := strings.Cut(entry, "@")
		parts := strings.Split(path, "/")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("invalid EUSKALMET_LOCATIONS entry %q: want region/zone/location", entry)
		}

		subject := weather.Subject{
			ID:        parts[2],
			Kind:      weather.KindLocation,
			Hierarchy: &weather.HierarchyPath{RegionID: parts[0], ZoneID: parts[1]},
		}
		if hasCoords {
			c, err := parseCoordinates(coords)
			if err != nil {
				return nil, fmt.Errorf("invalid EUSKALMET_LOCATIONS entry %q: %w", entry, err)
			}
			subject.Coordinates = c
		}
		out = append(out, subject)
	}
	return out, nil
}

func parseCoordinates(s string) (*weather.Coordinates, error) {
	latStr, lonStr, ok := strings.Cut(s, ":")
	if !ok {
		return nil, errors.New("coordinates must be lat:lon")
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil || lat < -90 || lat > 90 {
		return nil, fmt.Errorf("invalid latitude %q", latStr)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("invalid longitude %q", lonStr)
	}
	return &weather.Coordinates{Lat: lat, Lon: lon}, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
