package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nathan-osman/go-sunrise"

	"github.com/i474232898/euskalmet-poller/internal/auth"
)

// DefaultForecastInterval is how often forecast cycles run.
const DefaultForecastInterval = 30 * time.Minute

// ForecastConfig wires a ForecastCoordinator.
type ForecastConfig struct {
	Subject  Subject
	Tokens   TokenSource
	Source   ForecastSource
	Sink     Sink
	Mapper   *ConditionMapper
	Location *time.Location // forecast days are local days; defaults to UTC
	Now      func() time.Time
	Logger   *slog.Logger
}

// ForecastCoordinator runs the forecast cycle of one location.
type ForecastCoordinator struct {
	subject Subject
	tokens  TokenSource
	source  ForecastSource
	sink    Sink
	mapper  *ConditionMapper
	loc     *time.Location
	now     func() time.Time
	logger  *slog.Logger

	guard cycleGuard
}

func NewForecastCoordinator(cfg ForecastConfig) *ForecastCoordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("subject", cfg.Subject.ID, "kind", KindLocation)

	mapper := cfg.Mapper
	if mapper == nil {
		mapper = NewConditionMapper(logger)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &ForecastCoordinator{
		subject: cfg.Subject,
		tokens:  cfg.Tokens,
		source:  cfg.Source,
		sink:    cfg.Sink,
		mapper:  mapper,
		loc:     loc,
		now:     now,
		logger:  logger,
	}
}

func (c *ForecastCoordinator) Subject() Subject { return c.subject }

func (c *ForecastCoordinator) State() State { return c.guard.current() }

func (c *ForecastCoordinator) Cycles() int64 { return c.guard.cycles.Load() }

// Run executes one forecast cycle. The report and the daily and hourly
// outlooks are fetched independently; the block is published unless all of
// them failed.
func (c *ForecastCoordinator) Run(ctx context.Context) (ForecastBlock, error) {
	if err := c.guard.acquire(); err != nil {
		return ForecastBlock{}, err
	}
	defer c.guard.release()

	cycleID := uuid.NewString()
	logger := c.logger.With("cycle_id", cycleID)
	started := c.now()

	c.guard.enter(StateAuthenticating)
	token, err := c.tokens.EnsureValid(auth.ProfileOperational)
	if err != nil {
		return ForecastBlock{}, c.fail(logger, err)
	}
	budget := newRetryBudget(c.tokens, auth.ProfileOperational, token)

	c.guard.enter(StateFetching)
	now := c.now().In(c.loc)
	today := startOfDay(now)
	tomorrow := today.AddDate(0, 0, 1)

	var (
		report   Report
		daily    []DailyTrend
		hourly   = map[time.Time][]HourlyTrend{}
		failures []error
	)

	call := func(what string, fn func(bearer string) error) {
		if err := withAuthRetry(budget, fn); err != nil {
			logger.Warn("forecast fetch failed", "part", what, "outcome", Classify(err), "error", err)
			failures = append(failures, err)
		}
	}

	call("report", func(bearer string) (err error) {
		report, err = c.source.Report(ctx, bearer, c.subject, today)
		return err
	})
	call("daily", func(bearer string) (err error) {
		daily, err = c.source.DailyTrends(ctx, bearer, c.subject, today)
		return err
	})
	for _, day := range []time.Time{today, tomorrow} {
		call("hourly", func(bearer string) error {
			trends, err := c.source.HourlyTrends(ctx, bearer, c.subject, today, day)
			if err == nil {
				hourly[day] = trends
			}
			return err
		})
	}

	if cerr := budget.failure(); cerr != nil && IsCredentialError(cerr) {
		return ForecastBlock{}, c.fail(logger, cerr)
	}
	if len(failures) == 4 {
		err := fmt.Errorf("%s: %w", c.subject.ID, errors.Join(append([]error{ErrTotalFailure}, failures...)...))
		c.sink.MarkUnavailable(c.subject.ID, ErrTotalFailure.Error(), now.UTC(), false)
		return ForecastBlock{}, err
	}

	c.guard.enter(StateAggregating)
	block := c.assemble(cycleID, now, report, daily, hourly)

	logger.Info("forecast cycle complete",
		"days", len(block.Daily),
		"hours", len(block.Hourly),
		"failed_parts", len(failures),
		"condition", block.CurrentCondition,
		"duration", c.now().Sub(started),
	)

	c.sink.PublishForecast(block)
	return block, nil
}

func (c *ForecastCoordinator) assemble(cycleID string, now time.Time, report Report, daily []DailyTrend, hourly map[time.Time][]HourlyTrend) ForecastBlock {
	today := startOfDay(now)
	sun := c.sunTimes(daily)

	block := ForecastBlock{
		SubjectID:          c.subject.ID,
		CycleID:            cycleID,
		Current:            report.Current,
		CurrentTemperature: report.Current.Temperature,
		Daily:              []DayForecast{},
		Hourly:             []HourForecast{},
		GeneratedAt:        now.UTC(),
	}

	for _, d := range daily {
		day := startOfDay(d.Date.In(c.loc))
		if day.Before(today) {
			continue
		}
		st := sun(day)
		block.Daily = append(block.Daily, DayForecast{
			Date:           day,
			ConditionCode:  d.ConditionCode,
			Condition:      c.mapper.Map(d.ConditionCode, true),
			TemperatureMax: d.Max,
			TemperatureMin: d.Min,
			Sunrise:        st.Sunrise,
			Sunset:         st.Sunset,
		})
	}
	sort.SliceStable(block.Daily, func(i, j int) bool { return block.Daily[i].Date.Before(block.Daily[j].Date) })
	if len(block.Daily) > MaxForecastDays {
		block.Daily = block.Daily[:MaxForecastDays]
	}

	for day, trends := range hourly {
		st := sun(day)
		for _, h := range trends {
			t := time.Date(day.Year(), day.Month(), day.Day(), h.Hour, 0, 0, 0, c.loc)
			block.Hourly = append(block.Hourly, HourForecast{
				Time:                     t,
				ConditionCode:            h.ConditionCode,
				Condition:                c.mapper.Map(h.ConditionCode, IsDaytime(t, st)),
				Temperature:              h.Temperature,
				Precipitation:            h.Precipitation,
				PrecipitationProbability: h.PrecipitationProbability,
				WindSpeed:                h.WindSpeed,
				WindDirection:            h.WindDirection,
				Humidity:                 h.Humidity,
				Pressure:                 h.Pressure,
			})
		}
	}
	sort.SliceStable(block.Hourly, func(i, j int) bool { return block.Hourly[i].Time.Before(block.Hourly[j].Time) })

	code := report.ConditionCode
	current := currentHour(block.Hourly, now)
	if code == "" && current != nil {
		code = current.ConditionCode
	}
	if block.CurrentTemperature == nil && current != nil {
		block.CurrentTemperature = current.Temperature
	}
	if code != "" {
		block.CurrentCondition = c.mapper.Map(code, IsDaytime(now, sun(today)))
	}
	return block
}

// currentHour picks the hourly entry covering now, else the next one, else
// the first.
func currentHour(hours []HourForecast, now time.Time) *HourForecast {
	if len(hours) == 0 {
		return nil
	}
	hourStart := now.Truncate(time.Hour)
	for i := range hours {
		if !hours[i].Time.Before(hourStart) {
			return &hours[i]
		}
	}
	return &hours[0]
}

// sunTimes returns a lookup of sunrise/sunset per local day: the upstream
// values when the daily outlook carries them, otherwise computed from the
// location coordinates.
func (c *ForecastCoordinator) sunTimes(daily []DailyTrend) func(day time.Time) SunTimes {
	upstream := make(map[string]SunTimes, len(daily))
	for _, d := range daily {
		st := SunTimes{Sunrise: d.Sunrise, Sunset: d.Sunset}
		if st.known() {
			upstream[d.Date.In(c.loc).Format(time.DateOnly)] = st
		}
	}

	coords := c.subject.Coordinates
	return func(day time.Time) SunTimes {
		if st, ok := upstream[day.Format(time.DateOnly)]; ok {
			return st
		}
		if coords == nil {
			return SunTimes{}
		}
		rise, set := sunrise.SunriseSunset(coords.Lat, coords.Lon, day.Year(), day.Month(), day.Day())
		return SunTimes{Sunrise: rise.In(c.loc), Sunset: set.In(c.loc)}
	}
}

func (c *ForecastCoordinator) fail(logger *slog.Logger, err error) error {
	halted := IsCredentialError(err)
	if halted {
		c.guard.halt()
		logger.Error("credential rejected; halting subject", "error", err)
	}
	c.sink.MarkUnavailable(c.subject.ID, err.Error(), c.now().UTC(), halted)
	return err
}

// withAuthRetry runs fn and, on an auth failure, once more with a fresh token
// if the cycle budget allows it.
func withAuthRetry(budget *retryBudget, fn func(bearer string) error) error {
	bearer, gen := budget.bearer()
	err := fn(bearer)
	if Classify(err) != OutcomeAuthFailure {
		return err
	}
	fresh, _, ok := budget.refresh(gen)
	if !ok {
		return err
	}
	return fn(fresh)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
