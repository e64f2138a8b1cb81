package weather

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/euskalmet-poller/internal/auth"
)

// DefaultStationInterval is how often station cycles run.
const DefaultStationInterval = 10 * time.Minute

const defaultFetchConcurrency = 4

// StationConfig wires a StationCoordinator.
type StationConfig struct {
	Subject     Subject
	Tokens      TokenSource
	Source      StationSource
	Sink        Sink
	Catalog     MeasurementCatalog
	ReadingLag  time.Duration
	Concurrency int
	Now         func() time.Time
	Logger      *slog.Logger
}

// StationCoordinator runs the poll cycle of one station.
type StationCoordinator struct {
	subject     Subject
	tokens      TokenSource
	discovery   *Discovery
	fetcher     *ReadingFetcher
	sink        Sink
	concurrency int
	now         func() time.Time
	logger      *slog.Logger

	guard cycleGuard
}

func NewStationCoordinator(cfg StationConfig) *StationCoordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("subject", cfg.Subject.ID, "kind", KindStation)

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrency
	}

	return &StationCoordinator{
		subject:     cfg.Subject,
		tokens:      cfg.Tokens,
		discovery:   NewDiscovery(cfg.Source, cfg.Catalog, logger),
		fetcher:     NewReadingFetcher(cfg.Source, cfg.ReadingLag, logger),
		sink:        cfg.Sink,
		concurrency: concurrency,
		now:         now,
		logger:      logger,
	}
}

// Subject returns the station, named after discovery when it had no name.
func (c *StationCoordinator) Subject() Subject {
	s := c.subject
	if s.DisplayName == "" {
		s.DisplayName = c.discovery.StationName()
	}
	return s
}

// State reports the current cycle state.
func (c *StationCoordinator) State() State { return c.guard.current() }

// Cycles reports how many cycles have started.
func (c *StationCoordinator) Cycles() int64 { return c.guard.cycles.Load() }

// Rediscover makes the next cycle refresh the capability set.
func (c *StationCoordinator) Rediscover() { c.discovery.Invalidate() }

// Run executes one cycle. Overlapping calls return ErrCycleInProgress
// without doing any work.
func (c *StationCoordinator) Run(ctx context.Context) (Snapshot, error) {
	if err := c.guard.acquire(); err != nil {
		return Snapshot{}, err
	}
	defer c.guard.release()

	cycleID := uuid.NewString()
	logger := c.logger.With("cycle_id", cycleID)
	started := c.now()

	c.guard.enter(StateAuthenticating)
	token, err := c.tokens.EnsureValid(auth.ProfileOperational)
	if err != nil {
		return Snapshot{}, c.fail(logger, err)
	}
	budget := newRetryBudget(c.tokens, auth.ProfileOperational, token)

	c.guard.enter(StateDiscovering)
	set, stale, err := c.discover(ctx, budget)
	if err != nil {
		if cerr := budget.failure(); cerr != nil {
			return Snapshot{}, c.fail(logger, cerr)
		}
		if set == nil {
			logger.Error("discovery failed", "error", err)
			return Snapshot{}, c.fail(logger, err)
		}
		logger.Warn("using stale capabilities", "error", err)
	}

	c.guard.enter(StateFetching)
	at := c.now()
	results := c.fetchAll(ctx, budget, set, at)
	if cerr := budget.failure(); cerr != nil && IsCredentialError(cerr) {
		return Snapshot{}, c.fail(logger, cerr)
	}

	c.guard.enter(StateAggregating)
	snap, sum := BuildSnapshot(c.subject.ID, cycleID, set, results, c.now())

	logger.Info("cycle complete",
		"capabilities", len(set),
		"ok", sum.OK,
		"empty", sum.Empty,
		"failed", sum.Failed,
		"stale_capabilities", stale,
		"duration", c.now().Sub(started),
	)

	if snap.TotalFailure() {
		reason := fmt.Sprintf("all %d measurements failed", sum.Failed)
		c.sink.MarkUnavailable(c.subject.ID, reason, snap.GeneratedAt, false)
		return snap, fmt.Errorf("%s: %w", c.subject.ID, ErrTotalFailure)
	}

	c.sink.PublishSnapshot(snap)
	return snap, nil
}

// discover resolves capabilities, spending the retry budget on an auth failure.
func (c *StationCoordinator) discover(ctx context.Context, budget *retryBudget) (CapabilitySet, bool, error) {
	bearer, gen := budget.bearer()
	set, stale, err := c.discovery.GetOrFetch(ctx, c.subject, bearer)
	if err == nil || Classify(err) != OutcomeAuthFailure {
		return set, stale, err
	}

	bearer, _, ok := budget.refresh(gen)
	if !ok {
		return set, stale, err
	}
	c.logger.Info("retrying discovery with a fresh token")
	return c.discovery.GetOrFetch(ctx, c.subject, bearer)
}

func (c *StationCoordinator) fetchAll(ctx context.Context, budget *retryBudget, set CapabilitySet, at time.Time) []FetchResult {
	keys := set.Keys()
	results := make([]FetchResult, len(keys))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, key := range keys {
		entry := set[key]
		g.Go(func() error {
			results[i] = c.fetchOne(ctx, budget, entry, at)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *StationCoordinator) fetchOne(ctx context.Context, budget *retryBudget, entry CapabilityEntry, at time.Time) FetchResult {
	bearer, gen := budget.bearer()
	reading, outcome := c.fetcher.Fetch(ctx, bearer, c.subject, entry, at)
	if outcome != OutcomeAuthFailure {
		return FetchResult{Reading: reading, Outcome: outcome}
	}

	fresh, _, ok := budget.refresh(gen)
	if !ok {
		return FetchResult{Reading: reading, Outcome: outcome}
	}
	reading, outcome = c.fetcher.Fetch(ctx, fresh, c.subject, entry, at)
	return FetchResult{Reading: reading, Outcome: outcome}
}

// fail reports a cycle that produced nothing. A credential error halts the
// coordinator for good.
func (c *StationCoordinator) fail(logger *slog.Logger, err error) error {
	halted := IsCredentialError(err)
	if halted {
		c.guard.halt()
		logger.Error("credential rejected; halting subject", "error", err)
	}
	c.sink.MarkUnavailable(c.subject.ID, err.Error(), c.now().UTC(), halted)
	return err
}
