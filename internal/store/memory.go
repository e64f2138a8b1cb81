package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/euskalmet-poller/internal/weather"
)

var (
	// ErrNotFound is returned when no data is available for a given subject.
	ErrNotFound = errors.New("no weather data for subject")
)

var _ weather.Store = (*MemoryStore)(nil)

// SnapshotHistory holds a time-ordered list of snapshots for a subject.
type SnapshotHistory struct {
	Snapshots []weather.Snapshot
}

// MemoryStore is a concurrency-safe in-memory implementation of weather.Store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: subject id
	history      map[string]*SnapshotHistory
	forecasts    map[string]weather.ForecastBlock
	availability map[string]weather.Availability

	// retention configuration
	maxHistory int           // max number of snapshots per subject
	maxAge     time.Duration // optional max age for snapshots

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		history:      make(map[string]*SnapshotHistory),
		forecasts:    make(map[string]weather.ForecastBlock),
		availability: make(map[string]weather.Availability),
		maxHistory:   maxHistory,
		maxAge:       maxAge,
		now:          time.Now,
	}
}

// PublishSnapshot appends a snapshot, marks the subject available and
// enforces retention.
func (s *MemoryStore) PublishSnapshot(snapshot weather.Snapshot) {
	key := snapshot.SubjectID

	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.history[key]
	if !ok {
		history = &SnapshotHistory{}
		s.history[key] = history
	}

	history.Snapshots = append(history.Snapshots, snapshot)
	s.markAvailable(key, snapshot.GeneratedAt)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(history.Snapshots) > s.maxHistory {
		over := len(history.Snapshots) - s.maxHistory
		history.Snapshots = history.Snapshots[over:]
	}

	// Enforce retention by age. The latest snapshot is always kept.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(history.Snapshots)-1; i++ {
			if !history.Snapshots[i].GeneratedAt.Before(cutoff) {
				break
			}
		}
		if i > 0 {
			history.Snapshots = history.Snapshots[i:]
		}
	}
}

// PublishForecast replaces the forecast of a subject.
func (s *MemoryStore) PublishForecast(block weather.ForecastBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forecasts[block.SubjectID] = block
	s.markAvailable(block.SubjectID, block.GeneratedAt)
}

// MarkUnavailable records a failed cycle. Published data is left untouched.
func (s *MemoryStore) MarkUnavailable(subjectID, reason string, at time.Time, halted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.availability[subjectID] = weather.Availability{
		SubjectID:   subjectID,
		Available:   false,
		Halted:      halted,
		Reason:      reason,
		LastCycleAt: at.UTC(),
	}
}

func (s *MemoryStore) markAvailable(subjectID string, at time.Time) {
	s.availability[subjectID] = weather.Availability{
		SubjectID:   subjectID,
		Available:   true,
		LastCycleAt: at.UTC(),
	}
}

// GetLatest returns the most recent snapshot for a subject.
func (s *MemoryStore) GetLatest(subjectID string) (weather.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[subjectID]
	if !ok || len(history.Snapshots) == 0 {
		return weather.Snapshot{}, ErrNotFound
	}
	return history.Snapshots[len(history.Snapshots)-1], nil
}

// GetRange returns all snapshots for a subject between from and to (inclusive).
func (s *MemoryStore) GetRange(subjectID string, from, to time.Time) ([]weather.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[subjectID]
	if !ok || len(history.Snapshots) == 0 {
		return nil, ErrNotFound
	}

	var result []weather.Snapshot
	for _, snap := range history.Snapshots {
		ts := snap.GeneratedAt
		if !ts.Before(from) && !ts.After(to) {
			result = append(result, snap)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}

// GetForecast returns the latest forecast block for a subject.
func (s *MemoryStore) GetForecast(subjectID string) (weather.ForecastBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	block, ok := s.forecasts[subjectID]
	if !ok {
		return weather.ForecastBlock{}, ErrNotFound
	}
	return block, nil
}

// GetAvailability returns what the last cycle left for a subject.
func (s *MemoryStore) GetAvailability(subjectID string) (weather.Availability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.availability[subjectID]
	if !ok {
		return weather.Availability{}, ErrNotFound
	}
	return a, nil
}
