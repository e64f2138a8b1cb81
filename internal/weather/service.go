package weather

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnknownSubject is returned for subject ids that are not configured.
var ErrUnknownSubject = errors.New("subject not configured")

// ErrSubjectUnavailable is returned instead of published data when the
// subject's latest cycle failed.
var ErrSubjectUnavailable = errors.New("subject unavailable")

// Service ties the configured coordinators to the store they publish into.
// It is what the HTTP layer and the scheduler talk to.
type Service struct {
	store     Store
	catalog   *Catalog
	stations  map[string]*StationCoordinator
	forecasts map[string]*ForecastCoordinator
}

// NewService creates a new Service. Subject ids must be unique across
// stations and locations.
func NewService(store Store, catalog *Catalog, stations []*StationCoordinator, forecasts []*ForecastCoordinator) (*Service, error) {
	s := &Service{
		store:     store,
		catalog:   catalog,
		stations:  make(map[string]*StationCoordinator, len(stations)),
		forecasts: make(map[string]*ForecastCoordinator, len(forecasts)),
	}
	for _, c := range stations {
		id := c.Subject().ID
		if s.known(id) {
			return nil, fmt.Errorf("duplicate subject %q", id)
		}
		s.stations[id] = c
	}
	for _, c := range forecasts {
		id := c.Subject().ID
		if s.known(id) {
			return nil, fmt.Errorf("duplicate subject %q", id)
		}
		s.forecasts[id] = c
	}
	return s, nil
}

func (s *Service) known(id string) bool {
	_, st := s.stations[id]
	_, fc := s.forecasts[id]
	return st || fc
}

// Catalog returns the setup-time catalog, nil when not configured.
func (s *Service) Catalog() *Catalog { return s.catalog }

// StationCoordinators returns the station coordinators sorted by id.
func (s *Service) StationCoordinators() []*StationCoordinator {
	out := make([]*StationCoordinator, 0, len(s.stations))
	for _, c := range s.stations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject().ID < out[j].Subject().ID })
	return out
}

// ForecastCoordinators returns the forecast coordinators sorted by id.
func (s *Service) ForecastCoordinators() []*ForecastCoordinator {
	out := make([]*ForecastCoordinator, 0, len(s.forecasts))
	for _, c := range s.forecasts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject().ID < out[j].Subject().ID })
	return out
}

// SubjectStatus is the configured view of one subject.
type SubjectStatus struct {
	Subject      Subject       `json:"subject"`
	State        string        `json:"state"`
	Cycles       int64         `json:"cycles"`
	Availability *Availability `json:"availability,omitempty"`
}

// Subjects lists every configured subject with its state.
func (s *Service) Subjects() []SubjectStatus {
	out := make([]SubjectStatus, 0, len(s.stations)+len(s.forecasts))
	for _, c := range s.StationCoordinators() {
		out = append(out, s.status(c.Subject(), c.State(), c.Cycles()))
	}
	for _, c := range s.ForecastCoordinators() {
		out = append(out, s.status(c.Subject(), c.State(), c.Cycles()))
	}
	return out
}

func (s *Service) status(subject Subject, state State, cycles int64) SubjectStatus {
	st := SubjectStatus{Subject: subject, State: state.String(), Cycles: cycles}
	if a, err := s.store.GetAvailability(subject.ID); err == nil {
		st.Availability = &a
	}
	return st
}

// GetLatest returns the latest snapshot of a station, or
// ErrSubjectUnavailable when its last cycle failed.
func (s *Service) GetLatest(subjectID string) (Snapshot, error) {
	if _, ok := s.stations[subjectID]; !ok {
		return Snapshot{}, ErrUnknownSubject
	}
	snapshot, err := s.store.GetLatest(subjectID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.checkAvailable(subjectID); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

// GetRange delegates to the underlying store.
func (s *Service) GetRange(subjectID string, from, to time.Time) ([]Snapshot, error) {
	if _, ok := s.stations[subjectID]; !ok {
		return nil, ErrUnknownSubject
	}
	return s.store.GetRange(subjectID, from, to)
}

// GetForecast returns the latest forecast of a location, or
// ErrSubjectUnavailable when its last cycle failed.
func (s *Service) GetForecast(subjectID string) (ForecastBlock, error) {
	if _, ok := s.forecasts[subjectID]; !ok {
		return ForecastBlock{}, ErrUnknownSubject
	}
	block, err := s.store.GetForecast(subjectID)
	if err != nil {
		return ForecastBlock{}, err
	}
	if err := s.checkAvailable(subjectID); err != nil {
		return ForecastBlock{}, err
	}
	return block, nil
}

// checkAvailable keeps data from a failed subject from being served as
// current. History is still readable through GetRange.
func (s *Service) checkAvailable(subjectID string) error {
	a, err := s.store.GetAvailability(subjectID)
	if err != nil || a.Available {
		return nil
	}
	if a.Reason != "" {
		return fmt.Errorf("%w: %s", ErrSubjectUnavailable, a.Reason)
	}
	return ErrSubjectUnavailable
}

// Rediscover marks a station's capabilities for refresh on its next cycle.
func (s *Service) Rediscover(subjectID string) error {
	c, ok := s.stations[subjectID]
	if !ok {
		return ErrUnknownSubject
	}
	c.Rediscover()
	return nil
}
