package weather

import (
	"sort"
	"time"
)

// FetchResult is what one fetch contributed to a cycle.
type FetchResult struct {
	Reading Reading
	Outcome Outcome
}

// SnapshotSummary counts the outcomes of a cycle.
type SnapshotSummary struct {
	OK     int
	Empty  int
	Failed int
}

// BuildSnapshot combines per-measurement results into an immutable Snapshot.
// Every key of set appears exactly once; results for keys outside set are
// ignored and keys without a result are recorded as failed.
func BuildSnapshot(subjectID, cycleID string, set CapabilitySet, results []FetchResult, at time.Time) (Snapshot, SnapshotSummary) {
	byKey := make(map[string]FetchResult, len(results))
	for _, r := range results {
		if _, ok := set[r.Reading.Key]; ok {
			byKey[r.Reading.Key] = r
		}
	}

	snap := Snapshot{
		SubjectID:   subjectID,
		CycleID:     cycleID,
		Readings:    make(map[string]Reading, len(set)),
		Succeeded:   []string{},
		Failed:      []string{},
		GeneratedAt: at.UTC(),
	}
	var sum SnapshotSummary

	for key := range set {
		r, ok := byKey[key]
		if !ok {
			r = FetchResult{Reading: Reading{Key: key, SubjectID: subjectID}, Outcome: OutcomeUnexpected}
		}
		reading := r.Reading
		reading.Timestamp = reading.Timestamp.UTC()

		switch {
		case r.Outcome == OutcomeOK:
			sum.OK++
			snap.Succeeded = append(snap.Succeeded, key)
		case r.Outcome == OutcomeEmpty:
			sum.Empty++
			reading.Value = nil
			snap.Succeeded = append(snap.Succeeded, key)
		default:
			sum.Failed++
			reading.Value = nil
			snap.Failed = append(snap.Failed, key)
		}
		snap.Readings[key] = reading
	}

	sort.Strings(snap.Succeeded)
	sort.Strings(snap.Failed)
	return snap, sum
}
