package weather

import (
	"context"
	"log/slog"
	"time"
)

// ReadingFetcher reads one measurement for one subject. It holds no mutable
// state and is safe for concurrent use.
type ReadingFetcher struct {
	source StationSource
	lag    time.Duration
	logger *slog.Logger
}

func NewReadingFetcher(source StationSource, lag time.Duration, logger *slog.Logger) *ReadingFetcher {
	if lag < MinReadingLag {
		lag = MinReadingLag
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadingFetcher{source: source, lag: lag, logger: logger}
}

// Fetch reads the bucket for entry as seen at instant at. The Reading always
// carries the entry key; its Value is nil unless the outcome is OutcomeOK.
func (f *ReadingFetcher) Fetch(ctx context.Context, bearer string, subject Subject, entry CapabilityEntry, at time.Time) (Reading, Outcome) {
	bucket := BucketFor(at, f.lag)
	reading := Reading{Key: entry.Key, Timestamp: bucket.Start, SubjectID: subject.ID}

	resp, err := f.source.Reading(ctx, bearer, ReadingRequest{
		StationID: subject.ID,
		SensorID:  entry.SensorID,
		Measure:   entry.Measure,
		Bucket:    bucket,
	})
	if err != nil {
		outcome := Classify(err)
		switch outcome {
		case OutcomeEmpty:
			return reading, outcome
		case OutcomeUnexpected:
			f.logger.Error("reading failed",
				"subject", subject.ID,
				"key", entry.Key,
				"sensor", entry.SensorID,
				"measure_type", entry.Measure.Type,
				"measure_id", entry.Measure.ID,
				"bucket", bucket.Start,
				"error", err)
		default:
			f.logger.Debug("reading failed", "subject", subject.ID, "key", entry.Key, "outcome", outcome, "error", err)
		}
		return reading, outcome
	}

	switch resp.Status {
	case ReadingValue:
		v := resp.Value
		reading.Value = &v
		return reading, OutcomeOK
	default:
		f.logger.Debug("no value for bucket", "subject", subject.ID, "key", entry.Key, "bucket", bucket.Start, "status", resp.Status)
		return reading, OutcomeEmpty
	}
}
