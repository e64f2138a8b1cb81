package weather

import "time"

// MinReadingLag is the smallest delay applied before asking for a reading
// bucket. The upstream publishes an hour bucket only after it has started.
const MinReadingLag = 10 * time.Minute

// BucketFor returns the UTC hour bucket that should be read at instant at.
// It is derived from the absolute instant so local DST transitions never
// shift it.
func BucketFor(at time.Time, lag time.Duration) Bucket {
	if lag < MinReadingLag {
		lag = MinReadingLag
	}
	return Bucket{Start: at.UTC().Add(-lag).Truncate(time.Hour)}
}

// PathSegments returns yyyy, mm, dd, hh for the bucket.
func (b Bucket) PathSegments() (string, string, string, string) {
	s := b.Start.UTC()
	return s.Format("2006"), s.Format("01"), s.Format("02"), s.Format("15")
}
