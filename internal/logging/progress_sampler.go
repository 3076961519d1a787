package logging

// ProgressSampler thins out intra-stage progress reports to one per bucket of
// percent. Each stage run owns its sampler, so stage changes need no tracking.
type ProgressSampler struct {
	bucketSize float64
	lastBucket int
	started    bool
}

// NewProgressSampler returns a sampler with the given bucket width in
// percent (5 when bucketSize is not positive).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether progress at percent deserves a log line. The
// first report always does. Negative percent means unknown and never
// advances the bucket; values above 100 count as 100.
func (s *ProgressSampler) ShouldLog(percent float64) bool {
	if s == nil {
		return true
	}
	first := !s.started
	s.started = true
	if percent < 0 {
		return first
	}
	bucket := int(min(percent, 100) / s.bucketSize)
	if bucket > s.lastBucket {
		s.lastBucket = bucket
		return true
	}
	return first
}
