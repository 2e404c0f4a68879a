package crawler

import (
	"fmt"
	"time"
)

// Summary describes a finished (or interrupted) run.
type Summary struct {
	Total       int
	Processed   int
	Succeeded   int
	Partial     int
	Terminal    int
	Exhausted   int
	Rotations   int
	RateLimits  int
	Flushes     int
	Elapsed     time.Duration
	Interrupted bool
}

// Failed counts items that produced no usable record.
func (s Summary) Failed() int { return s.Terminal + s.Exhausted }

// SuccessRate is the share of processed items with at least a profile.
func (s Summary) SuccessRate() float64 {
	if s.Processed == 0 {
		return 0
	}
	return float64(s.Succeeded+s.Partial) / float64(s.Processed) * 100
}

func (s Summary) Fields() map[string]interface{} {
	return map[string]interface{}{
		"total":       s.Total,
		"processed":   s.Processed,
		"succeeded":   s.Succeeded,
		"partial":     s.Partial,
		"terminal":    s.Terminal,
		"exhausted":   s.Exhausted,
		"rotations":   s.Rotations,
		"rate_limits": s.RateLimits,
		"elapsed":     s.Elapsed.Round(time.Second).String(),
		"interrupted": s.Interrupted,
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("%d/%d processed (%d ok, %d partial, %d terminal, %d exhausted) in %s",
		s.Processed, s.Total, s.Succeeded, s.Partial, s.Terminal, s.Exhausted, s.Elapsed.Round(time.Second))
}
