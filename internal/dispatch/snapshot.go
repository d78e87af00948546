package dispatch

import "time"

// Snapshot is a read-only view of the current or most recent run.
type Snapshot struct {
	RunID string
	// State is the scheduler state; it is Idle once a run has finished.
	State State
	// Outcome is Completed or Canceled for a finished run, otherwise the
	// same as State.
	Outcome      State
	CurrentIndex int
	Total        int
	Sent         int
	Failed       int
	StartedAt    time.Time
	FinishedAt   time.Time

	Elapsed            time.Duration
	AveragePerItem     time.Duration
	EstimatedRemaining time.Duration
}

// Percent of links attempted, 0..100.
func (s Snapshot) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.CurrentIndex) * 100 / float64(s.Total)
}

// Progress is the advisory time projection of a run.
type Progress struct {
	Elapsed            time.Duration
	AveragePerItem     time.Duration
	EstimatedRemaining time.Duration
}

// Project computes the progress projection at now. Nothing is projected
// before the first link is processed.
func Project(startedAt, now time.Time, current, total int) Progress {
	if startedAt.IsZero() {
		return Progress{}
	}
	p := Progress{Elapsed: now.Sub(startedAt)}
	if p.Elapsed < 0 {
		p.Elapsed = 0
	}
	if current <= 0 {
		return p
	}
	p.AveragePerItem = p.Elapsed / time.Duration(current)
	if remaining := total - current; remaining > 0 {
		p.EstimatedRemaining = p.AveragePerItem * time.Duration(remaining)
	}
	return p
}
