package domain

import "time"

// QARun is the immutable summary record of one daily QA sweep.
type QARun struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Examined   int
	Passed     int
	Failed     int
	Repaired   int
	Notes      string
}

// Duration returns the wall-clock duration of the run.
func (r *QARun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
