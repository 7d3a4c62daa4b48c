package harness

import (
	"time"

	"github.com/roach88/isoharness/internal/isolation"
)

// WorkerState is one worker's progress counters. Each worker writes only its
// own slot, and the coordinator reads the slots after the join.
type WorkerState struct {
	ID        int   `json:"id"`
	Completed int   `json:"completed"`
	Attempts  int64 `json:"attempts"`
	Conflicts int64 `json:"conflicts"`
	Errors    int64 `json:"errors,omitempty"`
}

// Sample is one observation of the counter taken while workers run.
type Sample struct {
	Offset time.Duration `json:"offset"`
	Value  int64         `json:"value"`
}

// Result is the outcome of one harness run.
type Result struct {
	RunID      string          `json:"run_id"`
	Backend    string          `json:"backend"`
	Level      isolation.Level `json:"level"`
	Policy     Policy          `json:"policy"`
	Mode       Mode            `json:"mode"`
	Workers    int             `json:"workers"`
	Iterations int             `json:"iterations"`

	Expected int64         `json:"expected"`
	Final    int64         `json:"final"`
	Elapsed  time.Duration `json:"elapsed"`

	// Attempts and Conflicts sum the per-worker counters.
	Attempts  int64         `json:"attempts"`
	Conflicts int64         `json:"conflicts"`
	States    []WorkerState `json:"workers_detail"`
	Samples   []Sample      `json:"samples,omitempty"`

	// Pass is true only when no worker failed and Final equals Expected.
	Pass bool `json:"pass"`

	// Error holds the message of the error Run returned, if any.
	Error string `json:"error,omitempty"`
}

// Lost is the number of increments missing from the final value.
func (r *Result) Lost() int64 {
	return r.Expected - r.Final
}

// Completed sums the increments the workers reported as committed.
func (r *Result) Completed() int64 {
	var n int64
	for _, s := range r.States {
		n += int64(s.Completed)
	}
	return n
}

// ConflictRate is conflicts per attempt, or 0 for a run without attempts.
func (r *Result) ConflictRate() float64 {
	if r.Attempts == 0 {
		return 0
	}
	return float64(r.Conflicts) / float64(r.Attempts)
}

func (r *Result) tally() {
	r.Attempts, r.Conflicts = 0, 0
	for _, s := range r.States {
		r.Attempts += s.Attempts
		r.Conflicts += s.Conflicts
	}
}
