package sched

import (
	"fmt"
	"time"

	"github.com/wacker-lab/ampsched/execer"
)

// Config carries every scheduler limit explicitly; there are no package-level
// knobs to mutate.
type Config struct {
	// MaxWorkers bounds the number of concurrently running jobs.
	MaxWorkers int

	// MinAvailable is the system memory that must be free before a new job
	// is dispatched.
	MinAvailable execer.Memory

	// PerJobCeiling is the resident memory a single job's process group may
	// reach before it is killed.
	PerJobCeiling execer.Memory

	// PollInterval is how long the admission gate sleeps between memory
	// checks.
	PollInterval time.Duration

	// SampleInterval is how often each job's memory watchdog samples.
	SampleInterval time.Duration

	// OverallDeadline bounds the whole scheduling session. Once exceeded,
	// no new job is dispatched; running jobs still finish.
	OverallDeadline time.Duration
}

// DefaultConfig mirrors the defaults of the original pipeline: 6 workers,
// 5GB free to admit, 16GB ceiling per job, 2s polls, 6h session deadline.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:      6,
		MinAvailable:    5_000_000_000,
		PerJobCeiling:   16_000_000_000,
		PollInterval:    2 * time.Second,
		SampleInterval:  500 * time.Millisecond,
		OverallDeadline: 6 * time.Hour,
	}
}

func (c Config) Validate() error {
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("MaxWorkers must be positive, got %d", c.MaxWorkers)
	}
	if c.PerJobCeiling == 0 {
		return fmt.Errorf("PerJobCeiling must be set")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("PollInterval must be positive, got %v", c.PollInterval)
	}
	if c.OverallDeadline <= 0 {
		return fmt.Errorf("OverallDeadline must be positive, got %v", c.OverallDeadline)
	}
	return nil
}
