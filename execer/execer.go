package execer

// Execer runs one external command. It sits at the level of os/exec, not
// scheduling: it knows nothing about job specs, admission control, or result
// collection. Implementations must start the command in its own process
// group so that killing it cannot touch the caller or sibling commands.

import (
	"fmt"
	"io"
	"time"
)

// Memory is a byte count of resident memory.
type Memory uint64

const (
	KB Memory = 1024
	MB        = 1024 * KB
	GB        = 1024 * MB
)

func (m Memory) String() string {
	switch {
	case m >= GB:
		return fmt.Sprintf("%.2fGB", float64(m)/float64(GB))
	case m >= MB:
		return fmt.Sprintf("%.2fMB", float64(m)/float64(MB))
	case m >= KB:
		return fmt.Sprintf("%.2fKB", float64(m)/float64(KB))
	}
	return fmt.Sprintf("%dB", uint64(m))
}

type Command struct {
	Argv []string
	Dir  string

	// Stdin is streamed to the child when non-nil.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// MemoryCap bounds the resident memory of the command's process group.
	// Zero disables monitoring.
	MemoryCap Memory
	// SampleInterval is how often the memory monitor samples. Zero selects
	// the implementation default.
	SampleInterval time.Duration

	// JobID and Tag are carried into log fields only.
	JobID string
	Tag   string
}

type ProcessState int

const (
	UNKNOWN ProcessState = iota
	RUNNING
	COMPLETE
	FAILED
	MEMORY_KILLED
)

func (s ProcessState) IsDone() bool {
	return s == COMPLETE || s == FAILED || s == MEMORY_KILLED
}

func (s ProcessState) String() string {
	switch s {
	case RUNNING:
		return "RUNNING"
	case COMPLETE:
		return "COMPLETE"
	case FAILED:
		return "FAILED"
	case MEMORY_KILLED:
		return "MEMORY_KILLED"
	default:
		return "UNKNOWN"
	}
}

type ProcessStatus struct {
	State    ProcessState
	ExitCode int
	Error    string

	// Memory is the last sampled resident usage of the process group, when
	// monitoring was enabled.
	Memory Memory
}

type Execer interface {
	Exec(command Command) (Process, error)
}

type Process interface {
	// Wait blocks until the process reaches a terminal state.
	Wait() ProcessStatus
	// Abort terminates the process and returns its terminal status. If the
	// process already terminated, the existing status is returned unchanged.
	Abort() ProcessStatus
}
