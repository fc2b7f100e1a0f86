// Package sched is a resource-aware scheduler for external validation jobs.
// It bounds concurrency, gates each dispatch on available system memory,
// supervises each job's resident memory, and collects one terminal outcome
// per submitted spec, in submission order.
package sched

import (
	"time"

	uuid "github.com/nu7hatch/gouuid"

	"github.com/wacker-lab/ampsched/execer"
)

// JobClass tags what a job is trying to demonstrate about a primer pair.
type JobClass string

const (
	// Sensitivity jobs amplify against target assemblies: the primers
	// should find their product.
	Sensitivity JobClass = "sensitivity"
	// Specificity jobs amplify against neighbour assemblies: the primers
	// should come up empty.
	Specificity JobClass = "specificity"
)

// JobSpec describes one unit of work. Built by the caller, never mutated.
type JobSpec struct {
	ID   string
	Name string

	// Argv is the fully resolved external command line.
	Argv []string
	Dir  string

	// StdinPath, when set, is streamed to the command's stdin
	// (assembly FASTA contents, the way seqkit amplicon consumes them).
	StdinPath string
	// SinkPath receives the command's stdout. Stderr goes to
	// SinkPath + ".stderr". Empty discards both.
	SinkPath string

	Class      JobClass
	Mismatches int

	// Timeout bounds the job's wall-clock runtime. Zero means the job runs
	// to natural completion.
	Timeout time.Duration
}

// NewJobID returns a fresh unique job ID.
func NewJobID() string {
	id, err := uuid.NewV4()
	if err != nil {
		// rand exhaustion; not recoverable at this layer
		panic(err)
	}
	return id.String()
}

type JobStatus int

const (
	Pending JobStatus = iota
	AwaitingAdmission
	Running

	// Terminal states.
	Succeeded
	Failed
	MemoryKilled
	TimedOut
)

func (s JobStatus) Terminal() bool {
	return s == Succeeded || s == Failed || s == MemoryKilled || s == TimedOut
}

func (s JobStatus) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case AwaitingAdmission:
		return "AWAITING_ADMISSION"
	case Running:
		return "RUNNING"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	case MemoryKilled:
		return "MEMORY_KILLED"
	case TimedOut:
		return "TIMED_OUT"
	default:
		return "UNKNOWN"
	}
}

// JobOutcome is the immutable terminal record for one JobSpec. Exactly one
// exists per submitted spec, created by whichever party saw the job reach a
// terminal state.
type JobOutcome struct {
	SpecID string
	Name   string
	// Index is the spec's position in the submitted batch.
	Index int

	Status   JobStatus
	ExitCode int
	Error    string

	Elapsed time.Duration
	// MemoryPeak is the last resident memory sample observed for the job's
	// process group; zero when monitoring never sampled.
	MemoryPeak execer.Memory

	SinkPath   string
	StderrPath string
}
