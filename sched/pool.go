package sched

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	schederrors "github.com/wacker-lab/ampsched/common/errors"
	"github.com/wacker-lab/ampsched/common/stats"
	"github.com/wacker-lab/ampsched/execer"
	"github.com/wacker-lab/ampsched/memory"
)

// Pool runs batches of JobSpecs with bounded concurrency, memory admission
// control, per-job memory supervision and an overall session deadline.
type Pool struct {
	cfg   Config
	exec  execer.Execer
	probe memory.Probe
	stat  stats.StatsReceiver

	running atomic.Int64
}

// NewPool wires a pool. The execer decides how jobs actually run (the OS
// execer in production, fakes in tests); the probe supplies admission
// readings. A nil stat discards instruments.
func NewPool(cfg Config, exec execer.Execer, probe memory.Probe, stat stats.StatsReceiver) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, fmt.Errorf("execer is required")
	}
	if probe == nil {
		return nil, fmt.Errorf("memory probe is required")
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Pool{cfg: cfg, exec: exec, probe: probe, stat: stat}, nil
}

type indexedSpec struct {
	idx  int
	spec JobSpec
}

// Run dispatches specs FIFO through MaxWorkers slots and blocks until every
// spec has a terminal outcome. The returned slice always has len(specs)
// entries in submission order. The error is ErrAdmissionTimeout when the
// session deadline expired while jobs were still waiting for memory; the
// outcome slice is complete even then (undispatched specs read TimedOut).
func (p *Pool) Run(ctx context.Context, specs []JobSpec) ([]JobOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.OverallDeadline)
	defer cancel()

	log.WithFields(log.Fields{
		"jobs":       len(specs),
		"maxWorkers": p.cfg.MaxWorkers,
		"deadline":   p.cfg.OverallDeadline,
	}).Info("Scheduling batch")

	coll := newCollector(len(specs))
	pending := make(chan indexedSpec)
	adm := &admission{probe: p.probe, min: p.cfg.MinAvailable, interval: p.cfg.PollInterval, stat: p.stat}

	// Set once the admission deadline fires; stops all further dispatch.
	var expired atomic.Bool

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.MaxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range pending {
				if expired.Load() {
					coll.add(p.neverRan(item))
					continue
				}
				if err := adm.await(ctx); err != nil {
					expired.Store(true)
					log.WithFields(log.Fields{"job": item.spec.Name}).
						Error("Admission deadline exceeded, halting dispatch")
					coll.add(p.neverRan(item))
					continue
				}
				coll.add(p.runOne(item))
			}
		}()
	}

	for i, spec := range specs {
		pending <- indexedSpec{idx: i, spec: spec}
	}
	close(pending)
	wg.Wait()

	outcomes := coll.results()
	if expired.Load() {
		return outcomes, ErrAdmissionTimeout
	}
	return outcomes, nil
}

// neverRan is the outcome for a spec the pool gave up on before dispatch.
// The only terminal transition that bypasses Running.
func (p *Pool) neverRan(item indexedSpec) JobOutcome {
	p.stat.Counter(stats.SchedJobsTimedOut).Inc(1)
	return JobOutcome{
		SpecID: item.spec.ID,
		Name:   item.spec.Name,
		Index:  item.idx,
		Status: TimedOut,
		Error:  "never dispatched: admission deadline exceeded",
	}
}

// runOne executes a single spec to its terminal outcome. Nothing in here
// returns an error upward: every failure mode becomes an outcome, so one
// job can never abort its siblings.
func (p *Pool) runOne(item indexedSpec) JobOutcome {
	spec := item.spec
	start := time.Now()
	out := JobOutcome{SpecID: spec.ID, Name: spec.Name, Index: item.idx}

	failed := func(code int, format string, args ...interface{}) JobOutcome {
		p.stat.Counter(stats.SchedJobsFailed).Inc(1)
		out.Status = Failed
		out.ExitCode = code
		out.Error = fmt.Sprintf(format, args...)
		out.Elapsed = time.Since(start)
		return out
	}

	var stdin io.Reader
	if spec.StdinPath != "" {
		f, err := os.Open(spec.StdinPath)
		if err != nil {
			return failed(int(schederrors.CouldNotExecExitCode), "could not open stdin file: %s", err)
		}
		defer f.Close()
		stdin = f
	}

	var stdout, stderr io.Writer = io.Discard, io.Discard
	if spec.SinkPath != "" {
		if err := os.MkdirAll(filepath.Dir(spec.SinkPath), 0777); err != nil {
			return failed(int(schederrors.CouldNotExecExitCode), "could not create sink dir: %s", err)
		}
		sinkF, err := os.Create(spec.SinkPath)
		if err != nil {
			return failed(int(schederrors.CouldNotExecExitCode), "could not create sink: %s", err)
		}
		defer sinkF.Close()
		errF, err := os.Create(spec.SinkPath + ".stderr")
		if err != nil {
			return failed(int(schederrors.CouldNotExecExitCode), "could not create stderr sink: %s", err)
		}
		defer errF.Close()
		stdout, stderr = sinkF, errF
		out.SinkPath, out.StderrPath = spec.SinkPath, spec.SinkPath+".stderr"
	}

	log.WithFields(log.Fields{
		"job":        spec.Name,
		"class":      spec.Class,
		"mismatches": spec.Mismatches,
	}).Info("Dispatching job")
	p.stat.Counter(stats.SchedJobsStarted).Inc(1)
	p.stat.Gauge(stats.SchedJobsRunning).Update(p.running.Add(1))
	defer func() {
		p.stat.Gauge(stats.SchedJobsRunning).Update(p.running.Add(-1))
	}()

	proc, err := p.exec.Exec(execer.Command{
		Argv:           spec.Argv,
		Dir:            spec.Dir,
		Stdin:          stdin,
		Stdout:         stdout,
		Stderr:         stderr,
		MemoryCap:      p.cfg.PerJobCeiling,
		SampleInterval: p.cfg.SampleInterval,
		JobID:          spec.ID,
		Tag:            string(spec.Class),
	})
	if err != nil {
		return failed(int(schederrors.CouldNotExecExitCode), "could not exec: %s", err)
	}

	processCh := make(chan execer.ProcessStatus, 1)
	go func() { processCh <- proc.Wait() }()

	var timeoutCh <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	var st execer.ProcessStatus
	timedOut := false
	select {
	case <-timeoutCh:
		st = proc.Abort()
		timedOut = true
	case st = <-processCh:
	}

	out.Elapsed = time.Since(start)
	out.ExitCode = st.ExitCode
	out.MemoryPeak = st.Memory
	out.Error = st.Error

	switch {
	case st.State == execer.MEMORY_KILLED:
		// Wins even if the wall-clock timer fired in the same instant:
		// the watchdog wrote the terminal status first.
		p.stat.Counter(stats.SchedJobsMemoryKilled).Inc(1)
		out.Status = MemoryKilled
	case timedOut:
		p.stat.Counter(stats.SchedJobsTimedOut).Inc(1)
		out.Status = TimedOut
		out.Error = fmt.Sprintf("job exceeded %v wall-clock timeout", spec.Timeout)
	case st.State == execer.COMPLETE && st.ExitCode == 0:
		p.stat.Counter(stats.SchedJobsSucceeded).Inc(1)
		out.Status = Succeeded
	case st.State == execer.COMPLETE:
		p.stat.Counter(stats.SchedJobsFailed).Inc(1)
		out.Status = Failed
	default:
		p.stat.Counter(stats.SchedJobsFailed).Inc(1)
		out.Status = Failed
	}

	log.WithFields(log.Fields{
		"job":     spec.Name,
		"status":  out.Status,
		"exit":    out.ExitCode,
		"elapsed": out.Elapsed,
	}).Info("Job finished")
	return out
}
