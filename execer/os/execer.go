package os

import (
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	schederrors "github.com/wacker-lab/ampsched/common/errors"
	"github.com/wacker-lab/ampsched/common/stats"
	"github.com/wacker-lab/ampsched/execer"
)

// DefaultSampleInterval is how often the memory monitor samples a process
// group when the Command does not say otherwise.
const DefaultSampleInterval = 500 * time.Millisecond

// AbortTimeoutSec is how long Abort waits after SIGTERM before escalating to
// SIGKILL. Shortened in tests.
var AbortTimeoutSec = 10

type WriterDelegater interface {
	// Return an underlying Writer. Some sinks wrap an *os.File; exposing it
	// lets os/exec connect the child's fd directly instead of copying
	// through our delegation.
	WriterDelegate() io.Writer
}

// Implements execer.Execer. Each Exec'd command gets its own process group
// and, when the Command carries a MemoryCap, a monitor goroutine that kills
// the whole group if its resident memory exceeds the cap.
type boundedExecer struct {
	getMemUsage func(int) (execer.Memory, error)
	stat        stats.StatsReceiver
	pw          ProcessWatcher
}

// NewBoundedExecer returns an execer sampling memory through pw. A nil pw
// selects the ps-based watcher; a nil stat discards instruments.
func NewBoundedExecer(stat stats.StatsReceiver, pw ProcessWatcher) *boundedExecer {
	if pw == nil {
		pw = NewProcessWatcher()
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	e := &boundedExecer{stat: stat, pw: pw}
	e.getMemUsage = e.pw.MemUsage
	return e
}

// Exec starts command in a fresh process group and returns a handle for it.
func (e *boundedExecer) Exec(command execer.Command) (execer.Process, error) {
	if len(command.Argv) == 0 {
		return nil, fmt.Errorf("no command specified")
	}

	cmd := exec.Command(command.Argv[0], command.Argv[1:]...)
	cmd.Dir = command.Dir
	cmd.Env = os.Environ()

	// Sets pgid of all child processes to cmd's pid, so one kill reaches
	// the entire job subtree and nothing else.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if command.Stdin != nil {
		cmd.Stdin = command.Stdin
	}
	if command.Stdout == nil {
		command.Stdout = io.Discard
	}
	if command.Stderr == nil {
		command.Stderr = io.Discard
	}
	// Unwrap to the best possible Writer so os/exec can hand a real file
	// descriptor to the child where one exists.
	if stdoutW, ok := command.Stdout.(WriterDelegater); ok {
		command.Stdout = stdoutW.WriterDelegate()
	}
	if stderrW, ok := command.Stderr.(WriterDelegater); ok {
		command.Stderr = stderrW.WriterDelegate()
	}

	// Use pipes rather than handing the writers to os/exec directly; Wait
	// can hang on a shared fd held open by grandchildren.
	stdErrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	stdOutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(command.Stderr, stdErrPipe)
	}()
	go func() {
		defer wg.Done()
		io.Copy(command.Stdout, stdOutPipe)
	}()

	if err := cmd.Start(); err != nil {
		return nil, schederrors.NewError(err, schederrors.CouldNotExecExitCode)
	}

	proc := &process{cmd: cmd, wg: &wg, ats: AbortTimeoutSec, jobID: command.JobID, tag: command.Tag}
	if command.MemoryCap > 0 {
		interval := command.SampleInterval
		if interval <= 0 {
			interval = DefaultSampleInterval
		}
		go e.monitorMem(proc, command.MemoryCap, interval)
	}

	return proc, nil
}

// monitorMem periodically checks that the process group stays under memCap
// and cleans up after the process has completed. It is the only writer of a
// MEMORY_KILLED status; whichever of monitor, Wait or Abort observes a
// terminal status first wins, the others are no-ops.
func (e *boundedExecer) monitorMem(p *process, memCap execer.Memory, interval time.Duration) {
	pid := p.cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		log.WithFields(log.Fields{"pid": pid, "error": err, "jobID": p.jobID, "tag": p.tag}).
			Error("Error finding pgid")
	} else {
		defer cleanupProcs(pgid)
	}
	log.WithFields(log.Fields{"pid": pid, "jobID": p.jobID, "tag": p.tag}).Info("Monitoring memory")

	// Check immediately on start; an over-cap first sample means the host
	// was already under pressure when the process launched.
	if err := e.pw.Refresh(); err != nil {
		log.Error(err)
	}
	mem, err := e.getMemUsage(pid)
	if err != nil {
		log.Debugf("Error getting memory usage: %s", err)
		e.stat.Gauge(stats.WorkerMemory).Update(-1)
	} else if mem >= memCap {
		e.stat.Counter(stats.WorkerHighInitialMemory).Inc(1)
		p.mutex.Lock()
		p.lastMem = mem
		p.result = &execer.ProcessStatus{
			State:    execer.MEMORY_KILLED,
			ExitCode: int(schederrors.HighInitialMemoryExitCode),
			Error: fmt.Sprintf("initial memory usage already above cap, aborting process %d: %v > %v (%v)",
				pid, mem, memCap, p.cmd.Args),
			Memory: mem,
		}
		p.mutex.Unlock()
		e.memCapKill(p, mem, memCap)
		return
	}

	thresholdsIdx := 0
	reportThresholds := []float64{0, .25, .5, .75, .85, .9, .93, .95, .96, .97, .98, .99, 1}
	memTicker := time.NewTicker(interval)
	defer memTicker.Stop()
	for range memTicker.C {
		p.mutex.Lock()
		if p.result != nil {
			// Process is complete.
			p.mutex.Unlock()
			log.WithFields(log.Fields{"pid": pid, "jobID": p.jobID, "tag": p.tag}).
				Info("Finished monitoring memory")
			return
		}
		if err := e.pw.Refresh(); err != nil {
			log.Error(err)
		}
		mem, err := e.getMemUsage(pid)
		if err != nil {
			p.mutex.Unlock()
			log.Debugf("Error getting memory usage: %s", err)
			e.stat.Gauge(stats.WorkerMemory).Update(-1)
			continue
		}
		p.lastMem = mem
		e.stat.Gauge(stats.WorkerMemory).Update(int64(mem))
		if mem >= memCap {
			p.result = &execer.ProcessStatus{
				State:    execer.MEMORY_KILLED,
				ExitCode: -1,
				Error: fmt.Sprintf("cmd exceeded memory cap, aborting process %d: %v > %v (%v)",
					pid, mem, memCap, p.cmd.Args),
				Memory: mem,
			}
			p.mutex.Unlock()
			e.memCapKill(p, mem, memCap)
			return
		}
		// Report on larger changes when utilization is low, and smaller
		// changes as utilization reaches 100%.
		memUsagePct := math.Min(1.0, float64(mem)/float64(memCap))
		if memUsagePct > reportThresholds[thresholdsIdx] {
			log.WithFields(log.Fields{
				"memUsagePct": int(memUsagePct * 100),
				"mem":         mem,
				"memCap":      memCap,
				"pid":         pid,
				"jobID":       p.jobID,
				"tag":         p.tag,
			}).Infof("Memory utilization increased to %d%%, pid: %d", int(memUsagePct*100), pid)
			for memUsagePct > reportThresholds[thresholdsIdx] {
				thresholdsIdx++
			}
		}
		p.mutex.Unlock()
	}
}

// memCapKill kills the process group and records memory after the kill.
func (e *boundedExecer) memCapKill(p *process, mem execer.Memory, memCap execer.Memory) {
	log.WithFields(log.Fields{
		"mem":    mem,
		"memCap": memCap,
		"pid":    p.cmd.Process.Pid,
		"jobID":  p.jobID,
		"tag":    p.tag,
	}).Info("Killing process group for memory usage over cap")
	p.killGroup("killed for memory usage over cap")
	postKillMem, err := e.getMemUsage(p.cmd.Process.Pid)
	if err != nil {
		log.Debugf("Error getting memory usage after kill: %s", err)
		e.stat.Gauge(stats.WorkerMemory).Update(-1)
		return
	}
	e.stat.Gauge(stats.WorkerMemory).Update(int64(postKillMem))
}

// Kill process along with all child processes, assuming no child called setpgid.
func cleanupProcs(pgid int) error {
	log.WithFields(log.Fields{"pgid": pgid}).Info("Cleaning up pgid")
	err := syscall.Kill(-pgid, syscall.SIGKILL)
	if err != nil {
		log.WithFields(log.Fields{"pgid": pgid, "error": err}).Error("Error cleaning up pgid")
	}
	return err
}
