package os

import (
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wacker-lab/ampsched/execer"
)

// Implements execer.Process.
//
// The terminal status lives in result and is written exactly once, under
// mutex, by whichever of Wait, Abort or the memory monitor gets there first.
// Later writers observe result != nil and return it as-is.
type process struct {
	cmd     *exec.Cmd
	wg      *sync.WaitGroup
	waiting bool
	result  *execer.ProcessStatus
	lastMem execer.Memory
	mutex   sync.Mutex
	ats     int // seconds between SIGTERM and SIGKILL in Abort
	jobID   string
	tag     string
}

// Wait blocks until the process exits (naturally or killed) and returns its
// terminal status. A command that runs and exits maps to COMPLETE with its
// exit code, zero or not; FAILED is reserved for processes whose exit status
// could not be determined.
func (p *process) Wait() (result execer.ProcessStatus) {
	p.mutex.Lock()
	p.waiting = true
	p.mutex.Unlock()

	// Join the output copiers first, then reap the process.
	p.wg.Wait()
	pid := p.cmd.Process.Pid

	err := p.cmd.Wait()
	log.WithFields(log.Fields{"pid": pid, "jobID": p.jobID, "tag": p.tag}).
		Info("Finished waiting for process")

	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.waiting = false

	if p.result != nil {
		return *p.result
	}
	defer func() {
		result.Memory = p.lastMem
		p.result = &result
	}()
	if err == nil {
		result.State = execer.COMPLETE
		result.ExitCode = 0
		return result
	}
	if err, ok := err.(*exec.ExitError); ok {
		// If we can pull a WaitStatus out of the error we still know the
		// command's exit code.
		if status, ok := err.Sys().(syscall.WaitStatus); ok {
			result.State = execer.COMPLETE
			result.ExitCode = status.ExitStatus()
			return result
		}
		result.State = execer.FAILED
		result.Error = "could not find WaitStatus from exiterr.Sys()"
		return result
	}

	result.State = execer.FAILED
	result.Error = err.Error()
	return result
}

// Abort SIGTERMs the process to allow a graceful exit, then SIGKILLs the
// whole group if it has not gone away after the grace period.
func (p *process) Abort() execer.ProcessStatus {
	p.mutex.Lock()
	if p.result != nil {
		defer p.mutex.Unlock()
		return *p.result
	}
	p.result = &execer.ProcessStatus{
		State:    execer.FAILED,
		ExitCode: -1,
		Error:    "aborted",
		Memory:   p.lastMem,
	}
	pid := p.cmd.Process.Pid
	wasWaiting := p.waiting
	p.mutex.Unlock()

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		log.WithFields(log.Fields{"pid": pid, "error": err, "jobID": p.jobID, "tag": p.tag}).
			Errorf("Error aborting command via SIGTERM")
		p.killGroup("SIGTERM failed, killing group")
		p.mutex.Lock()
		defer p.mutex.Unlock()
		return *p.result
	}
	log.WithFields(log.Fields{"pid": pid, "jobID": p.jobID, "tag": p.tag}).
		Info("Aborting process via SIGTERM")

	// Reap the process ourselves unless Wait already claimed it; calling
	// cmd.Wait twice is an immediate error, so in that case poll for the
	// recorded ProcessState instead.
	cmdDoneCh := make(chan error, 1)
	if !wasWaiting {
		go func() {
			cmdDoneCh <- p.cmd.Wait()
		}()
	} else {
		go func() {
			deadline := time.Now().Add(time.Duration(p.ats) * time.Second)
			for time.Now().Before(deadline) {
				// ProcessState.Exited() is false for signaled processes,
				// so check for any recorded state at all.
				if p.cmd.ProcessState != nil {
					cmdDoneCh <- nil
					return
				}
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}

	select {
	case err := <-cmdDoneCh:
		sigtermed := err == nil
		if err != nil {
			if err, ok := err.(*exec.ExitError); ok {
				if status, ok := err.Sys().(syscall.WaitStatus); ok && status.Signaled() {
					sigtermed = true
				}
			}
		}
		if sigtermed {
			log.WithFields(log.Fields{"pid": pid, "jobID": p.jobID, "tag": p.tag}).
				Info("Command finished via SIGTERM")
			p.mutex.Lock()
			defer p.mutex.Unlock()
			p.result.Error += " (SIGTERM)"
			return *p.result
		}
		p.killGroup(fmt.Sprintf("command failed to terminate cleanly: %v", err))
		p.mutex.Lock()
		defer p.mutex.Unlock()
		p.result.Error += " (SIGKILL)"
		return *p.result
	case <-time.After(time.Duration(p.ats) * time.Second):
		p.killGroup(fmt.Sprintf("%d second SIGTERM grace exceeded, killing group", p.ats))
		p.mutex.Lock()
		defer p.mutex.Unlock()
		p.result.Error += " (SIGKILL)"
		return *p.result
	}
}

// killGroup SIGKILLs the process and every process in its group. The caller
// must have set p.result already; killGroup only appends diagnostics to it.
func (p *process) killGroup(reason string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	pgid, err := syscall.Getpgid(p.cmd.Process.Pid)
	if err != nil {
		log.WithFields(log.Fields{"pid": p.cmd.Process.Pid, "error": err, "jobID": p.jobID, "tag": p.tag}).
			Error("Error finding pgid")
	} else {
		defer cleanupProcs(pgid)
	}
	p.result.Error += fmt.Sprintf(" %s", reason)
	if err := p.cmd.Process.Kill(); err != nil {
		p.result.Error += fmt.Sprintf(" (couldn't kill process: %s, will still attempt pgid cleanup)", err)
	}
	// Best effort reap; fails if Wait already claimed the process.
	ps, err := p.cmd.Process.Wait()
	if err == nil && ps != nil {
		if status, ok := ps.Sys().(syscall.WaitStatus); ok && status.Exited() {
			p.result.ExitCode = status.ExitStatus()
		}
	}
}
