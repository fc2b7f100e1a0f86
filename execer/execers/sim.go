package execers

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wacker-lab/ampsched/execer"
)

func NewSimExecer() *SimExecer {
	return &SimExecer{resumeCh: make(chan struct{})}
}

// SimExecer execs by simulating running argv. Each arg in command.Argv is
// simulated in order. Valid args are:
//
//	complete <exitcode int>
//	  exit with exitcode
//	sleep <millis int>
//	  sleep for millis milliseconds
//	pause
//	  pause until Resume() is called
//	stdout <message>
//	  write <message> to stdout
//	stderr <message>
//	  write <message> to stderr
//	memkill <bytes int>
//	  terminate as if a memory watchdog had fired at <bytes> usage
type SimExecer struct {
	resumeCh chan struct{}
}

func (e *SimExecer) Exec(command execer.Command) (execer.Process, error) {
	steps, err := e.parse(command.Argv)
	if err != nil {
		return nil, err
	}
	p := &simProcess{stdout: command.Stdout, stderr: command.Stderr}
	p.done = sync.NewCond(&p.mu)
	p.status.State = execer.RUNNING
	go p.run(steps)
	return p, nil
}

// Resume unblocks one pending "pause" step.
func (e *SimExecer) Resume() {
	e.resumeCh <- struct{}{}
}

func (e *SimExecer) parse(argv []string) (steps []simStep, err error) {
	for _, arg := range argv {
		s, err := e.parseArg(arg)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func (e *SimExecer) parseArg(arg string) (simStep, error) {
	splits := strings.SplitN(arg, " ", 2)
	opcode, rest := splits[0], ""
	if len(splits) == 2 {
		rest = splits[1]
	}
	switch opcode {
	case "complete":
		i, err := strconv.Atoi(rest)
		if err != nil {
			return nil, fmt.Errorf("error parsing <n> in complete <n>: %s", err)
		}
		return &completeStep{i}, nil
	case "sleep":
		i, err := strconv.Atoi(rest)
		if err != nil {
			return nil, fmt.Errorf("error parsing <n> in sleep <n>: %s", err)
		}
		return &sleepStep{time.Duration(i) * time.Millisecond}, nil
	case "pause":
		return &pauseStep{e.resumeCh}, nil
	case "stdout":
		return &stdoutStep{rest}, nil
	case "stderr":
		return &stderrStep{rest}, nil
	case "memkill":
		i, err := strconv.Atoi(rest)
		if err != nil {
			return nil, fmt.Errorf("error parsing <n> in memkill <n>: %s", err)
		}
		return &memkillStep{execer.Memory(i)}, nil
	}
	return nil, fmt.Errorf("can't simulate arg: %v", arg)
}

type simProcess struct {
	status execer.ProcessStatus
	mu     sync.Mutex
	done   *sync.Cond

	stdout io.Writer
	stderr io.Writer
}

func (p *simProcess) run(steps []simStep) {
	for _, step := range steps {
		status, terminal := step.run(p)
		if terminal {
			p.finish(status)
			return
		}
		if p.isDone() {
			return
		}
	}
	p.finish(execer.ProcessStatus{State: execer.COMPLETE})
}

func (p *simProcess) Wait() execer.ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.status.State.IsDone() {
		p.done.Wait()
	}
	return p.status
}

func (p *simProcess) Abort() execer.ProcessStatus {
	p.finish(execer.ProcessStatus{State: execer.FAILED, ExitCode: -1, Error: "aborted"})
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// finish records the terminal status; the first writer wins.
func (p *simProcess) finish(status execer.ProcessStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.State.IsDone() {
		return
	}
	p.status = status
	p.done.Broadcast()
}

func (p *simProcess) isDone() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.State.IsDone()
}

type simStep interface {
	// run performs the step; a true second return means the process
	// reached a terminal state and status holds it.
	run(p *simProcess) (status execer.ProcessStatus, terminal bool)
}

type completeStep struct {
	exitCode int
}

func (s *completeStep) run(*simProcess) (execer.ProcessStatus, bool) {
	return execer.ProcessStatus{State: execer.COMPLETE, ExitCode: s.exitCode}, true
}

type sleepStep struct {
	duration time.Duration
}

func (s *sleepStep) run(*simProcess) (execer.ProcessStatus, bool) {
	time.Sleep(s.duration)
	return execer.ProcessStatus{}, false
}

type pauseStep struct {
	resumeCh chan struct{}
}

func (s *pauseStep) run(*simProcess) (execer.ProcessStatus, bool) {
	<-s.resumeCh
	return execer.ProcessStatus{}, false
}

type stdoutStep struct {
	message string
}

func (s *stdoutStep) run(p *simProcess) (execer.ProcessStatus, bool) {
	if p.stdout != nil {
		io.WriteString(p.stdout, s.message)
	}
	return execer.ProcessStatus{}, false
}

type stderrStep struct {
	message string
}

func (s *stderrStep) run(p *simProcess) (execer.ProcessStatus, bool) {
	if p.stderr != nil {
		io.WriteString(p.stderr, s.message)
	}
	return execer.ProcessStatus{}, false
}

type memkillStep struct {
	mem execer.Memory
}

func (s *memkillStep) run(*simProcess) (execer.ProcessStatus, bool) {
	return execer.ProcessStatus{
		State:    execer.MEMORY_KILLED,
		ExitCode: -1,
		Error:    fmt.Sprintf("simulated kill at %v resident", s.mem),
		Memory:   s.mem,
	}, true
}
