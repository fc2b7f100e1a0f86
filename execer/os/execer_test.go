package os

import (
	"bytes"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wacker-lab/ampsched/common/log/hooks"
	"github.com/wacker-lab/ampsched/execer"
)

func init() {
	log.AddHook(hooks.NewContextHook())
	logrusLevel, _ := log.ParseLevel("debug")
	log.SetLevel(logrusLevel)
}

// scriptedWatcher serves a fixed "pid pgid ppid rss" table.
type scriptedWatcher struct {
	procs []string
	procWatcher
}

func (pw *scriptedWatcher) Refresh() error {
	all, byGroup, byParent, err := parseProcs(pw.procs)
	pw.allProcs = all
	pw.byGroup = byGroup
	pw.byParent = byParent
	return err
}

// Single process memory usage is counted.
func TestMemUsageSingleProc(t *testing.T) {
	rss := 10
	pw := &scriptedWatcher{procs: []string{fmt.Sprintf("1 1 1 %d", rss)}}
	if err := pw.Refresh(); err != nil {
		t.Fatal(err)
	}
	mem, err := pw.MemUsage(1)
	if err != nil {
		t.Fatal(err)
	}
	if mem != execer.Memory(rss*bytesPerKB) {
		t.Fatalf("unexpected rss value: %v != %v", rss*bytesPerKB, mem)
	}
}

// Memory of processes spawned by group members is counted.
func TestMemUsageGroupChildren(t *testing.T) {
	rss := 10
	pw := &scriptedWatcher{procs: []string{
		fmt.Sprintf("1 1 1 %d", rss), fmt.Sprintf("2 1 1 %d", rss), fmt.Sprintf("3 2 2 %d", rss)}}
	if err := pw.Refresh(); err != nil {
		t.Fatal(err)
	}
	mem, err := pw.MemUsage(1)
	if mem != execer.Memory(rss*3*bytesPerKB) || err != nil {
		t.Fatalf("%v: %v mem", err, mem)
	}
}

// Memory of unrelated processes is not counted.
func TestMemUsageUnrelatedProcs(t *testing.T) {
	rss := 10
	pw := &scriptedWatcher{procs: []string{
		fmt.Sprintf("1 1 1 %d", rss), fmt.Sprintf("2 1 1 %d", rss),
		fmt.Sprintf("3 1 2 %d", rss), "100 100 100 100"}}
	if err := pw.Refresh(); err != nil {
		t.Fatal(err)
	}
	mem, err := pw.MemUsage(1)
	if mem != execer.Memory(rss*3*bytesPerKB) || err != nil {
		t.Fatalf("%v: %v mem", err, mem)
	}
}

// Descendants of descendants are counted, whitespace in ps output tolerated.
func TestMemUsageDeepTree(t *testing.T) {
	rss := 10
	pw := &scriptedWatcher{procs: []string{
		fmt.Sprintf("0  0      0  %d", rss), fmt.Sprintf("1   0 1 %d", rss),
		fmt.Sprintf("2 1       1 %d", rss), fmt.Sprintf("3  2    1      %d", rss),
		fmt.Sprintf("4  3   3 %d", rss), fmt.Sprintf("5  2   3 %d", rss),
		fmt.Sprintf("6  5   5 %d", rss), fmt.Sprintf("100    0   0  %d ", rss),
		fmt.Sprintf("   101   100  100  %d", rss), fmt.Sprintf("  1000   1000      1001 %d   ", rss)}}
	if err := pw.Refresh(); err != nil {
		t.Fatal(err)
	}
	mem, err := pw.MemUsage(1)
	if mem != execer.Memory(rss*9*bytesPerKB) || err != nil {
		t.Fatalf("%v: %v mem", err, mem)
	}
}

func TestMemUsageUnknownPid(t *testing.T) {
	pw := &scriptedWatcher{procs: []string{"1 1 1 10"}}
	if err := pw.Refresh(); err != nil {
		t.Fatal(err)
	}
	if _, err := pw.MemUsage(42); err == nil {
		t.Fatal("expected error for a pid absent from the process table")
	}
}

func TestExitCodeCapture(t *testing.T) {
	e := NewBoundedExecer(nil, nil)
	proc, err := e.Exec(execer.Command{Argv: []string{"sh", "-c", "exit 7"}})
	if err != nil {
		t.Fatal(err)
	}
	st := proc.Wait()
	if st.State != execer.COMPLETE || st.ExitCode != 7 {
		t.Fatalf("got %v/%d, want COMPLETE/7", st.State, st.ExitCode)
	}
}

func TestStdoutCapture(t *testing.T) {
	e := NewBoundedExecer(nil, nil)
	var stdout, stderr bytes.Buffer
	proc, err := e.Exec(execer.Command{
		Argv:   []string{"sh", "-c", "echo out; echo err >&2"},
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		t.Fatal(err)
	}
	st := proc.Wait()
	if st.State != execer.COMPLETE || st.ExitCode != 0 {
		t.Fatalf("got %v/%d, want COMPLETE/0", st.State, st.ExitCode)
	}
	if got := strings.TrimSpace(stdout.String()); got != "out" {
		t.Fatalf("stdout: %q", got)
	}
	if got := strings.TrimSpace(stderr.String()); got != "err" {
		t.Fatalf("stderr: %q", got)
	}
}

func TestStdinStreaming(t *testing.T) {
	e := NewBoundedExecer(nil, nil)
	var stdout bytes.Buffer
	proc, err := e.Exec(execer.Command{
		Argv:   []string{"cat"},
		Stdin:  strings.NewReader(">seq1\nACGT\n"),
		Stdout: &stdout,
	})
	if err != nil {
		t.Fatal(err)
	}
	if st := proc.Wait(); st.ExitCode != 0 {
		t.Fatalf("cat exited %d", st.ExitCode)
	}
	if stdout.String() != ">seq1\nACGT\n" {
		t.Fatalf("stdin not forwarded: %q", stdout.String())
	}
}

func TestAbortSigterm(t *testing.T) {
	e := NewBoundedExecer(nil, nil)
	proc, err := e.Exec(execer.Command{Argv: []string{"sleep", "1000"}})
	if err != nil {
		t.Fatal(err)
	}
	proc.(*process).ats = 1

	res := proc.Abort()
	if !strings.Contains(res.Error, "SIGTERM") {
		t.Fatalf("expected error mentioning SIGTERM, got: %s", res.Error)
	}
}

// A process group whose sampled memory exceeds the cap is killed and reported
// MEMORY_KILLED, before the next sample interval elapses.
func TestMemCapKill(t *testing.T) {
	huge := &scriptedWatcher{}
	e := NewBoundedExecer(nil, huge)
	e.getMemUsage = func(int) (execer.Memory, error) { return 100 * execer.GB, nil }

	proc, err := e.Exec(execer.Command{
		Argv:           []string{"sleep", "1000"},
		MemoryCap:      1 * execer.MB,
		SampleInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan execer.ProcessStatus, 1)
	go func() { done <- proc.Wait() }()
	select {
	case st := <-done:
		if st.State != execer.MEMORY_KILLED {
			t.Fatalf("got state %v, want MEMORY_KILLED", st.State)
		}
		if st.Memory != 100*execer.GB {
			t.Fatalf("last observed memory not recorded: %v", st.Memory)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watchdog did not kill the process")
	}
}

// The monitor stops sampling once the process is done; Wait's status wins.
func TestMonitorStopsOnNaturalExit(t *testing.T) {
	var calls atomic.Int32
	e := NewBoundedExecer(nil, &scriptedWatcher{})
	e.getMemUsage = func(int) (execer.Memory, error) {
		calls.Add(1)
		return 1 * execer.KB, nil
	}
	proc, err := e.Exec(execer.Command{
		Argv:           []string{"true"},
		MemoryCap:      1 * execer.GB,
		SampleInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	st := proc.Wait()
	if st.State != execer.COMPLETE || st.ExitCode != 0 {
		t.Fatalf("got %v/%d, want COMPLETE/0", st.State, st.ExitCode)
	}
	before := calls.Load()
	time.Sleep(50 * time.Millisecond)
	// Allow one in-flight sample that raced with exit.
	if after := calls.Load(); after > before+1 {
		t.Fatalf("monitor kept sampling after exit: %d -> %d", before, after)
	}
}
