package execers

import (
	"bytes"
	"testing"
	"time"

	"github.com/wacker-lab/ampsched/execer"
)

func TestSimComplete(t *testing.T) {
	ex := NewSimExecer()
	var stdout bytes.Buffer
	p, err := ex.Exec(execer.Command{Argv: []string{"stdout yes", "complete 3"}, Stdout: &stdout})
	if err != nil {
		t.Fatal(err)
	}
	st := p.Wait()
	if st.State != execer.COMPLETE || st.ExitCode != 3 {
		t.Fatalf("got %v/%d, want COMPLETE/3", st.State, st.ExitCode)
	}
	if stdout.String() != "yes" {
		t.Fatalf("stdout: %q", stdout.String())
	}
}

func TestSimImplicitComplete(t *testing.T) {
	ex := NewSimExecer()
	p, err := ex.Exec(execer.Command{Argv: []string{"sleep 1"}})
	if err != nil {
		t.Fatal(err)
	}
	st := p.Wait()
	if st.State != execer.COMPLETE || st.ExitCode != 0 {
		t.Fatalf("got %v/%d, want COMPLETE/0", st.State, st.ExitCode)
	}
}

func TestSimMemkill(t *testing.T) {
	ex := NewSimExecer()
	p, err := ex.Exec(execer.Command{Argv: []string{"memkill 1048576"}})
	if err != nil {
		t.Fatal(err)
	}
	st := p.Wait()
	if st.State != execer.MEMORY_KILLED {
		t.Fatalf("got %v, want MEMORY_KILLED", st.State)
	}
	if st.Memory != execer.Memory(1048576) {
		t.Fatalf("memory not recorded: %v", st.Memory)
	}
}

func TestSimAbortWinsOnce(t *testing.T) {
	ex := NewSimExecer()
	p, err := ex.Exec(execer.Command{Argv: []string{"sleep 5000"}})
	if err != nil {
		t.Fatal(err)
	}
	st := p.Abort()
	if st.State != execer.FAILED || st.ExitCode != -1 {
		t.Fatalf("got %v/%d, want FAILED/-1", st.State, st.ExitCode)
	}
	// The sleep finishing later must not overwrite the aborted status.
	done := make(chan execer.ProcessStatus, 1)
	go func() { done <- p.Wait() }()
	select {
	case again := <-done:
		if again != st {
			t.Fatalf("terminal status rewritten: %+v != %+v", again, st)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Abort")
	}
}

func TestSimRejectsUnknownOpcode(t *testing.T) {
	ex := NewSimExecer()
	if _, err := ex.Exec(execer.Command{Argv: []string{"explode"}}); err == nil {
		t.Fatal("expected parse error")
	}
}
