package os

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/wacker-lab/ampsched/execer"
)

const bytesPerKB = 1024

// ProcessWatcher samples resident memory for a process group. An interface
// so tests can inject scripted process tables.
type ProcessWatcher interface {
	// Refresh takes a fresh snapshot of the host's process table.
	Refresh() error
	// MemUsage sums resident memory for pid's process group and all of the
	// group's descendants, as of the last Refresh.
	MemUsage(pid int) (execer.Memory, error)
}

type procEntry struct {
	pid  int
	pgid int
	ppid int
	rss  int // KB, as reported by ps
}

type procWatcher struct {
	allProcs map[int]procEntry
	byGroup  map[int][]procEntry
	byParent map[int][]procEntry
}

func NewProcessWatcher() *procWatcher {
	return &procWatcher{}
}

// Refresh shells out to ps for pid/pgid/ppid/rss of every process.
func (pw *procWatcher) Refresh() error {
	cmd := "ps -e -o pid= -o pgid= -o ppid= -o rss= | tr '\n' ';' | sed 's,;$,,'"
	b, err := exec.Command("bash", "-c", cmd).Output()
	if err != nil {
		return err
	}
	all, byGroup, byParent, err := parseProcs(strings.Split(string(b), ";"))
	if err != nil {
		return err
	}
	pw.allProcs = all
	pw.byGroup = byGroup
	pw.byParent = byParent
	return nil
}

// MemUsage sums RSS over pid's process group plus any descendants of group
// members that escaped the group. The sum deliberately mirrors what the
// monitor kills: everything reachable from the group.
func (pw *procWatcher) MemUsage(pid int) (execer.Memory, error) {
	self, ok := pw.allProcs[pid]
	if !ok {
		return 0, fmt.Errorf("%d was not present in list of all processes", pid)
	}

	// Seed with the process group, then walk children breadth-first. The
	// visited map guards against counting a process twice.
	var frontier []procEntry
	visited := make(map[int]procEntry)
	for _, p := range pw.byGroup[self.pgid] {
		frontier = append(frontier, p)
		visited[p.pid] = p
	}
	for i := 0; i < len(frontier); i++ {
		for _, child := range pw.byParent[frontier[i].pid] {
			if _, ok := visited[child.pid]; !ok {
				frontier = append(frontier, child)
				visited[child.pid] = child
			}
		}
	}

	total := 0
	for _, p := range visited {
		total += p.rss
	}
	return execer.Memory(total * bytesPerKB), nil
}

func parseProcs(lines []string) (all map[int]procEntry, byGroup, byParent map[int][]procEntry, err error) {
	all = make(map[int]procEntry)
	byGroup = make(map[int][]procEntry)
	byParent = make(map[int][]procEntry)
	for _, line := range lines {
		var p procEntry
		n, err := fmt.Sscanf(line, "%d %d %d %d", &p.pid, &p.pgid, &p.ppid, &p.rss)
		if err != nil {
			return nil, nil, nil, err
		}
		if n != 4 {
			return nil, nil, nil, fmt.Errorf("expected 4 fields per ps line, got %d in %q", n, line)
		}
		all[p.pid] = p
		byGroup[p.pgid] = append(byGroup[p.pgid], p)
		byParent[p.ppid] = append(byParent[p.ppid], p)
	}
	return all, byGroup, byParent, nil
}
