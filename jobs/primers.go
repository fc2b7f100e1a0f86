// Package jobs builds in-silico PCR job batches for the scheduler: one
// seqkit amplicon invocation per assembly file per mismatch count.
package jobs

import (
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// PrimerSet is one designed primer trio extracted from a Primer3-style
// output file.
type PrimerSet struct {
	Forward  string
	Reverse  string
	Internal string
}

var primerKeys = []string{"PRIMER_LEFT", "PRIMER_RIGHT", "PRIMER_INTERNAL"}

// ExtractPrimerSet scans file for PRIMER_LEFT / PRIMER_RIGHT /
// PRIMER_INTERNAL headers and takes the sequence on the line after each.
// All three must be present.
func ExtractPrimerSet(path string) (PrimerSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return PrimerSet{}, errors.Wrapf(err, "reading primer file %s", path)
	}
	lines := strings.Split(string(b), "\n")

	found := map[string]string{}
	for i, line := range lines {
		for _, key := range primerKeys {
			if strings.Contains(line, key) && i+1 < len(lines) {
				found[key] = strings.TrimSpace(lines[i+1])
			}
		}
	}
	for _, key := range primerKeys {
		if found[key] == "" {
			return PrimerSet{}, errors.Errorf(
				"primer headers in %s are not formatted as expected: missing %s", path, key)
		}
	}
	return PrimerSet{
		Forward:  found["PRIMER_LEFT"],
		Reverse:  found["PRIMER_RIGHT"],
		Internal: found["PRIMER_INTERNAL"],
	}, nil
}

// CheckDirs verifies that each directory exists and is non-empty.
func CheckDirs(dirs ...string) error {
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return errors.Wrapf(err, "folder %s does not exist", dir)
		}
		if len(entries) == 0 {
			return errors.Errorf("folder %s is empty", dir)
		}
	}
	return nil
}

// ToolOnPath reports whether an external tool is installed.
func ToolOnPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
