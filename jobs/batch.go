package jobs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/wacker-lab/ampsched/sched"
)

const (
	// Sensitivity runs amplify targets with 0..3 mismatches and no timeout.
	SensitivityMaxMismatch = 3
	// Specificity runs probe neighbours with 0..4 mismatches and a short
	// timeout, since a clean miss can scan whole assemblies.
	SpecificityMaxMismatch = 4
	SpecificityTimeout     = 30 * time.Second
)

// BatchParams describes one amplicon batch: a primer pair tested against
// every assembly in a directory across a mismatch range.
type BatchParams struct {
	Primers     PrimerSet
	PrimerName  string
	AssemblyDir string
	OutDir      string
	Class       sched.JobClass
	MaxMismatch int
	Timeout     time.Duration
}

// SensitivityParams fills BatchParams with the standard settings for target
// assemblies.
func SensitivityParams(primers PrimerSet, primerName, assemblyDir, outDir string) BatchParams {
	return BatchParams{
		Primers:     primers,
		PrimerName:  primerName,
		AssemblyDir: assemblyDir,
		OutDir:      outDir,
		Class:       sched.Sensitivity,
		MaxMismatch: SensitivityMaxMismatch,
	}
}

// SpecificityParams fills BatchParams with the standard settings for
// neighbour assemblies.
func SpecificityParams(primers PrimerSet, primerName, assemblyDir, outDir string) BatchParams {
	return BatchParams{
		Primers:     primers,
		PrimerName:  primerName,
		AssemblyDir: assemblyDir,
		OutDir:      outDir,
		Class:       sched.Specificity,
		MaxMismatch: SpecificityMaxMismatch,
		Timeout:     SpecificityTimeout,
	}
}

// AmpliconBatch expands params into one JobSpec per (assembly, mismatch)
// pair, in mismatch-major order. Assemblies are sorted by name so batches
// are reproducible.
func AmpliconBatch(params BatchParams) ([]sched.JobSpec, error) {
	entries, err := os.ReadDir(params.AssemblyDir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing assemblies in %s", params.AssemblyDir)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no assembly files found in %s", params.AssemblyDir)
	}
	sort.Strings(files)

	var specs []sched.JobSpec
	for m := 0; m <= params.MaxMismatch; m++ {
		for _, f := range files {
			specs = append(specs, sched.JobSpec{
				ID:   sched.NewJobID(),
				Name: fmt.Sprintf("%s_%s_m%d_%s", params.PrimerName, params.Class, m, f),
				Argv: []string{
					"seqkit", "amplicon",
					"-F", params.Primers.Forward,
					"-R", params.Primers.Reverse,
					"--bed",
					"-m", strconv.Itoa(m),
				},
				StdinPath: filepath.Join(params.AssemblyDir, f),
				SinkPath: filepath.Join(params.OutDir, fmt.Sprintf(
					"%s_seqkit_amplicon_against_%s_m%d_%s.txt",
					params.PrimerName, params.Class, m, f)),
				Class:      params.Class,
				Mismatches: m,
				Timeout:    params.Timeout,
			})
		}
	}
	return specs, nil
}
