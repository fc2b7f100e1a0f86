// ampsched validates designed primers in silico: for every primer file it
// runs seqkit amplicon against target ("sensitivity") and neighbour
// ("specificity") assemblies across a range of allowed mismatches, under the
// resource-aware scheduler.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wacker-lab/ampsched/common/log/hooks"
	"github.com/wacker-lab/ampsched/common/stats"
	"github.com/wacker-lab/ampsched/config"
	"github.com/wacker-lab/ampsched/execer"
	osexecer "github.com/wacker-lab/ampsched/execer/os"
	"github.com/wacker-lab/ampsched/jobs"
	"github.com/wacker-lab/ampsched/memory"
	"github.com/wacker-lab/ampsched/sched"
)

type options struct {
	folder        string
	configPath    string
	workers       int
	maxMemBytes   uint64
	minMemBytes   uint64
	checkInterval int
	verbose       bool
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "ampsched",
		Short: "ampsched schedules in-silico PCR validation jobs under memory limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(cmd, opts)
		},
	}
	rootCmd.Flags().StringVarP(&opts.folder, "folder", "f", "",
		"results folder containing FUR.P3.PRIMERS, FUR.target and FUR.neighbour")
	rootCmd.Flags().StringVar(&opts.configPath, "config", "", "optional YAML config file")
	rootCmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "max concurrent jobs")
	rootCmd.Flags().Uint64VarP(&opts.maxMemBytes, "max-mem", "m", 0,
		"max memory in bytes a job can use before getting killed")
	rootCmd.Flags().Uint64VarP(&opts.minMemBytes, "min-mem", "d", 0,
		"min memory in bytes that must be available for a job to start")
	rootCmd.Flags().IntVarP(&opts.checkInterval, "check-interval", "c", 0,
		"seconds to wait between memory checks when starving")
	rootCmd.Flags().BoolVarP(&opts.verbose, "verbose", "V", false, "increase logging verbosity")
	rootCmd.MarkFlagRequired("folder")

	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, opts *options) error {
	log.AddHook(hooks.NewContextHook())
	if opts.verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	cfg, err := config.Load(opts.configPath, sched.DefaultConfig())
	if err != nil {
		return err
	}
	// Flags win over the config file.
	if cmd.Flags().Changed("workers") {
		cfg.MaxWorkers = opts.workers
	}
	if cmd.Flags().Changed("max-mem") {
		cfg.PerJobCeiling = execer.Memory(opts.maxMemBytes)
	}
	if cmd.Flags().Changed("min-mem") {
		cfg.MinAvailable = execer.Memory(opts.minMemBytes)
	}
	if cmd.Flags().Changed("check-interval") {
		cfg.PollInterval = time.Duration(opts.checkInterval) * time.Second
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	primerDir := filepath.Join(opts.folder, "FUR.P3.PRIMERS")
	targetDir := filepath.Join(opts.folder, "FUR.target")
	neighbourDir := filepath.Join(opts.folder, "FUR.neighbour")
	if err := jobs.CheckDirs(primerDir, targetDir, neighbourDir); err != nil {
		return err
	}
	if !jobs.ToolOnPath("seqkit") {
		return errors.New("seqkit is not installed or not on PATH")
	}

	stat := stats.DefaultStatsReceiver()
	pool, err := sched.NewPool(cfg,
		osexecer.NewBoundedExecer(stat.Scope("execer"), nil),
		memory.NewSystemProbe(),
		stat.Scope("sched"))
	if err != nil {
		return err
	}

	outDir := filepath.Join(primerDir, "in_silico_tests")
	specs, err := buildBatches(primerDir, targetDir, neighbourDir, outDir)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"jobs": len(specs), "folder": opts.folder}).
		Info("Built validation batch")

	outcomes, runErr := pool.Run(context.Background(), specs)
	render(outcomes)
	log.Debugf("Session stats: %s", stat.Render(true))

	if runErr != nil {
		return errors.Wrap(runErr, "scheduling session failed")
	}
	return nil
}

// buildBatches expands every primer file into its sensitivity and
// specificity job specs.
func buildBatches(primerDir, targetDir, neighbourDir, outDir string) ([]sched.JobSpec, error) {
	entries, err := os.ReadDir(primerDir)
	if err != nil {
		return nil, err
	}

	var specs []sched.JobSpec
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(primerDir, e.Name())
		primers, err := jobs.ExtractPrimerSet(path)
		if err != nil {
			return nil, errors.Wrapf(err, "could not extract primer sequences from %s", path)
		}
		log.WithFields(log.Fields{"primerFile": e.Name()}).Info("Testing primers")

		sens, err := jobs.AmpliconBatch(jobs.SensitivityParams(primers, e.Name(), targetDir, outDir))
		if err != nil {
			return nil, err
		}
		spec, err := jobs.AmpliconBatch(jobs.SpecificityParams(primers, e.Name(), neighbourDir, outDir))
		if err != nil {
			return nil, err
		}
		specs = append(specs, sens...)
		specs = append(specs, spec...)
	}
	return specs, nil
}

func render(outcomes []sched.JobOutcome) {
	counts := map[sched.JobStatus]int{}
	for _, o := range outcomes {
		counts[o.Status]++
		line := fmt.Sprintf("%-14s %s", o.Status, o.Name)
		switch o.Status {
		case sched.Succeeded:
			fmt.Println(line)
		default:
			fmt.Printf("%s (exit %d, %s)\n", line, o.ExitCode, o.Error)
		}
	}
	fmt.Printf("\n%d jobs: %d succeeded, %d failed, %d memory-killed, %d timed out\n",
		len(outcomes), counts[sched.Succeeded], counts[sched.Failed],
		counts[sched.MemoryKilled], counts[sched.TimedOut])
}
