// Package config loads optional scheduler settings from a YAML file and
// overlays them onto sched.DefaultConfig. Absent fields keep their defaults.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/wacker-lab/ampsched/execer"
	"github.com/wacker-lab/ampsched/sched"
)

// Duration parses YAML strings like "30s" or "6h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "parsing duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

type File struct {
	MaxWorkers         int      `yaml:"max_workers"`
	MinAvailableBytes  uint64   `yaml:"min_available_bytes"`
	PerJobCeilingBytes uint64   `yaml:"per_job_ceiling_bytes"`
	PollInterval       Duration `yaml:"poll_interval"`
	SampleInterval     Duration `yaml:"sample_interval"`
	OverallDeadline    Duration `yaml:"overall_deadline"`
}

// Load overlays the YAML file at path onto base. An empty path returns base
// unchanged.
func Load(path string, base sched.Config) (sched.Config, error) {
	if path == "" {
		return base, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return base, errors.Wrapf(err, "reading config %s", path)
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return base, errors.Wrapf(err, "parsing config %s", path)
	}

	cfg := base
	if f.MaxWorkers != 0 {
		cfg.MaxWorkers = f.MaxWorkers
	}
	if f.MinAvailableBytes != 0 {
		cfg.MinAvailable = execer.Memory(f.MinAvailableBytes)
	}
	if f.PerJobCeilingBytes != 0 {
		cfg.PerJobCeiling = execer.Memory(f.PerJobCeilingBytes)
	}
	if f.PollInterval != 0 {
		cfg.PollInterval = time.Duration(f.PollInterval)
	}
	if f.SampleInterval != 0 {
		cfg.SampleInterval = time.Duration(f.SampleInterval)
	}
	if f.OverallDeadline != 0 {
		cfg.OverallDeadline = time.Duration(f.OverallDeadline)
	}
	return cfg, cfg.Validate()
}
