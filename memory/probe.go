// Package memory samples host memory availability for admission control.
package memory

import (
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/wacker-lab/ampsched/execer"
)

// Probe reports currently available system memory. Every call samples fresh;
// implementations never cache. A failed sample returns (0, err) and callers
// are expected to read that as "assume insufficient" rather than abort.
type Probe interface {
	Available() (execer.Memory, error)
}

// NewSystemProbe returns a Probe backed by the OS.
func NewSystemProbe() Probe {
	return systemProbe{}
}

type systemProbe struct{}

func (systemProbe) Available() (execer.Memory, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, errors.Wrap(err, "sampling system memory")
	}
	return execer.Memory(v.Available), nil
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func() (execer.Memory, error)

func (f ProbeFunc) Available() (execer.Memory, error) { return f() }

// StaticProbe always reports the same availability. Test helper.
func StaticProbe(avail execer.Memory) Probe {
	return ProbeFunc(func() (execer.Memory, error) { return avail, nil })
}
