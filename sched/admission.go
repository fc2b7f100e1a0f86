package sched

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/wacker-lab/ampsched/common/stats"
	"github.com/wacker-lab/ampsched/execer"
	"github.com/wacker-lab/ampsched/memory"
)

// ErrAdmissionTimeout means available memory never reached the admission
// threshold before the session deadline. Fatal for the batch: the pool stops
// dispatching and marks every remaining spec TimedOut.
var ErrAdmissionTimeout = errors.New("available memory did not reach the admission threshold before the deadline")

var errInsufficientMemory = errors.New("insufficient available memory")

// admission gates new dispatch on available system memory. It never touches
// jobs that are already running.
type admission struct {
	probe    memory.Probe
	min      execer.Memory
	interval time.Duration
	stat     stats.StatsReceiver
}

// await returns nil as soon as a fresh probe reading satisfies the minimum;
// the first check happens immediately, so an unconstrained host admits
// without waiting. Probe failures read as zero available.
func (a *admission) await(ctx context.Context) error {
	check := func() error {
		avail, err := a.probe.Available()
		if err != nil {
			log.Debugf("Memory probe failed, assuming insufficient: %s", err)
			avail = 0
		}
		if avail >= a.min {
			return nil
		}
		a.stat.Counter(stats.SchedAdmissionWaits).Inc(1)
		log.WithFields(log.Fields{"available": avail, "min": a.min}).
			Info("Waiting for available memory")
		return errInsufficientMemory
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(a.interval), ctx)
	if err := backoff.Retry(check, b); err != nil {
		if ctx.Err() != nil {
			return ErrAdmissionTimeout
		}
		return err
	}
	return nil
}
