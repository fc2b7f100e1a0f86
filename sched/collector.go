package sched

import (
	log "github.com/sirupsen/logrus"
)

// collector gathers one outcome per submitted spec, keyed by submission
// index so callers always see submission order regardless of completion
// order. The first write for an index wins; duplicates indicate a
// bookkeeping bug and are dropped with a log.
type collector struct {
	ch   chan JobOutcome
	done chan struct{}

	outcomes []JobOutcome
	filled   []bool
	dups     int
}

func newCollector(n int) *collector {
	c := &collector{
		ch:       make(chan JobOutcome, n),
		done:     make(chan struct{}),
		outcomes: make([]JobOutcome, n),
		filled:   make([]bool, n),
	}
	go c.loop()
	return c
}

// loop is the only goroutine touching the slices; workers just send.
func (c *collector) loop() {
	defer close(c.done)
	for o := range c.ch {
		if o.Index < 0 || o.Index >= len(c.outcomes) {
			log.WithFields(log.Fields{"index": o.Index, "specID": o.SpecID}).
				Error("Outcome index out of range, dropping")
			continue
		}
		if c.filled[o.Index] {
			c.dups++
			log.WithFields(log.Fields{"index": o.Index, "specID": o.SpecID}).
				Error("Duplicate outcome for job, keeping first")
			continue
		}
		c.outcomes[o.Index] = o
		c.filled[o.Index] = true
	}
}

func (c *collector) add(o JobOutcome) {
	c.ch <- o
}

// results closes the collector and returns outcomes in submission order.
// Call only after every producer is done.
func (c *collector) results() []JobOutcome {
	close(c.ch)
	<-c.done
	out := make([]JobOutcome, len(c.outcomes))
	copy(out, c.outcomes)
	return out
}
