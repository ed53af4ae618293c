package sched

import (
	"log/slog"
	"sync"
)

// DegradeConfig tunes the failure-streak tracker.
type DegradeConfig struct {
	// Threshold is the number of consecutive engine failures before the
	// scheduler reports itself degraded. Default: 5.
	Threshold int
}

// Degrade tracks consecutive engine failures. Unlike a circuit breaker it
// never rejects work: a degraded engine still gets every segment, the streak
// only feeds health reporting so operators see a dying model before the
// pipeline goes silent. Safe for concurrent use.
type Degrade struct {
	threshold int
	log       *slog.Logger

	mu     sync.Mutex
	streak int
}

// NewDegrade creates a Degrade tracker. Zero-value config fields are
// replaced with defaults.
func NewDegrade(cfg DegradeConfig, log *slog.Logger) *Degrade {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &Degrade{threshold: cfg.Threshold, log: log}
}

// RecordFailure extends the failure streak. The crossing into the degraded
// state is logged once per streak.
func (d *Degrade) RecordFailure() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.streak++
	if d.streak == d.threshold {
		d.log.Warn("transcription engine degraded",
			"consecutive_failures", d.streak)
	}
}

// RecordSuccess clears the streak. Recovery from the degraded state is
// logged.
func (d *Degrade) RecordSuccess() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.streak >= d.threshold {
		d.log.Info("transcription engine recovered",
			"after_failures", d.streak)
	}
	d.streak = 0
}

// Degraded reports whether the streak has reached the threshold.
func (d *Degrade) Degraded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streak >= d.threshold
}

// Streak returns the current consecutive-failure count.
func (d *Degrade) Streak() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streak
}
