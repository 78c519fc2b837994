package session

import (
	"context"
	"log/slog"
	"time"
)

// Janitor periodically deletes aged-out session rows. Validation never relies on it.
type Janitor struct {
	m        *Manager
	interval time.Duration
	log      *slog.Logger
}

// NewJanitor returns a Janitor running every interval.
func NewJanitor(m *Manager, interval time.Duration, log *slog.Logger) *Janitor {
	if log == nil {
		log = slog.Default()
	}
	return &Janitor{m: m, interval: interval, log: log}
}

// Run blocks until ctx is done. A non-positive interval returns immediately.
func (j *Janitor) Run(ctx context.Context) {
	if j == nil || j.m == nil || j.interval <= 0 {
		return
	}

	t := time.NewTicker(j.interval)
	defer t.Stop()

	j.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	n, err := j.m.Cleanup(ctx)
	if err != nil {
		if ctx.Err() == nil {
			j.log.Error("session.cleanup.fail", "error", err)
		}
		return
	}
	if n > 0 {
		j.log.Info("session.cleanup", "deleted", n)
	}
}
