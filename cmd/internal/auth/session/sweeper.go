package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper periodically removes expired sessions.
type Sweeper struct {
	m        *Manager
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewSweeper returns a stopped Sweeper. interval <= 0 uses the manager's SweepInterval.
func NewSweeper(m *Manager, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = m.cfg.SweepInterval
	}
	if log == nil {
		log = m.log
	}
	return &Sweeper{
		m:        m,
		interval: interval,
		timeout:  time.Minute,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background loop. It sweeps once immediately.
func (s *Sweeper) Start() {
	s.startOnce.Do(func() {
		go s.loop()
	})
}

// Stop ends the loop and waits for an in-flight sweep to finish.
// Stop on a never-started Sweeper returns immediately.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		started := true
		s.startOnce.Do(func() { started = false })
		if started {
			<-s.doneCh
		}
	})
}

func (s *Sweeper) loop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce()
	for {
		select {
		case <-ticker.C:
			s.sweepOnce()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.m.Sweep(ctx)
	if err != nil {
		s.log.Error("session.sweep.fail", "error", err)
		return
	}
	s.log.Debug("session.sweep.done", "removed", n, "elapsed", time.Since(start))
}
