package task

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// Poller periodically refreshes the task mirror over plain HTTP. It is the
// fallback while the push channel is down; callers start it on disconnect
// and stop it once the channel is re-established.
type Poller struct {
	svc      *Service
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	sched  gocron.Scheduler
	active bool
}

// NewPoller creates a poller refreshing svc every interval.
func NewPoller(svc *Service, interval time.Duration, logger zerolog.Logger) *Poller {
	return &Poller{
		svc:      svc,
		interval: interval,
		logger:   logger.With().Str("component", "taskpoller").Logger(),
	}
}

// Start begins polling. Calling Start while already running is a no-op.
func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active {
		return nil
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(p.interval),
		gocron.NewTask(p.poll),
		gocron.WithName("task-refresh"),
	)
	if err != nil {
		sched.Shutdown()
		return err
	}

	sched.Start()
	p.sched = sched
	p.active = true
	p.logger.Info().Dur("interval", p.interval).Msg("Task polling started")
	return nil
}

// Stop halts polling. Safe to call when not running.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return
	}
	if err := p.sched.Shutdown(); err != nil {
		p.logger.Warn().Err(err).Msg("Task poll scheduler shutdown failed")
	}
	p.sched = nil
	p.active = false
	p.logger.Info().Msg("Task polling stopped")
}

// Running reports whether the poller is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	if err := p.svc.Fetch(ctx); err != nil {
		p.logger.Debug().Err(err).Msg("Task refresh failed")
	}
}
