package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/archplay/chuangcut-engine/internal/logging"
)

// Poller drives jobs forward on a fixed tick: pending jobs are started and
// processing jobs get one advancement step per tick. Lock conflicts are
// normal when several instances share the store and are simply skipped.
type Poller struct {
	repo         Repository
	machine      *Machine
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int
	running      atomic.Bool
	paused       atomic.Bool
}

func NewPoller(repo Repository, machine *Machine, pollInterval time.Duration, logger *slog.Logger) *Poller {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Poller{
		repo:         repo,
		machine:      machine,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    10,
	}
}

func (p *Poller) Start(ctx context.Context) {
	if p.running.Swap(true) {
		return
	}

	p.logger.Info("job poller started", "interval", p.pollInterval)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("job poller stopping")
			p.running.Store(false)
			return
		case <-ticker.C:
			if !p.paused.Load() {
				p.tick(ctx)
			}
		}
	}
}

func (p *Poller) Pause() {
	p.paused.Store(true)
	p.logger.Info("job poller paused")
}

func (p *Poller) Resume() {
	p.paused.Store(false)
	p.logger.Info("job poller resumed")
}

func (p *Poller) IsPaused() bool {
	return p.paused.Load()
}

func (p *Poller) IsRunning() bool {
	return p.running.Load()
}

func (p *Poller) tick(ctx context.Context) {
	p.startPending(ctx)
	p.advanceProcessing(ctx)
}

func (p *Poller) startPending(ctx context.Context) {
	jobs, err := p.repo.ListJobsByStatus(ctx, JobStatusPending, p.batchSize)
	if err != nil {
		p.logger.Error("failed to list pending jobs", "error", err)
		return
	}
	for _, job := range jobs {
		if err := p.machine.Start(ctx, job.ID); err != nil {
			logging.WithJobID(p.logger, job.ID).Error("failed to start job", "error", err)
		}
	}
}

func (p *Poller) advanceProcessing(ctx context.Context) {
	jobs, err := p.repo.ListJobsByStatus(ctx, JobStatusProcessing, p.batchSize)
	if err != nil {
		p.logger.Error("failed to list processing jobs", "error", err)
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		logger := logging.WithJobID(p.logger, job.ID)
		res, err := p.machine.Advance(ctx, job.ID)
		if err != nil {
			if errors.Is(err, ErrJobNotFound) {
				continue
			}
			logger.Error("advance failed", "error", err)
			continue
		}
		if res.Outcome == OutcomeConflict {
			// Another holder has this job.
			continue
		}
		logger.Debug("job advanced", "outcome", res.Outcome, "sub_step", res.SubStep)
	}
}
