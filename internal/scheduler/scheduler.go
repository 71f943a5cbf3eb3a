// Package scheduler запускает периодические задачи бота.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"
)

// DefaultSweepSpec: расписание очистки просроченных подтверждений.
const DefaultSweepSpec = "@every 1m"

// Sweeper удаляет просроченные ожидающие подтверждения.
type Sweeper interface {
	SweepConfirmations(ctx context.Context)
}

type sweepJob struct {
	ctx     context.Context
	sweeper Sweeper
	logger  *zap.Logger
}

func (j sweepJob) Run() {
	if j.ctx.Err() != nil {
		return
	}
	start := time.Now()
	j.sweeper.SweepConfirmations(j.ctx)
	j.logger.Debug("confirmations swept", zap.Duration("duration", time.Since(start)))
}

// Scheduler: обёртка над cron с привязкой к контексту приложения.
type Scheduler struct {
	cron *cron.Cron
}

// New регистрирует задачу очистки. Пустой spec означает DefaultSweepSpec.
func New(ctx context.Context, sweeper Sweeper, logger *zap.Logger, spec string) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSweepSpec
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := cron.New()
	if err := c.AddJob(spec, sweepJob{ctx: ctx, sweeper: sweeper, logger: logger}); err != nil {
		return nil, fmt.Errorf("schedule sweep %q: %w", spec, err)
	}
	return &Scheduler{cron: c}, nil
}

// Run запускает задачи и останавливает их после отмены ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	s.cron.Stop()
	return nil
}
