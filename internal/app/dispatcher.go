package app

import (
	"context"
	"fmt"
	"time"

	"github.com/wb-go/wbf/logger"

	"prayerflow/internal/entity"
)

type dueProcessor interface {
	ProcessDue(ctx context.Context, now time.Time) (*entity.ProcessingStats, error)
}

// Dispatcher drains the message queue on a fixed interval. A failed batch
// is logged and retried on the next tick.
type Dispatcher struct {
	svc      dueProcessor
	interval time.Duration
	now      func() time.Time
	log      logger.Logger
}

func NewDispatcher(svc dueProcessor, interval time.Duration, log logger.Logger) *Dispatcher {
	return &Dispatcher{svc: svc, interval: interval, now: time.Now, log: log}
}

func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.LogAttrs(ctx, logger.InfoLevel, "dispatcher started", logger.Duration("interval", d.interval))

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.Tick(ctx); err != nil && ctx.Err() == nil {
			d.log.LogAttrs(ctx, logger.ErrorLevel, "dispatch batch failed", logger.Any("error", err))
		}
		select {
		case <-ctx.Done():
			d.log.LogAttrs(ctx, logger.InfoLevel, "dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick processes one batch of due messages.
func (d *Dispatcher) Tick(ctx context.Context) (*entity.ProcessingStats, error) {
	stats, err := d.svc.ProcessDue(ctx, d.now())
	if err != nil {
		return nil, fmt.Errorf("app.Dispatcher.Tick: %w", err)
	}
	if stats.Claimed > 0 {
		d.log.LogAttrs(ctx, logger.InfoLevel, "dispatch batch done",
			logger.Int("claimed", stats.Claimed),
			logger.Int("sent", stats.Sent),
			logger.Int("retried", stats.Retried),
			logger.Int("failed", stats.Failed),
			logger.Duration("duration", stats.Duration),
		)
	}
	return stats, nil
}
