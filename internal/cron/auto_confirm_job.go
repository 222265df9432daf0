package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/keyhaven/keyhaven-backend/pkg/logger"
	"github.com/keyhaven/keyhaven-backend/pkg/metrics"
)

const defaultAutoConfirmInterval = 5 * time.Minute

type autoConfirmSweeper interface {
	RunAutoConfirmSweep(ctx context.Context) (int, error)
}

// AutoConfirmJobParams configure the auto-confirm sweep job.
type AutoConfirmJobParams struct {
	Logger   *logger.Logger
	Orders   autoConfirmSweeper
	Metrics  *metrics.JobMetrics
	Interval time.Duration
}

// NewAutoConfirmJob constructs the job that completes overdue deliveries.
func NewAutoConfirmJob(params AutoConfirmJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultAutoConfirmInterval
	}
	return &autoConfirmJob{
		logg:     params.Logger,
		orders:   params.Orders,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

type autoConfirmJob struct {
	logg     *logger.Logger
	orders   autoConfirmSweeper
	metrics  *metrics.JobMetrics
	interval time.Duration
}

func (j *autoConfirmJob) Name() string { return "auto-confirm" }

func (j *autoConfirmJob) Interval() time.Duration { return j.interval }

func (j *autoConfirmJob) Run(ctx context.Context) error {
	confirmed, err := j.orders.RunAutoConfirmSweep(ctx)
	if err != nil {
		return fmt.Errorf("auto-confirm sweep: %w", err)
	}
	if j.metrics != nil {
		j.metrics.AddItemsProcessed(j.Name(), confirmed)
	}
	logCtx := j.logg.WithField(ctx, "orders_confirmed", confirmed)
	j.logg.Info(logCtx, "auto-confirm sweep complete")
	return nil
}
