package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/keyhaven/keyhaven-backend/internal/payouts"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
	"github.com/keyhaven/keyhaven-backend/pkg/metrics"
)

const defaultPayoutSweepInterval = 15 * time.Minute

type payoutSweeper interface {
	RunPayoutSweep(ctx context.Context) (payouts.SweepResult, error)
}

// PayoutSweepJobParams configure the settlement sweep job.
type PayoutSweepJobParams struct {
	Logger   *logger.Logger
	Payouts  payoutSweeper
	Metrics  *metrics.JobMetrics
	Interval time.Duration
}

// NewPayoutSweepJob constructs the job that batches and settles seller payouts.
func NewPayoutSweepJob(params PayoutSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payouts service required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultPayoutSweepInterval
	}
	return &payoutSweepJob{
		logg:     params.Logger,
		payouts:  params.Payouts,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

type payoutSweepJob struct {
	logg     *logger.Logger
	payouts  payoutSweeper
	metrics  *metrics.JobMetrics
	interval time.Duration
}

func (j *payoutSweepJob) Name() string { return "payout-sweep" }

func (j *payoutSweepJob) Interval() time.Duration { return j.interval }

func (j *payoutSweepJob) Run(ctx context.Context) error {
	result, err := j.payouts.RunPayoutSweep(ctx)
	if err != nil {
		return fmt.Errorf("payout sweep: %w", err)
	}
	if j.metrics != nil {
		j.metrics.AddItemsProcessed(j.Name(), result.Processed)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"orders_enqueued":   result.Enqueued,
		"payouts_processed": result.Processed,
	})
	j.logg.Info(logCtx, "payout sweep complete")
	return nil
}
