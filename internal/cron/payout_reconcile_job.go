package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/keyhaven/keyhaven-backend/pkg/logger"
	"github.com/keyhaven/keyhaven-backend/pkg/metrics"
)

const defaultPayoutReconcileInterval = 30 * time.Minute

type payoutReconciler interface {
	RunReconcileSweep(ctx context.Context) (int, error)
}

// PayoutReconcileJobParams configure the stuck-transfer reconciliation job.
type PayoutReconcileJobParams struct {
	Logger   *logger.Logger
	Payouts  payoutReconciler
	Metrics  *metrics.JobMetrics
	Interval time.Duration
}

// NewPayoutReconcileJob constructs the job that resolves payouts whose
// transfer response was lost.
func NewPayoutReconcileJob(params PayoutReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payouts service required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultPayoutReconcileInterval
	}
	return &payoutReconcileJob{
		logg:     params.Logger,
		payouts:  params.Payouts,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

type payoutReconcileJob struct {
	logg     *logger.Logger
	payouts  payoutReconciler
	metrics  *metrics.JobMetrics
	interval time.Duration
}

func (j *payoutReconcileJob) Name() string { return "payout-reconcile" }

func (j *payoutReconcileJob) Interval() time.Duration { return j.interval }

func (j *payoutReconcileJob) Run(ctx context.Context) error {
	resolved, err := j.payouts.RunReconcileSweep(ctx)
	if err != nil {
		return fmt.Errorf("payout reconcile: %w", err)
	}
	if j.metrics != nil {
		j.metrics.AddItemsProcessed(j.Name(), resolved)
	}
	logCtx := j.logg.WithField(ctx, "payouts_resolved", resolved)
	j.logg.Info(logCtx, "payout reconciliation sweep complete")
	return nil
}
