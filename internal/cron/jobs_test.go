package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/keyhaven/keyhaven-backend/internal/payouts"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
)

type fakeAutoConfirmSweeper struct {
	confirmed int
	err       error
	calls     int
}

func (f *fakeAutoConfirmSweeper) RunAutoConfirmSweep(context.Context) (int, error) {
	f.calls++
	return f.confirmed, f.err
}

type fakePayoutSweeper struct {
	result payouts.SweepResult
	err    error
	calls  int
}

func (f *fakePayoutSweeper) RunPayoutSweep(context.Context) (payouts.SweepResult, error) {
	f.calls++
	return f.result, f.err
}

func TestAutoConfirmJobRunsSweep(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "sweep-test"})
	sweeper := &fakeAutoConfirmSweeper{confirmed: 3}
	job, err := NewAutoConfirmJob(AutoConfirmJobParams{Logger: logg, Orders: sweeper})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sweeper.calls != 1 {
		t.Fatalf("expected one sweep call, got %d", sweeper.calls)
	}
}

func TestAutoConfirmJobSurfacesSweepError(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "sweep-test"})
	sweeper := &fakeAutoConfirmSweeper{err: errors.New("db down")}
	job, err := NewAutoConfirmJob(AutoConfirmJobParams{Logger: logg, Orders: sweeper})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error from failed sweep")
	}
}

func TestPayoutSweepJobRunsSweep(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "sweep-test"})
	sweeper := &fakePayoutSweeper{result: payouts.SweepResult{Enqueued: 2, Processed: 1}}
	job, err := NewPayoutSweepJob(PayoutSweepJobParams{Logger: logg, Payouts: sweeper})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sweeper.calls != 1 {
		t.Fatalf("expected one sweep call, got %d", sweeper.calls)
	}
}

func TestNewAutoConfirmJobRequiresService(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "sweep-test"})
	if _, err := NewAutoConfirmJob(AutoConfirmJobParams{Logger: logg}); err == nil {
		t.Fatal("expected error when orders service is missing")
	}
}
