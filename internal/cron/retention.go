package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/formpay/pkg/logger"
)

const (
	defaultRetentionDays = 30
	outboxDeadAttempts   = 10
)

type settlementRetentionRepo interface {
	DeleteSucceededBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time, minAttemptCount int) (int64, error)
}

// SettlementRetentionParams configure the settlement job cleanup.
type SettlementRetentionParams struct {
	Logger     *logger.Logger
	Repository settlementRetentionRepo
	Retention  int
}

// NewSettlementRetentionJob deletes succeeded settlement jobs older than the
// retention window. Failed jobs stay for inspection.
func NewSettlementRetentionJob(params SettlementRetentionParams) (Job, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("settlement repository required")
	}
	return newRetentionJob("settlement-retention", params.Logger, params.Retention, params.Repository.DeleteSucceededBefore)
}

// OutboxRetentionParams configure the payment event cleanup.
type OutboxRetentionParams struct {
	Logger      *logger.Logger
	Repository  outboxRetentionRepo
	Retention   int
	MinAttempts int
}

// NewOutboxRetentionJob deletes published payment events past retention, and
// unpublished ones that reached MinAttempts and were dead-lettered.
func NewOutboxRetentionJob(params OutboxRetentionParams) (Job, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	minAttempts := params.MinAttempts
	if minAttempts <= 0 {
		minAttempts = outboxDeadAttempts
	}
	prune := func(ctx context.Context, cutoff time.Time) (int64, error) {
		return params.Repository.DeletePublishedBefore(ctx, cutoff, minAttempts)
	}
	return newRetentionJob("outbox-retention", params.Logger, params.Retention, prune)
}

type retentionJob struct {
	name  string
	logg  *logger.Logger
	days  int
	prune func(ctx context.Context, cutoff time.Time) (int64, error)
	now   func() time.Time
}

func newRetentionJob(name string, logg *logger.Logger, days int, prune func(context.Context, time.Time) (int64, error)) (*retentionJob, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if days <= 0 {
		days = defaultRetentionDays
	}
	return &retentionJob{name: name, logg: logg, days: days, prune: prune, now: time.Now}, nil
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.days)
	deleted, err := j.prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.days,
		"rows_deleted":   deleted,
	}), "retention cleanup complete")
	return nil
}
