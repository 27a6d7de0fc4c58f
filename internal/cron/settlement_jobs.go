package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/formpay/pkg/logger"
)

type leaseReaperRepo interface {
	RequeueExpiredLeases(ctx context.Context, now time.Time) (int64, error)
}

// SettlementLeaseReaperParams configure the lease reaper.
type SettlementLeaseReaperParams struct {
	Logger     *logger.Logger
	Repository leaseReaperRepo
}

// NewSettlementLeaseReaperJob returns jobs left in processing by a crashed worker to the queue.
func NewSettlementLeaseReaperJob(params SettlementLeaseReaperParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("settlement repository required")
	}
	return &settlementLeaseReaperJob{logg: params.Logger, repo: params.Repository, now: time.Now}, nil
}

type settlementLeaseReaperJob struct {
	logg *logger.Logger
	repo leaseReaperRepo
	now  func() time.Time
}

func (j *settlementLeaseReaperJob) Name() string { return "settlement-lease-reaper" }

func (j *settlementLeaseReaperJob) Run(ctx context.Context) error {
	requeued, err := j.repo.RequeueExpiredLeases(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("requeue expired settlement leases: %w", err)
	}
	if requeued > 0 {
		j.logg.Warn(j.logg.WithField(ctx, "rows_requeued", requeued), "settlement jobs with expired leases requeued")
	}
	return nil
}
