package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/formpay/pkg/config"
	"github.com/angelmondragon/formpay/pkg/db/models"
	"github.com/angelmondragon/formpay/pkg/logger"
	"github.com/angelmondragon/formpay/pkg/metrics"
	rediscache "github.com/angelmondragon/formpay/pkg/redis"
)

const (
	defaultBatchSize = 20
	defaultLease     = 5 * time.Minute
	maxPollBackoff   = 10 * time.Second
	jitterWindow     = 250 * time.Millisecond
	retryBaseDelay   = 15 * time.Second
	maxRetryDelay    = 15 * time.Minute
	lockScope        = "settlement"
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type jobStore interface {
	ClaimDue(ctx context.Context, tx *gorm.DB, limit int, lease time.Duration, now time.Time) ([]models.SettlementJob, error)
	SavePayload(ctx context.Context, tx *gorm.DB, id uuid.UUID, payload json.RawMessage) error
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	MarkRetry(ctx context.Context, id uuid.UUID, cause error, availableAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
}

type jobProcessor interface {
	Process(ctx context.Context, job *Job, checkpoint Checkpoint) error
}

type lockProvider interface {
	rediscache.LockStore
	LockKey(scope, id string) string
}

// WorkerParams configure the settlement worker.
type WorkerParams struct {
	Config      config.SettlementConfig
	Logger      *logger.Logger
	DB          dbClient
	Jobs        jobStore
	Processor   jobProcessor
	Locks       lockProvider
	Submissions submissionFinder
	Metrics     *metrics.SettlementMetrics
}

// Worker polls settlement jobs and drives them through the handler.
type Worker struct {
	logg         *logger.Logger
	db           dbClient
	jobs         jobStore
	processor    jobProcessor
	locks        lockProvider
	submissions  submissionFinder
	metrics      *metrics.SettlementMetrics
	batchSize    int
	lease        time.Duration
	lockTTL      time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

// NewWorker validates dependencies and applies defaults.
func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Jobs == nil {
		return nil, errors.New("settlement repository is required")
	}
	if params.Processor == nil {
		return nil, errors.New("settlement handler is required")
	}
	if params.Locks == nil {
		return nil, errors.New("redis client is required")
	}
	if params.Submissions == nil {
		return nil, errors.New("submission repository is required")
	}

	batch := params.Config.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	lease := params.Config.LeaseTTL
	if lease <= 0 {
		lease = defaultLease
	}

	return &Worker{
		logg:         params.Logger,
		db:           params.DB,
		jobs:         params.Jobs,
		processor:    params.Processor,
		locks:        params.Locks,
		submissions:  params.Submissions,
		metrics:      params.Metrics,
		batchSize:    batch,
		lease:        lease,
		lockTTL:      params.Config.LockTTL,
		pollInterval: params.Config.PollInterval(),
		now:          time.Now,
	}, nil
}

// Run polls until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.db.Ping(ctx); err != nil {
		w.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}

	interval := w.pollInterval
	backoff := interval
	for {
		select {
		case <-ctx.Done():
			w.logg.Info(ctx, "settlement worker context canceled")
			return ctx.Err()
		default:
		}

		processed, err := w.RunOnce(ctx)
		if err != nil {
			w.logg.Error(ctx, "settlement batch error", err)
			backoff = nextBackoff(backoff, interval, maxPollBackoff)
			if err := sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval
		if processed > 0 {
			continue
		}
		if err := sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

// RunOnce claims one batch of due jobs and processes each. It returns the
// number of jobs claimed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	var claimed []models.SettlementJob
	err := w.db.WithTx(ctx, func(tx *gorm.DB) error {
		jobs, err := w.jobs.ClaimDue(ctx, tx, w.batchSize, w.lease, w.now().UTC())
		if err != nil {
			return err
		}
		claimed = jobs
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("claim settlement jobs: %w", err)
	}

	for i := range claimed {
		if err := ctx.Err(); err != nil {
			return len(claimed), err
		}
		w.handle(ctx, claimed[i])
	}
	return len(claimed), nil
}

func (w *Worker) handle(ctx context.Context, row models.SettlementJob) {
	started := w.now()
	done := w.metrics.TrackInFlight()
	defer done()

	jobCtx := w.logg.WithJobID(ctx, row.ID.String())
	jobCtx = w.logg.WithSubmissionID(jobCtx, row.SubmissionID)
	jobCtx = w.logg.WithPaymentID(jobCtx, row.PaymentID)

	lock, err := rediscache.NewLock(w.locks, w.locks.LockKey(lockScope, row.ID.String()), w.lockTTL)
	if err != nil {
		w.logg.Error(jobCtx, "settlement lock setup failed", err)
		w.finish(jobCtx, row, err, started)
		return
	}
	acquired, err := lock.Acquire(jobCtx)
	if err != nil {
		w.logg.Error(jobCtx, "settlement lock acquire failed", err)
		w.finish(jobCtx, row, err, started)
		return
	}
	if !acquired {
		w.logg.Warn(jobCtx, "settlement job locked by another worker")
		w.metrics.ObserveAttempt(metrics.OutcomeSkipped, w.now().Sub(started))
		return
	}
	defer func() {
		if err := lock.Release(jobCtx); err != nil {
			w.logg.Warn(w.logg.WithField(jobCtx, "error", err.Error()), "settlement lock release failed")
		}
	}()

	w.finish(jobCtx, row, w.process(jobCtx, row), started)
}

func (w *Worker) process(ctx context.Context, row models.SettlementJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.metrics.ObserveAttempt(metrics.OutcomePanic, 0)
			err = fmt.Errorf("settlement handler panic: %v", r)
		}
	}()

	payload, err := DecodePayload(row.Payload)
	if err != nil {
		return PermanentError{Err: err}
	}
	job := &Job{ID: row.ID, Attempt: row.AttemptCount, MaxAttempts: row.MaxAttempts, Payload: payload}
	return w.processor.Process(ctx, job, w.checkpoint)
}

func (w *Worker) checkpoint(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, payload Payload) error {
	raw, err := payload.Encode()
	if err != nil {
		return err
	}
	return w.jobs.SavePayload(ctx, tx, jobID, raw)
}

func (w *Worker) finish(ctx context.Context, row models.SettlementJob, procErr error, started time.Time) {
	serial := w.serial(ctx, row.SubmissionID)
	elapsed := w.now().Sub(started)

	if procErr == nil {
		if err := w.jobs.MarkSucceeded(ctx, row.ID); err != nil {
			w.logg.Error(ctx, "mark settlement job succeeded", err)
		}
		w.metrics.ObserveAttempt(metrics.OutcomeSuccess, elapsed)
		w.logg.Info(ctx, fmt.Sprintf("The submission #%d was successfully delivered", serial))
		return
	}

	nextAttempt := row.AttemptCount + 1
	ctx = w.logg.WithField(ctx, "attempt_count", nextAttempt)
	if terminal(procErr, row.AttemptCount, row.MaxAttempts) {
		if err := w.jobs.MarkFailed(ctx, row.ID, procErr); err != nil {
			w.logg.Error(ctx, "mark settlement job failed", err)
		}
		w.metrics.ObserveAttempt(metrics.OutcomeFailure, elapsed)
		w.logg.Error(ctx, fmt.Sprintf("The submission #%d failed (%s)", serial, describe(procErr)), procErr)
		return
	}

	availableAt := w.now().UTC().Add(retryDelay(row.AttemptCount))
	if err := w.jobs.MarkRetry(ctx, row.ID, procErr, availableAt); err != nil {
		w.logg.Error(ctx, "mark settlement job for retry", err)
	}
	w.metrics.ObserveAttempt(metrics.OutcomeRetry, elapsed)
	ctx = w.logg.WithField(ctx, "available_at", availableAt.Format(time.RFC3339))
	w.logg.Warn(ctx, fmt.Sprintf("The submission #%d failed (%s)", serial, describe(procErr)))
}

func (w *Worker) serial(ctx context.Context, submissionID int64) int64 {
	sub, err := w.submissions.FindByID(ctx, submissionID)
	if err != nil || sub == nil {
		return submissionID
	}
	return int64(sub.Serial)
}

func retryDelay(attempt int) time.Duration {
	delay := retryBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}
