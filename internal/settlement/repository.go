package settlement

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/formpay/pkg/db"
	"github.com/angelmondragon/formpay/pkg/db/models"
	"github.com/angelmondragon/formpay/pkg/enums"
	pkgerrors "github.com/angelmondragon/formpay/pkg/errors"
)

const paymentIDConstraint = "settlement_jobs_payment_id_key"

// Repository persists settlement jobs.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to settlement job operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// Insert stores a new job. A second job for the same payment id is a conflict.
func (r *Repository) Insert(ctx context.Context, tx *gorm.DB, job *models.SettlementJob) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	if err := tx.WithContext(ctx).Create(job).Error; err != nil {
		if db.IsUniqueViolation(err, paymentIDConstraint) || db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "settlement already queued for payment")
		}
		return err
	}
	return nil
}

// FindByID loads a job.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SettlementJob, error) {
	var job models.SettlementJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimDue leases up to limit queued jobs whose available_at has passed.
func (r *Repository) ClaimDue(ctx context.Context, tx *gorm.DB, limit int, lease time.Duration, now time.Time) ([]models.SettlementJob, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	query := tx.WithContext(ctx).
		Where("status = ?", enums.SettlementJobQueued).
		Where("available_at <= ?", now).
		Order("available_at ASC").
		Order("created_at ASC").
		Limit(limit)
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	var jobs []models.SettlementJob
	if err := query.Find(&jobs).Error; err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}
	lockedUntil := now.Add(lease)
	if err := tx.WithContext(ctx).
		Model(&models.SettlementJob{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"status":       enums.SettlementJobProcessing,
			"locked_until": lockedUntil,
			"updated_at":   now,
		}).Error; err != nil {
		return nil, err
	}
	for i := range jobs {
		jobs[i].Status = enums.SettlementJobProcessing
		jobs[i].LockedUntil = &lockedUntil
	}
	return jobs, nil
}

// SavePayload checkpoints the job payload. A nil tx writes outside a transaction.
func (r *Repository) SavePayload(ctx context.Context, tx *gorm.DB, id uuid.UUID, payload json.RawMessage) error {
	res := r.conn(tx).WithContext(ctx).
		Model(&models.SettlementJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"payload":    payload,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkSucceeded records a completed job.
func (r *Repository) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.SettlementJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        enums.SettlementJobSuccess,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    nil,
			"locked_until":  nil,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// MarkRetry returns the job to the queue after a failed attempt.
func (r *Repository) MarkRetry(ctx context.Context, id uuid.UUID, cause error, availableAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.SettlementJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        enums.SettlementJobQueued,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    errorText(cause),
			"available_at":  availableAt,
			"locked_until":  nil,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// MarkFailed records a job that will not be retried.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	return r.db.WithContext(ctx).
		Model(&models.SettlementJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        enums.SettlementJobFailure,
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    errorText(cause),
			"locked_until":  nil,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// RequeueExpiredLeases returns processing jobs whose lease lapsed to the queue.
// The lost delivery counts as an attempt.
func (r *Repository) RequeueExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SettlementJob{}).
		Where("status = ? AND locked_until IS NOT NULL AND locked_until < ?", enums.SettlementJobProcessing, now).
		Updates(map[string]any{
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"status":        enums.SettlementJobQueued,
			"locked_until":  nil,
			"available_at":  now,
			"updated_at":    now,
		})
	return res.RowsAffected, res.Error
}

// DeleteSucceededBefore removes successful jobs last touched before cutoff.
func (r *Repository) DeleteSucceededBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.SettlementJobSuccess, cutoff).
		Delete(&models.SettlementJob{})
	return res.RowsAffected, res.Error
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	msg := describe(err)
	return &msg
}

// describe renders err with the cause of typed errors, one entry per combined error.
func describe(err error) string {
	parts := multierr.Errors(err)
	if len(parts) == 0 {
		return ""
	}
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		typed := pkgerrors.As(part)
		switch {
		case typed == nil:
			out = append(out, part.Error())
		case typed.Unwrap() != nil:
			out = append(out, typed.Message()+": "+typed.Unwrap().Error())
		default:
			out = append(out, typed.Message())
		}
	}
	return strings.Join(out, "; ")
}
