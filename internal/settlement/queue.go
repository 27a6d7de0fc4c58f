package settlement

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/formpay/pkg/db/models"
	"github.com/angelmondragon/formpay/pkg/enums"
	pkgerrors "github.com/angelmondragon/formpay/pkg/errors"
)

const defaultMaxAttempts = 5

type jobInserter interface {
	Insert(ctx context.Context, tx *gorm.DB, job *models.SettlementJob) error
}

// Queue enqueues settlement jobs inside the caller's transaction.
type Queue struct {
	repo        jobInserter
	maxAttempts int
}

// NewQueue builds a queue writing to repo.
func NewQueue(repo jobInserter, maxAttempts int) (*Queue, error) {
	if repo == nil {
		return nil, fmt.Errorf("settlement repository required")
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Queue{repo: repo, maxAttempts: maxAttempts}, nil
}

// Enqueue stores a stage-0 job for the submission's payment.
func (q *Queue) Enqueue(ctx context.Context, tx *gorm.DB, submissionID int64, paymentID string) error {
	paymentID = strings.TrimSpace(paymentID)
	payload, err := NewPayload(submissionID, paymentID).Encode()
	if err != nil {
		return err
	}
	job := &models.SettlementJob{
		JobType:      enums.JobTypeNetsEasySettlement,
		SubmissionID: submissionID,
		PaymentID:    paymentID,
		Payload:      payload,
		Status:       enums.SettlementJobQueued,
		MaxAttempts:  q.maxAttempts,
	}
	if err := q.repo.Insert(ctx, tx, job); err != nil {
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue settlement job")
	}
	return nil
}
