// Package settlement advances reserved payments to a capture through a
// resumable, checkpointed sequence of provider calls.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/formpay/internal/paymentobject"
	"github.com/angelmondragon/formpay/internal/submissions"
	"github.com/angelmondragon/formpay/pkg/db/models"
	"github.com/angelmondragon/formpay/pkg/enums"
	pkgerrors "github.com/angelmondragon/formpay/pkg/errors"
	"github.com/angelmondragon/formpay/pkg/logger"
	"github.com/angelmondragon/formpay/pkg/metrics"
	"github.com/angelmondragon/formpay/pkg/netseasy"
	"github.com/angelmondragon/formpay/pkg/outbox"
	"github.com/angelmondragon/formpay/pkg/outbox/payloads"
)

// Failure messages recorded on the job.
const (
	MsgNoPaymentFound        = "No payment found."
	MsgReservedAmountZero    = "Reserved amount is zero when validating reserved amount"
	MsgChargedAmountNotZero  = "Charged amount is not zero before attempting to charge"
	MsgPaymentCouldNotCharge = "Payment could not be charged"
)

const eventSource = "settlement-worker"

// Gateway is the provider surface used by settlement.
type Gateway interface {
	RetrievePayment(ctx context.Context, paymentID string) (*netseasy.Payment, error)
	UpdateReference(ctx context.Context, paymentID, checkoutURL, reference string) error
	ChargePayment(ctx context.Context, paymentID string, amountMinor int64) (*netseasy.ChargeResult, error)
}

type statusWriter interface {
	SetPaymentStatus(ctx context.Context, submissionID int64, status enums.PaymentObjectStatus, hook submissions.StatusHook) (*submissions.StatusChange, error)
}

type submissionFinder interface {
	FindByID(ctx context.Context, id int64) (*models.Submission, error)
}

type eventEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Job is a settlement job in flight. Attempt counts previous deliveries and
// MaxAttempts is the job's delivery budget.
type Job struct {
	ID          uuid.UUID
	Attempt     int
	MaxAttempts int
	Payload     Payload
}

// Checkpoint persists the payload after a completed stage. A non-nil tx must be used.
type Checkpoint func(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, payload Payload) error

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e PermanentError) Error() string {
	if e.Err == nil {
		return "permanent settlement failure"
	}
	return e.Err.Error()
}

func (e PermanentError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err or any combined error is permanent.
func IsPermanent(err error) bool {
	var permanent PermanentError
	return errors.As(err, &permanent)
}

func permanent(code pkgerrors.Code, msg string) error {
	return PermanentError{Err: pkgerrors.New(code, msg)}
}

// terminal reports whether a failed delivery ends the job. A job without an
// attempt budget is never retried.
func terminal(err error, attempt, maxAttempts int) bool {
	return IsPermanent(err) ||
		pkgerrors.IsCode(err, pkgerrors.CodeValidation) ||
		attempt+1 >= maxAttempts
}

// HandlerParams configure the settlement handler.
type HandlerParams struct {
	Gateway     Gateway
	Submissions statusWriter
	Finder      submissionFinder
	Events      eventEmitter
	Logger      *logger.Logger
	Metrics     *metrics.SettlementMetrics
}

// Handler runs the settlement stages for one job.
type Handler struct {
	gateway Gateway
	status  statusWriter
	finder  submissionFinder
	events  eventEmitter
	logg    *logger.Logger
	metrics *metrics.SettlementMetrics
	now     func() time.Time
}

// NewHandler builds a settlement handler.
func NewHandler(params HandlerParams) (*Handler, error) {
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if params.Submissions == nil {
		return nil, fmt.Errorf("submission service required")
	}
	if params.Finder == nil {
		return nil, fmt.Errorf("submission finder required")
	}
	return &Handler{
		gateway: params.Gateway,
		status:  params.Submissions,
		finder:  params.Finder,
		events:  params.Events,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     time.Now,
	}, nil
}

// ReferenceValue builds webformID:submissionID, plus the posting when one is set.
func ReferenceValue(webformID string, submissionID int64, posting string) string {
	ref := fmt.Sprintf("%s:%d", webformID, submissionID)
	if suffix := strings.TrimSpace(posting); suffix != "" && suffix != paymentobject.PostingUndefined {
		ref += ":" + suffix
	}
	return ref
}

// Process advances job from its stored stage until charged or an error occurs.
// Every completed stage is checkpointed before the next one starts.
func (h *Handler) Process(ctx context.Context, job *Job, checkpoint Checkpoint) error {
	if job == nil {
		return PermanentError{Err: errors.New("settlement job is nil")}
	}
	if checkpoint == nil {
		return PermanentError{Err: errors.New("checkpoint required")}
	}
	if err := job.Payload.Validate(); err != nil {
		return PermanentError{Err: err}
	}

	for !job.Payload.Stage.IsTerminal() {
		var err error
		switch job.Payload.Stage {
		case enums.StageCreated:
			err = h.retrieve(ctx, job, checkpoint)
		case enums.StageRetrieved:
			err = h.attachReference(ctx, job, checkpoint)
		case enums.StageReferenceAttached:
			err = h.charge(ctx, job, checkpoint)
		default:
			return PermanentError{Err: fmt.Errorf("unknown processing stage %d", int(job.Payload.Stage))}
		}
		if err != nil {
			return err
		}
		h.metrics.IncStage(job.Payload.Stage.String())
		h.logStage(ctx, job)
	}
	return nil
}

func (h *Handler) retrieve(ctx context.Context, job *Job, checkpoint Checkpoint) error {
	p := job.Payload
	payment, err := h.gateway.RetrievePayment(ctx, p.PaymentID)
	if err != nil {
		return err
	}
	if payment == nil {
		return permanent(pkgerrors.CodeNotFound, MsgNoPaymentFound)
	}
	sub, err := h.finder.FindByID(ctx, p.SubmissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return permanent(pkgerrors.CodeNotFound, "submission not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load submission")
	}

	next := p
	next.CheckoutURL = stringPtr(payment.CheckoutURL)
	next.ReservedAmount = int64Ptr(payment.ReservedAmount)
	next.ChargedAmount = int64Ptr(payment.ChargedAmount)
	next.PaymentReferenceValue = ReferenceValue(sub.WebformID, sub.ID, payment.OrderReference)
	next.Stage = enums.StageRetrieved
	return h.advance(ctx, nil, job, next, checkpoint)
}

func (h *Handler) attachReference(ctx context.Context, job *Job, checkpoint Checkpoint) error {
	p := job.Payload
	if err := h.gateway.UpdateReference(ctx, p.PaymentID, *p.CheckoutURL, p.PaymentReferenceValue); err != nil {
		return err
	}
	next := p
	next.Stage = enums.StageReferenceAttached
	return h.advance(ctx, nil, job, next, checkpoint)
}

func (h *Handler) charge(ctx context.Context, job *Job, checkpoint Checkpoint) error {
	chargeID, err := h.capture(ctx, job)
	if err != nil {
		return multierr.Append(err, h.markChargeFailed(ctx, job, err))
	}
	return h.markCharged(ctx, job, chargeID, checkpoint)
}

// capture guards against double charging. The checkpointed amounts predate
// the charge call, so the provider is consulted before every capture: a
// capture whose checkpoint was lost to a crash or a failed write is adopted
// instead of repeated.
func (h *Handler) capture(ctx context.Context, job *Job) (string, error) {
	p := job.Payload
	if p.ReservedAmount == nil || *p.ReservedAmount <= 0 {
		return "", permanent(pkgerrors.CodeStateConflict, MsgReservedAmountZero)
	}
	if p.ChargedAmount == nil || *p.ChargedAmount != 0 {
		return "", permanent(pkgerrors.CodeStateConflict, MsgChargedAmountNotZero)
	}

	current, err := h.gateway.RetrievePayment(ctx, p.PaymentID)
	if err != nil {
		return "", err
	}
	if current != nil && current.ChargedAmount >= *p.ReservedAmount {
		return current.LastChargeID(), nil
	}

	result, err := h.gateway.ChargePayment(ctx, p.PaymentID, *p.ReservedAmount)
	if err != nil {
		return "", err
	}
	if result == nil || strings.TrimSpace(result.ChargeID) == "" {
		return "", permanent(pkgerrors.CodeGateway, MsgPaymentCouldNotCharge)
	}
	return result.ChargeID, nil
}

func (h *Handler) markCharged(ctx context.Context, job *Job, chargeID string, checkpoint Checkpoint) error {
	p := job.Payload
	amountMinor := *p.ReservedAmount

	next := p
	next.CheckoutURL = nil
	next.ReservedAmount = nil
	next.ChargedAmount = nil
	next.Stage = enums.StageCharged

	_, err := h.status.SetPaymentStatus(ctx, p.SubmissionID, enums.PaymentObjectCharged, func(tx *gorm.DB, change submissions.StatusChange) error {
		if err := checkpoint(ctx, tx, job.ID, next); err != nil {
			return err
		}
		return h.emit(ctx, tx, job.ID, enums.EventPaymentCharged, payloads.PaymentChargedEvent{
			JobID:        job.ID,
			WebformID:    change.WebformID,
			SubmissionID: change.SubmissionID,
			PaymentID:    p.PaymentID,
			ChargeID:     chargeID,
			AmountMinor:  amountMinor,
			Reference:    p.PaymentReferenceValue,
			ChargedAt:    h.now().UTC(),
		})
	})
	if err != nil {
		return err
	}
	job.Payload = next
	return nil
}

// markChargeFailed stamps the submission on every failed capture. The
// charge failed event is only emitted once the job will not be retried.
func (h *Handler) markChargeFailed(ctx context.Context, job *Job, cause error) error {
	p := job.Payload
	final := terminal(cause, job.Attempt, job.MaxAttempts)
	_, err := h.status.SetPaymentStatus(ctx, p.SubmissionID, enums.PaymentObjectChargeFailed, func(tx *gorm.DB, change submissions.StatusChange) error {
		if !final {
			return nil
		}
		return h.emit(ctx, tx, job.ID, enums.EventPaymentChargeFailed, payloads.PaymentChargeFailedEvent{
			JobID:        job.ID,
			WebformID:    change.WebformID,
			SubmissionID: change.SubmissionID,
			PaymentID:    p.PaymentID,
			Reason:       describe(cause),
			FailedAt:     h.now().UTC(),
		})
	})
	if err != nil {
		return fmt.Errorf("persist charge failed status: %w", err)
	}
	return nil
}

func (h *Handler) emit(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, eventType enums.OutboxEventType, data any) error {
	if h.events == nil {
		return nil
	}
	return h.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateSettlementJob,
		AggregateID:   jobID,
		Source:        eventSource,
		Data:          data,
	})
}

func (h *Handler) advance(ctx context.Context, tx *gorm.DB, job *Job, next Payload, checkpoint Checkpoint) error {
	if err := checkpoint(ctx, tx, job.ID, next); err != nil {
		return fmt.Errorf("checkpoint stage %s: %w", next.Stage, err)
	}
	job.Payload = next
	return nil
}

func (h *Handler) logStage(ctx context.Context, job *Job) {
	if h.logg == nil {
		return
	}
	ctx = h.logg.WithJobID(ctx, job.ID.String())
	ctx = h.logg.WithPaymentID(ctx, job.Payload.PaymentID)
	ctx = h.logg.WithField(ctx, "processing_stage", job.Payload.Stage.String())
	h.logg.Debug(ctx, "settlement stage completed")
}
