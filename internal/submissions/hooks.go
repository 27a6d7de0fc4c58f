package submissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/formpay/internal/amount"
	"github.com/angelmondragon/formpay/internal/paymentobject"
	"github.com/angelmondragon/formpay/internal/webforms"
	"github.com/angelmondragon/formpay/pkg/db/models"
	"github.com/angelmondragon/formpay/pkg/enums"
	pkgerrors "github.com/angelmondragon/formpay/pkg/errors"
)

// PaymentReferenceField is the POST parameter carrying the provider payment id.
const PaymentReferenceField = "os2forms_payment_reference_field"

// Messages surfaced to the payer.
const (
	MsgNoPaymentFound         = "No payment found."
	MsgReservedAmountMismatch = "Reserved amount mismatch"
	MsgNoPaymentData          = "No payment data found"
)

const maxStatusWriteAttempts = 3

var errVersionConflict = errors.New("submission version conflict")

// PaymentRequest is the per-request state accompanying a submission.
type PaymentRequest struct {
	PaymentReference string
}

// StatusChange describes a persisted payment status update.
type StatusChange struct {
	SubmissionID int64
	WebformID    string
	Serial       int
	PaymentID    string
	Amount       decimal.Decimal
	Posting      string
	Status       enums.PaymentObjectStatus
}

// StatusHook runs inside the transaction that persists a status change.
type StatusHook func(tx *gorm.DB, change StatusChange) error

// Presave stamps a "not charged" payment object into data. It is a no-op when
// the form has no payment element, when data already carries a payment object,
// or when the payment reference or amount is missing.
func (s *service) Presave(ctx context.Context, data map[string]any, form *webforms.Form, req PaymentRequest) (bool, error) {
	if form == nil || data == nil {
		return false, nil
	}
	payment, err := form.Schema.FindPaymentField()
	if err != nil || payment == nil {
		return false, err
	}
	if existing, ok := data[payment.Key()].(string); ok && paymentobject.Decode(existing) != nil {
		return false, nil
	}

	paymentID := strings.TrimSpace(req.PaymentReference)
	value := amount.Resolve(data, payment.AmountToPay)
	if paymentID == "" || value.IsZero() {
		return false, nil
	}

	data[payment.Key()] = paymentobject.Encode(paymentobject.PaymentObject{
		PaymentID: paymentID,
		Amount:    value,
		Posting:   payment.PostingOrUndefined(),
		Status:    enums.PaymentObjectNotCharged,
	})
	return true, nil
}

// Insert enqueues settlement for a freshly persisted submission in the same transaction.
func (s *service) Insert(ctx context.Context, tx *gorm.DB, sub *models.Submission, form *webforms.Form, req PaymentRequest) error {
	if form == nil || sub == nil {
		return nil
	}
	payment, err := form.Schema.FindPaymentField()
	if err != nil || payment == nil {
		return err
	}
	if s.queue == nil {
		return pkgerrors.New(pkgerrors.CodeConfiguration, "settlement queue not configured")
	}
	paymentID := strings.TrimSpace(req.PaymentReference)
	if paymentID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, MsgNoPaymentFound)
	}
	if err := s.queue.Enqueue(ctx, tx, sub.ID, paymentID); err != nil {
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue settlement job")
	}

	if s.logger != nil {
		logCtx := s.logger.WithSubmissionID(ctx, sub.ID)
		logCtx = s.logger.WithFields(logCtx, map[string]any{"webform_id": sub.WebformID, "operation": "submission queued"})
		s.logger.Info(logCtx, fmt.Sprintf("Added submission #%d to queue for processing", sub.Serial))
	}
	return nil
}

// ValidatePayment requires a payment id whose reserved amount equals the
// amount derived from the submitted values.
func (s *service) ValidatePayment(ctx context.Context, form *webforms.Form, values map[string]any, req PaymentRequest) error {
	if form == nil {
		return nil
	}
	payment, err := form.Schema.FindPaymentField()
	if err != nil || payment == nil {
		return err
	}
	paymentID := strings.TrimSpace(req.PaymentReference)
	if paymentID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, MsgNoPaymentFound)
	}
	if s.gateway == nil {
		return pkgerrors.New(pkgerrors.CodeConfiguration, "payment gateway not configured")
	}

	result, err := s.gateway.RetrievePayment(ctx, paymentID)
	if err != nil {
		return err
	}
	expected := amount.ToMinorUnits(amount.Resolve(values, payment.AmountToPay))
	if result == nil || result.ReservedAmount != expected {
		var reserved int64
		if result != nil {
			reserved = result.ReservedAmount
		}
		return pkgerrors.New(pkgerrors.CodeValidation, MsgReservedAmountMismatch).
			WithDetails(map[string]any{"expected": expected, "reserved": reserved})
	}
	return nil
}

// SetPaymentStatus merges status into the submission's payment object with an
// optimistic version check. hook runs in the same transaction as the write.
func (s *service) SetPaymentStatus(ctx context.Context, submissionID int64, status enums.PaymentObjectStatus, hook StatusHook) (*StatusChange, error) {
	if !status.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid payment status %q", status)
	}

	for attempt := 0; attempt < maxStatusWriteAttempts; attempt++ {
		change, err := s.writeStatus(ctx, submissionID, status, hook)
		if errors.Is(err, errVersionConflict) {
			continue
		}
		return change, err
	}
	return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "submission was modified concurrently")
}

func (s *service) writeStatus(ctx context.Context, submissionID int64, status enums.PaymentObjectStatus, hook StatusHook) (*StatusChange, error) {
	sub, err := s.repo.FindByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "submission not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load submission")
	}
	form, err := s.forms.Get(ctx, sub.WebformID)
	if err != nil {
		return nil, err
	}
	payment, err := form.Schema.FindPaymentField()
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "webform has no payment element")
	}

	data, err := decodeData(sub.Data)
	if err != nil {
		return nil, err
	}
	existing, _ := data[payment.Key()].(string)
	merged, err := paymentobject.Merge(existing, paymentobject.FieldStatus, string(status))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "merge payment status")
	}
	data[payment.Key()] = merged
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode submission data")
	}

	change := StatusChange{
		SubmissionID: sub.ID,
		WebformID:    sub.WebformID,
		Serial:       sub.Serial,
		Status:       status,
	}
	if obj := paymentobject.Decode(merged); obj != nil {
		change.PaymentID = obj.PaymentID
		change.Amount = obj.Amount
		change.Posting = obj.Posting
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.UpdateData(ctx, tx, sub.ID, sub.Version, encoded)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update submission")
		}
		if !ok {
			return errVersionConflict
		}
		if hook != nil {
			return hook(tx, change)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &change, nil
}

func decodeData(raw json.RawMessage) (map[string]any, error) {
	data := map[string]any{}
	if len(raw) == 0 {
		return data, nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode submission data")
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}
