// Package submissions persists form submissions and carries their payment object
// from checkout through settlement.
package submissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/formpay/internal/paymentobject"
	"github.com/angelmondragon/formpay/internal/webforms"
	"github.com/angelmondragon/formpay/pkg/db/models"
	"github.com/angelmondragon/formpay/pkg/enums"
	pkgerrors "github.com/angelmondragon/formpay/pkg/errors"
	"github.com/angelmondragon/formpay/pkg/logger"
	"github.com/angelmondragon/formpay/pkg/netseasy"
)

type submissionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, sub *models.Submission) error
	FindByID(ctx context.Context, id int64) (*models.Submission, error)
	UpdateData(ctx context.Context, tx *gorm.DB, id int64, version int, data json.RawMessage) (bool, error)
}

type formLoader interface {
	Get(ctx context.Context, id string) (*webforms.Form, error)
}

type paymentRetriever interface {
	RetrievePayment(ctx context.Context, paymentID string) (*netseasy.Payment, error)
}

// SettlementQueue enqueues settlement work inside the submission transaction.
type SettlementQueue interface {
	Enqueue(ctx context.Context, tx *gorm.DB, submissionID int64, paymentID string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes submission operations.
type Service interface {
	Submit(ctx context.Context, webformID string, input SubmitInput) (*SubmitResult, error)
	Presave(ctx context.Context, data map[string]any, form *webforms.Form, req PaymentRequest) (bool, error)
	Insert(ctx context.Context, tx *gorm.DB, sub *models.Submission, form *webforms.Form, req PaymentRequest) error
	ValidatePayment(ctx context.Context, form *webforms.Form, values map[string]any, req PaymentRequest) error
	SetPaymentStatus(ctx context.Context, submissionID int64, status enums.PaymentObjectStatus, hook StatusHook) (*StatusChange, error)
	PaymentView(ctx context.Context, webformID string, submissionID int64) (*PaymentView, error)
}

// Deps groups the collaborators of the submission service.
type Deps struct {
	Tx      txRunner
	Repo    submissionRepository
	Forms   formLoader
	Gateway paymentRetriever
	Queue   SettlementQueue
	Logger  *logger.Logger
}

type service struct {
	tx      txRunner
	repo    submissionRepository
	forms   formLoader
	gateway paymentRetriever
	queue   SettlementQueue
	logger  *logger.Logger
}

// NewService builds a submission service.
func NewService(deps Deps) (Service, error) {
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Repo == nil {
		return nil, fmt.Errorf("submission repository required")
	}
	if deps.Forms == nil {
		return nil, fmt.Errorf("webform loader required")
	}
	return &service{
		tx:      deps.Tx,
		repo:    deps.Repo,
		forms:   deps.Forms,
		gateway: deps.Gateway,
		queue:   deps.Queue,
		logger:  deps.Logger,
	}, nil
}

// SubmitInput is a payer's submission.
type SubmitInput struct {
	Data             map[string]any
	PaymentReference string
}

// SubmitResult describes the persisted submission.
type SubmitResult struct {
	SubmissionID  int64                        `json:"submission_id"`
	WebformID     string                       `json:"webform_id"`
	Serial        int                          `json:"serial"`
	PaymentObject *paymentobject.PaymentObject `json:"-"`
}

// PaymentView is the payment summary shown for a submission.
type PaymentView struct {
	SubmissionID int64                     `json:"submission_id"`
	Serial       int                       `json:"serial"`
	PaymentID    string                    `json:"payment_id"`
	Amount       decimal.Decimal           `json:"amount"`
	Posting      string                    `json:"posting"`
	Status       enums.PaymentObjectStatus `json:"status"`
}

func (s *service) Submit(ctx context.Context, webformID string, input SubmitInput) (*SubmitResult, error) {
	form, err := s.forms.Get(ctx, webformID)
	if err != nil {
		return nil, err
	}
	payment, err := form.Schema.FindPaymentField()
	if err != nil {
		return nil, err
	}

	data := make(map[string]any, len(input.Data))
	for k, v := range input.Data {
		data[k] = v
	}
	req := PaymentRequest{PaymentReference: strings.TrimSpace(input.PaymentReference)}

	if payment != nil {
		// the payment object is server-owned
		delete(data, payment.Key())
		if err := s.ValidatePayment(ctx, form, data, req); err != nil {
			return nil, err
		}
	}
	if _, err := s.Presave(ctx, data, form, req); err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid submission data")
	}

	sub := &models.Submission{WebformID: form.ID, Data: encoded}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.Create(ctx, tx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create submission")
		}
		return s.Insert(ctx, tx, sub, form, req)
	})
	if err != nil {
		return nil, err
	}

	result := &SubmitResult{SubmissionID: sub.ID, WebformID: sub.WebformID, Serial: sub.Serial}
	if payment != nil {
		if raw, ok := data[payment.Key()].(string); ok {
			result.PaymentObject = paymentobject.Decode(raw)
		}
	}
	return result, nil
}

func (s *service) PaymentView(ctx context.Context, webformID string, submissionID int64) (*PaymentView, error) {
	sub, err := s.repo.FindByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "submission not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load submission")
	}
	if sub.WebformID != webformID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "submission not found")
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
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, MsgNoPaymentData)
	}

	data, err := decodeData(sub.Data)
	if err != nil {
		return nil, err
	}
	raw, _ := data[payment.Key()].(string)
	obj := paymentobject.Decode(raw)
	if obj == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, MsgNoPaymentData)
	}
	return &PaymentView{
		SubmissionID: sub.ID,
		Serial:       sub.Serial,
		PaymentID:    obj.PaymentID,
		Amount:       obj.Amount,
		Posting:      obj.Posting,
		Status:       obj.Status,
	}, nil
}
