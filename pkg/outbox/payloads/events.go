package payloads

import (
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// PaymentEvent is implemented by every payload the publisher can emit.
type PaymentEvent interface {
	// Attributes are copied onto the Pub/Sub message so subscribers can
	// filter without decoding the body.
	Attributes() map[string]string
	Validate() error
}

// PaymentChargedEvent is emitted once a reserved payment has been captured.
// ChargeID is optional: it is empty when the capture was found on the
// provider after a lost checkpoint and the provider listed no charges.
type PaymentChargedEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	WebformID    string    `json:"webform_id"`
	SubmissionID int64     `json:"submission_id"`
	PaymentID    string    `json:"payment_id"`
	ChargeID     string    `json:"charge_id,omitempty"`
	AmountMinor  int64     `json:"amount_minor"`
	Reference    string    `json:"reference"`
	ChargedAt    time.Time `json:"charged_at"`
}

func (e *PaymentChargedEvent) Attributes() map[string]string {
	return paymentAttributes(e.WebformID, e.SubmissionID, e.PaymentID)
}

func (e *PaymentChargedEvent) Validate() error {
	if e.PaymentID == "" {
		return errors.New("payment_id is required")
	}
	if e.AmountMinor < 0 {
		return errors.New("amount_minor is negative")
	}
	return validateSubmission(e.SubmissionID)
}

// PaymentChargeFailedEvent is emitted when settlement gives up charging a payment.
type PaymentChargeFailedEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	WebformID    string    `json:"webform_id"`
	SubmissionID int64     `json:"submission_id"`
	PaymentID    string    `json:"payment_id"`
	Reason       string    `json:"reason"`
	FailedAt     time.Time `json:"failed_at"`
}

func (e *PaymentChargeFailedEvent) Attributes() map[string]string {
	return paymentAttributes(e.WebformID, e.SubmissionID, e.PaymentID)
}

func (e *PaymentChargeFailedEvent) Validate() error {
	return validateSubmission(e.SubmissionID)
}

func paymentAttributes(webformID string, submissionID int64, paymentID string) map[string]string {
	return map[string]string{
		"webform_id":    webformID,
		"submission_id": strconv.FormatInt(submissionID, 10),
		"payment_id":    paymentID,
	}
}

func validateSubmission(submissionID int64) error {
	if submissionID <= 0 {
		return errors.New("submission_id is required")
	}
	return nil
}
