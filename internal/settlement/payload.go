package settlement

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/angelmondragon/formpay/pkg/enums"
	pkgerrors "github.com/angelmondragon/formpay/pkg/errors"
)

// Payload is the persisted, resumable state of a settlement job. Amounts are
// provider minor units.
type Payload struct {
	SubmissionID          int64                 `json:"submissionId"`
	PaymentID             string                `json:"paymentId"`
	Stage                 enums.SettlementStage `json:"processing_stage"`
	CheckoutURL           *string               `json:"checkoutUrl,omitempty"`
	ReservedAmount        *int64                `json:"reservedAmount,omitempty"`
	ChargedAmount         *int64                `json:"chargedAmount,omitempty"`
	PaymentReferenceValue string                `json:"paymentReferenceValue,omitempty"`
}

// NewPayload returns the initial payload for a submission.
func NewPayload(submissionID int64, paymentID string) Payload {
	return Payload{SubmissionID: submissionID, PaymentID: strings.TrimSpace(paymentID), Stage: enums.StageCreated}
}

// DecodePayload parses and validates a stored payload. Unknown fields are rejected.
func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Payload{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid settlement payload")
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Encode renders the payload for storage.
func (p Payload) Encode() (json.RawMessage, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode settlement payload")
	}
	return raw, nil
}

// Validate checks the fields required at the payload's stage.
func (p Payload) Validate() error {
	if p.SubmissionID <= 0 {
		return invalidPayload("submissionId is required")
	}
	if strings.TrimSpace(p.PaymentID) == "" {
		return invalidPayload("paymentId is required")
	}
	if !p.Stage.IsValid() {
		return invalidPayload(fmt.Sprintf("unknown processing_stage %d", int(p.Stage)))
	}

	switch p.Stage {
	case enums.StageRetrieved, enums.StageReferenceAttached:
		if p.CheckoutURL == nil || p.ReservedAmount == nil || p.ChargedAmount == nil {
			return invalidPayload(fmt.Sprintf("stage %s requires checkoutUrl, reservedAmount and chargedAmount", p.Stage))
		}
		if p.PaymentReferenceValue == "" {
			return invalidPayload(fmt.Sprintf("stage %s requires paymentReferenceValue", p.Stage))
		}
	case enums.StageCharged:
		if p.CheckoutURL != nil || p.ReservedAmount != nil || p.ChargedAmount != nil {
			return invalidPayload("charged payload must not carry provider amounts")
		}
	}
	return nil
}

func invalidPayload(msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid settlement payload: "+msg)
}

func int64Ptr(v int64) *int64 {
	return &v
}

func stringPtr(v string) *string {
	return &v
}
