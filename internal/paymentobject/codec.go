// Package paymentobject encodes the payment reference stored in a submission's
// payment field.
package paymentobject

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/formpay/pkg/enums"
)

const (
	wrapperKey = "paymentObject"

	// PostingUndefined marks a payment without an internal posting reference.
	PostingUndefined = "undefined"

	FieldPaymentID = "payment_id"
	FieldAmount    = "amount"
	FieldPosting   = "posting"
	FieldStatus    = "status"
)

// PaymentObject is the payment state carried inside submission data.
type PaymentObject struct {
	PaymentID string
	Amount    decimal.Decimal
	Posting   string
	Status    enums.PaymentObjectStatus
}

type wireObject struct {
	PaymentID string          `json:"payment_id"`
	Amount    json.RawMessage `json:"amount"`
	Posting   string          `json:"posting"`
	Status    string          `json:"status"`
}

// HasPosting reports whether a usable posting reference is present.
func (p PaymentObject) HasPosting() bool {
	posting := strings.TrimSpace(p.Posting)
	return posting != "" && posting != PostingUndefined
}

// Decode parses the stored value. Empty or malformed input yields nil.
func Decode(raw string) *PaymentObject {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil
	}
	inner, ok := envelope[wrapperKey]
	if !ok || len(inner) == 0 || bytes.Equal(inner, []byte("null")) {
		return nil
	}
	var wire wireObject
	if err := json.Unmarshal(inner, &wire); err != nil {
		return nil
	}

	amount, err := parseAmount(wire.Amount)
	if err != nil {
		return nil
	}
	return &PaymentObject{
		PaymentID: wire.PaymentID,
		Amount:    amount,
		Posting:   wire.Posting,
		Status:    enums.PaymentObjectStatus(wire.Status),
	}
}

// Encode renders the object inside its wrapper with the amount as a JSON number.
func Encode(obj PaymentObject) string {
	wire := wireObject{
		PaymentID: obj.PaymentID,
		Amount:    json.RawMessage(obj.Amount.String()),
		Posting:   obj.Posting,
		Status:    string(obj.Status),
	}
	payload, err := json.Marshal(map[string]wireObject{wrapperKey: wire})
	if err != nil {
		return ""
	}
	return string(payload)
}

// Merge sets one field of the nested payment object and re-encodes it.
// Unknown fields survive; an empty existing value creates the wrapper.
func Merge(existing, key, value string) (string, error) {
	envelope := map[string]any{}
	if strings.TrimSpace(existing) != "" {
		dec := json.NewDecoder(strings.NewReader(existing))
		dec.UseNumber()
		if err := dec.Decode(&envelope); err != nil {
			return "", fmt.Errorf("decode payment object: %w", err)
		}
		if envelope == nil {
			envelope = map[string]any{}
		}
	}

	inner, ok := envelope[wrapperKey].(map[string]any)
	if !ok {
		inner = map[string]any{}
	}
	inner[key] = value
	envelope[wrapperKey] = inner

	payload, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("encode payment object: %w", err)
	}
	return string(payload), nil
}

func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return decimal.Zero, nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return decimal.Zero, err
		}
		if strings.TrimSpace(s) == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(strings.TrimSpace(s))
	}
	return decimal.NewFromString(string(trimmed))
}
