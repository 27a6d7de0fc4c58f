package paymentobject

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/formpay/pkg/enums"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	obj := PaymentObject{
		PaymentID: "pay_1",
		Amount:    decimal.RequireFromString("125.5"),
		Posting:   PostingUndefined,
		Status:    enums.PaymentObjectNotCharged,
	}

	encoded := Encode(obj)
	want := `{"paymentObject":{"payment_id":"pay_1","amount":125.5,"posting":"undefined","status":"not charged"}}`
	if encoded != want {
		t.Fatalf("unexpected encoding\nwant %s\ngot  %s", want, encoded)
	}

	decoded := Decode(encoded)
	if decoded == nil {
		t.Fatal("expected decoded object")
	}
	if Encode(*decoded) != encoded {
		t.Fatalf("round trip changed encoding: %s", Encode(*decoded))
	}
	if decoded.HasPosting() {
		t.Fatal("undefined posting should not count as a posting")
	}
}

func TestDecodeInvalidInput(t *testing.T) {
	for _, raw := range []string{"", "   ", "not json", `{"other":{}}`, `{"paymentObject":null}`, `{"paymentObject":{"amount":"abc"}}`} {
		if got := Decode(raw); got != nil {
			t.Fatalf("expected nil for %q, got %+v", raw, got)
		}
	}
}

func TestDecodeStringAmount(t *testing.T) {
	got := Decode(`{"paymentObject":{"payment_id":"p","amount":"49.95","posting":"cc-1","status":"charged"}}`)
	if got == nil {
		t.Fatal("expected decoded object")
	}
	if !got.Amount.Equal(decimal.RequireFromString("49.95")) {
		t.Fatalf("unexpected amount %s", got.Amount)
	}
	if !got.HasPosting() || got.Status != enums.PaymentObjectCharged {
		t.Fatalf("unexpected object %+v", got)
	}
}

func TestMergeSetsFieldAndKeepsUnknown(t *testing.T) {
	existing := `{"paymentObject":{"payment_id":"pay_1","amount":10,"posting":"undefined","status":"not charged","note":"keep"},"extra":true}`

	merged, err := Merge(existing, FieldStatus, string(enums.PaymentObjectCharged))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(merged), &out); err != nil {
		t.Fatalf("unmarshal merged: %v", err)
	}
	inner := out["paymentObject"].(map[string]any)
	if inner["status"] != "charged" || inner["note"] != "keep" || inner["payment_id"] != "pay_1" {
		t.Fatalf("unexpected merged object %+v", inner)
	}
	if out["extra"] != true {
		t.Fatalf("expected top-level unknown field to survive, got %+v", out)
	}

	decoded := Decode(merged)
	if decoded == nil || !decoded.Amount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected amount to survive merge, got %+v", decoded)
	}
}

func TestMergeCreatesWrapper(t *testing.T) {
	merged, err := Merge("", FieldPaymentID, "pay_2")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged != `{"paymentObject":{"payment_id":"pay_2"}}` {
		t.Fatalf("unexpected merged value %s", merged)
	}
}

func TestMergeRejectsMalformed(t *testing.T) {
	if _, err := Merge("{broken", FieldStatus, "charged"); err == nil {
		t.Fatal("expected error for malformed existing value")
	}
}
