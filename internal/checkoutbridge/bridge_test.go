package checkoutbridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/formpay/internal/checkout"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (fn roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return fn(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

type recordingWidget struct {
	opened []WidgetOptions
}

func (w *recordingWidget) Open(ctx context.Context, opts WidgetOptions) error {
	w.opened = append(w.opened, opts)
	return nil
}

type recordingForm struct {
	fields    map[string]string
	submitted int
}

func (f *recordingForm) SetField(name, value string) {
	if f.fields == nil {
		f.fields = map[string]string{}
	}
	f.fields[name] = value
}

func (f *recordingForm) Submit(ctx context.Context) error {
	f.submitted++
	return nil
}

func previewConfig() checkout.PreviewConfig {
	return checkout.PreviewConfig{
		WebformID:        "donation",
		CheckoutKey:      "test-checkout-key",
		CreateSessionURL: "https://forms.example.com/api/v1/checkout/sessions",
		Session: checkout.SessionRequest{
			Amount:         decimal.NewFromInt(250),
			CallbackURL:    "https://forms.example.com/form/donation",
			PaymentMethods: []string{"Card"},
			Posting:        "undefined",
		},
		ErrorMessage:   "The payment window could not be loaded. Please try again later.",
		ContainerID:    "checkout-container-div",
		ReferenceField: "os2forms_payment_reference_field",
	}
}

func newBridge(t *testing.T, rt roundTripFunc) (*Bridge, *recordingWidget, *recordingForm) {
	t.Helper()
	widget := &recordingWidget{}
	form := &recordingForm{}
	b, err := New(previewConfig(), widget, form, WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new bridge: %v", err)
	}
	return b, widget, form
}

func TestStartOpensWidget(t *testing.T) {
	var got checkout.SessionRequest
	b, widget, _ := newBridge(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", req.Method)
		}
		if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"data":{"paymentId":"pay-1"}}`), nil
	})

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !got.Amount.Equal(decimal.NewFromInt(250)) || got.CallbackURL == "" {
		t.Fatalf("unexpected session request %+v", got)
	}
	if len(widget.opened) != 1 {
		t.Fatalf("expected widget to open once, got %d", len(widget.opened))
	}
	opened := widget.opened[0]
	if opened.PaymentID != "pay-1" || opened.CheckoutKey != "test-checkout-key" || opened.ContainerID != "checkout-container-div" {
		t.Fatalf("unexpected widget options %+v", opened)
	}
}

func TestStartRetriesTransportFailureOnce(t *testing.T) {
	calls := 0
	var keys []string
	b, widget, _ := newBridge(t, func(req *http.Request) (*http.Response, error) {
		calls++
		keys = append(keys, req.Header.Get("Idempotency-Key"))
		if calls == 1 {
			return nil, errors.New("connection reset")
		}
		return jsonResponse(http.StatusOK, `{"data":{"paymentId":"pay-2"}}`), nil
	})

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(widget.opened) != 1 || b.SessionID() != "pay-2" {
		t.Fatalf("expected session pay-2 to open, got %q", b.SessionID())
	}
	if keys[0] == "" || keys[0] != keys[1] {
		t.Fatalf("expected retry to reuse the idempotency key, got %q", keys)
	}
}

func TestStartFailsAfterSecondTransportFailure(t *testing.T) {
	calls := 0
	b, widget, _ := newBridge(t, func(req *http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("connection refused")
	})

	err := b.Start(context.Background())
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if fatal.Message != "The payment window could not be loaded. Please try again later." {
		t.Fatalf("unexpected fatal message %q", fatal.Message)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", calls)
	}
	if len(widget.opened) != 0 {
		t.Fatalf("widget must not open")
	}
}

func TestStartErrorEnvelopeIsNotRetried(t *testing.T) {
	calls := 0
	b, widget, _ := newBridge(t, func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusBadGateway, `{"error":{"code":"GATEWAY_ERROR","message":"payment gateway request failed"}}`), nil
	})

	err := b.Start(context.Background())
	if !errors.Is(err, ErrSessionUnavailable) {
		t.Fatalf("expected session unavailable, got %v", err)
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		t.Fatalf("error envelope must not be fatal")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if len(widget.opened) != 0 {
		t.Fatalf("widget must not open")
	}
}

func TestHandleCompletedSubmitsMatchingPayment(t *testing.T) {
	b, _, form := newBridge(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"data":{"paymentId":"pay-1"}}`), nil
	})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := b.HandleCompleted(context.Background(), CompletedEvent{PaymentID: "pay-1"}); err != nil {
		t.Fatalf("handle completed: %v", err)
	}
	if form.fields["os2forms_payment_reference_field"] != "pay-1" {
		t.Fatalf("expected reference field to carry pay-1, got %v", form.fields)
	}
	if form.submitted != 1 {
		t.Fatalf("expected one submit, got %d", form.submitted)
	}
}

func TestHandleCompletedRejectsMismatch(t *testing.T) {
	b, _, form := newBridge(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"data":{"paymentId":"pay-1"}}`), nil
	})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	err := b.HandleCompleted(context.Background(), CompletedEvent{PaymentID: "pay-stale"})
	if !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	if form.submitted != 0 || len(form.fields) != 0 {
		t.Fatalf("form must be left untouched")
	}
}

func TestHandleCompletedBeforeStart(t *testing.T) {
	b, _, _ := newBridge(t, func(req *http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})
	if err := b.HandleCompleted(context.Background(), CompletedEvent{PaymentID: "pay-1"}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected not started, got %v", err)
	}
}
