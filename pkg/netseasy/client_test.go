package netseasy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/formpay/pkg/config"
	pkgerrors "github.com/angelmondragon/formpay/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func newTestClient(t *testing.T, rt roundTripFunc, opts ...Option) *Client {
	t.Helper()
	cfg := config.GatewayConfig{
		SecretKey:        "secret-123",
		CheckoutKey:      "checkout-abc",
		TestMode:         true,
		TermsURL:         "https://forms.test/terms",
		MerchantTermsURL: "https://forms.test/merchant-terms",
		RequestTimeout:   5 * time.Second,
	}
	opts = append([]Option{WithHTTPClient(&http.Client{Transport: rt})}, opts...)
	client, err := NewClient(cfg, nil, opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRequiresSecret(t *testing.T) {
	if _, err := NewClient(config.GatewayConfig{SecretKey: "  "}, nil); err == nil {
		t.Fatal("expected error for missing secret key")
	}
}

func TestNewClientModeSelection(t *testing.T) {
	live, err := NewClient(config.GatewayConfig{SecretKey: "k"}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if live.baseURL != liveBaseURL || live.CheckoutScriptURL() != liveCheckoutScriptURL {
		t.Fatalf("expected live endpoints, got %q %q", live.baseURL, live.CheckoutScriptURL())
	}
	if live.Currency() != "DKK" {
		t.Fatalf("expected default DKK currency, got %q", live.Currency())
	}
	if live.timeout != defaultTimeout {
		t.Fatalf("expected default timeout, got %v", live.timeout)
	}

	test, err := NewClient(config.GatewayConfig{SecretKey: "k", TestMode: true, Currency: "sek"}, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if test.baseURL != testBaseURL || test.CheckoutScriptURL() != testCheckoutScriptURL {
		t.Fatalf("expected test endpoints, got %q %q", test.baseURL, test.CheckoutScriptURL())
	}
	if !test.TestMode() || test.Currency() != "SEK" {
		t.Fatalf("unexpected test client state mode=%v currency=%q", test.TestMode(), test.Currency())
	}
}

func TestCreatePaymentRequest(t *testing.T) {
	var captured *http.Request
	var payload map[string]any

	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		captured = req
		body, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		return jsonResponse(http.StatusCreated, `{"paymentId":"pay_1"}`), nil
	})

	result, err := client.CreatePayment(context.Background(), CreatePaymentRequest{
		AmountMinor:    12550,
		CallbackURL:    "https://forms.test/form/donation",
		PaymentMethods: []string{"Card", " ", "MobilePay"},
		Posting:        "cost-center-7",
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if result.PaymentID != "pay_1" {
		t.Fatalf("unexpected payment id %q", result.PaymentID)
	}
	if captured.Method != http.MethodPost || captured.URL.String() != testBaseURL+"/v1/payments/" {
		t.Fatalf("unexpected request %s %s", captured.Method, captured.URL.String())
	}
	if got := captured.Header.Get("Authorization"); got != "secret-123" {
		t.Fatalf("expected raw secret key authorization, got %q", got)
	}
	if captured.Header.Get("Content-Type") != "application/json" || captured.Header.Get("Accept") != "application/json" {
		t.Fatalf("unexpected content headers %v", captured.Header)
	}

	checkout := payload["checkout"].(map[string]any)
	if checkout["integrationType"] != "EmbeddedCheckout" || checkout["url"] != "https://forms.test/form/donation" {
		t.Fatalf("unexpected checkout block %+v", checkout)
	}
	if checkout["termsUrl"] != "https://forms.test/terms" || checkout["merchantTermsUrl"] != "https://forms.test/merchant-terms" {
		t.Fatalf("unexpected terms urls %+v", checkout)
	}

	methods := payload["paymentMethodsConfiguration"].([]any)
	if len(methods) != 2 {
		t.Fatalf("expected blank payment method to be skipped, got %+v", methods)
	}
	first := methods[0].(map[string]any)
	if first["name"] != "Card" || first["enabled"] != true {
		t.Fatalf("unexpected payment method %+v", first)
	}

	order := payload["order"].(map[string]any)
	if order["amount"].(float64) != 12550 || order["currency"] != "DKK" || order["reference"] != "cost-center-7" {
		t.Fatalf("unexpected order %+v", order)
	}
	items := order["items"].([]any)
	item := items[0].(map[string]any)
	for _, field := range []string{"unitPrice", "grossTotalAmount", "netTotalAmount"} {
		if item[field].(float64) != 12550 {
			t.Fatalf("expected %s 12550, got %v", field, item[field])
		}
	}
	if payload["paymentPosting"] != "cost-center-7" {
		t.Fatalf("unexpected payment posting %v", payload["paymentPosting"])
	}
}

func TestCreatePaymentValidatesInput(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})

	_, err := client.CreatePayment(context.Background(), CreatePaymentRequest{AmountMinor: 0, CallbackURL: "https://x"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for zero amount, got %v", err)
	}
	_, err = client.CreatePayment(context.Background(), CreatePaymentRequest{AmountMinor: 100})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for missing callback, got %v", err)
	}
}

func TestCreatePaymentMissingPaymentID(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusCreated, `{}`), nil
	})

	_, err := client.CreatePayment(context.Background(), CreatePaymentRequest{AmountMinor: 100, CallbackURL: "https://x"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestRetrievePayment(t *testing.T) {
	respBody := `{"payment":{"paymentId":"pay_1","summary":{"reservedAmount":12550},"orderDetails":{"amount":12550,"currency":"DKK","reference":"cost-center-7"},"checkout":{"url":"https://forms.test/form/donation"}}}`
	var capturedURL string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		if req.Method != http.MethodGet {
			t.Fatalf("unexpected method %s", req.Method)
		}
		return jsonResponse(http.StatusOK, respBody), nil
	})

	payment, err := client.RetrievePayment(context.Background(), "pay_1")
	if err != nil {
		t.Fatalf("retrieve payment: %v", err)
	}
	if capturedURL != testBaseURL+"/v1/payments/pay_1" {
		t.Fatalf("unexpected url %q", capturedURL)
	}
	if payment.ReservedAmount != 12550 || payment.ChargedAmount != 0 {
		t.Fatalf("unexpected amounts %+v", payment)
	}
	if payment.CheckoutURL != "https://forms.test/form/donation" || payment.OrderReference != "cost-center-7" {
		t.Fatalf("unexpected payment %+v", payment)
	}
}

func TestRetrievePaymentReadsCharges(t *testing.T) {
	respBody := `{"payment":{"paymentId":"pay_2","summary":{"reservedAmount":12550,"chargedAmount":12550},"charges":[{"chargeId":"ch_1","amount":5000},{"chargeId":""},{"chargeId":"ch_2","amount":7550}]}}`
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, respBody), nil
	})

	payment, err := client.RetrievePayment(context.Background(), "pay_2")
	if err != nil {
		t.Fatalf("retrieve payment: %v", err)
	}
	if len(payment.ChargeIDs) != 2 || payment.LastChargeID() != "ch_2" {
		t.Fatalf("unexpected charges %v", payment.ChargeIDs)
	}
	if (&Payment{}).LastChargeID() != "" {
		t.Fatal("expected no charge id without captures")
	}
}

func TestRetrievePaymentRequiresID(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	if _, err := client.RetrievePayment(context.Background(), " "); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateReference(t *testing.T) {
	var payload referencePayload
	var captured *http.Request
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		captured = req
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return jsonResponse(http.StatusNoContent, ""), nil
	})

	if err := client.UpdateReference(context.Background(), "pay_1", "https://forms.test/form/donation", "donation:42:cost-center-7"); err != nil {
		t.Fatalf("update reference: %v", err)
	}
	if captured.Method != http.MethodPut || captured.URL.Path != "/v1/payments/pay_1/referenceinformation" {
		t.Fatalf("unexpected request %s %s", captured.Method, captured.URL.Path)
	}
	if payload.CheckoutURL != "https://forms.test/form/donation" || payload.Reference != "donation:42:cost-center-7" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestChargePayment(t *testing.T) {
	var payload chargePayload
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1/payments/pay_1/charges" {
			t.Fatalf("unexpected path %q", req.URL.Path)
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return jsonResponse(http.StatusCreated, `{"chargeId":"chg_1"}`), nil
	})

	result, err := client.ChargePayment(context.Background(), "pay_1", 12550)
	if err != nil {
		t.Fatalf("charge payment: %v", err)
	}
	if result.ChargeID != "chg_1" || payload.Amount != 12550 {
		t.Fatalf("unexpected charge result=%+v payload=%+v", result, payload)
	}
}

func TestGatewayFailuresAreWrapped(t *testing.T) {
	var observed []string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadRequest, `{"errors":{"amount":["invalid"]}}`), nil
	}, WithRequestObserver(func(op string, ok bool) {
		if !ok {
			observed = append(observed, op)
		}
	}))

	_, err := client.ChargePayment(context.Background(), "pay_1", 100)
	if !pkgerrors.IsCode(err, pkgerrors.CodeGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	if !ok || details["status"] != http.StatusBadRequest {
		t.Fatalf("expected status detail, got %#v", pkgerrors.As(err).Details())
	}
	if len(observed) != 1 || observed[0] != OpChargePayment {
		t.Fatalf("expected failure observation, got %v", observed)
	}
}

func TestTransportAndDecodeFailures(t *testing.T) {
	transport := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})
	if _, err := transport.RetrievePayment(context.Background(), "pay_1"); !pkgerrors.IsCode(err, pkgerrors.CodeGateway) {
		t.Fatalf("expected gateway error for transport failure, got %v", err)
	}

	malformed := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"payment":`), nil
	})
	if _, err := malformed.RetrievePayment(context.Background(), "pay_1"); !pkgerrors.IsCode(err, pkgerrors.CodeGateway) {
		t.Fatalf("expected gateway error for malformed body, got %v", err)
	}
}

func TestWithBaseURLOverride(t *testing.T) {
	var capturedURL string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		return jsonResponse(http.StatusOK, `{"payment":{}}`), nil
	}, WithBaseURL("http://nets.local/"))

	payment, err := client.RetrievePayment(context.Background(), "pay_9")
	if err != nil {
		t.Fatalf("retrieve payment: %v", err)
	}
	if capturedURL != "http://nets.local/v1/payments/pay_9" {
		t.Fatalf("unexpected url %q", capturedURL)
	}
	if payment.PaymentID != "pay_9" {
		t.Fatalf("expected payment id fallback, got %q", payment.PaymentID)
	}
}

func TestRedact(t *testing.T) {
	if redact("authorization", "secret") != "[REDACTED]" {
		t.Fatal("expected authorization to be redacted")
	}
	if redact("endpoint", "https://x") != "https://x" {
		t.Fatal("expected endpoint to pass through")
	}
}
