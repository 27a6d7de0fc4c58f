package netseasy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/formpay/pkg/config"
	pkgerrors "github.com/angelmondragon/formpay/pkg/errors"
	"github.com/angelmondragon/formpay/pkg/logger"
)

const (
	testBaseURL = "https://test.api.dibspayment.eu"
	liveBaseURL = "https://api.dibspayment.eu"

	testCheckoutScriptURL = "https://test.checkout.dibspayment.eu/v1/checkout.js?v=1"
	liveCheckoutScriptURL = "https://checkout.dibspayment.eu/v1/checkout.js?v=1"

	integrationTypeEmbedded = "EmbeddedCheckout"
	defaultCurrency         = "DKK"
	defaultTimeout          = 30 * time.Second

	responseBodyReadLimit int64 = 4096
)

// Operation names used in logs and metrics.
const (
	OpCreatePayment   = "create_payment"
	OpRetrievePayment = "retrieve_payment"
	OpUpdateReference = "update_reference"
	OpChargePayment   = "charge_payment"
)

var (
	errSecretKeyRequired = errors.New("nets easy secret key is required")
	errPaymentIDRequired = pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
)

// Client talks to the Nets Easy payment API. It never retries; callers own retry policy.
type Client struct {
	httpClient       *http.Client
	baseURL          string
	scriptURL        string
	secretKey        string
	checkoutKey      string
	termsURL         string
	merchantTermsURL string
	currency         string
	testMode         bool
	timeout          time.Duration
	logger           *logger.Logger
	observe          func(operation string, ok bool)
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API base URL derived from test mode.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithRequestObserver registers a hook called after every gateway request.
func WithRequestObserver(fn func(operation string, ok bool)) Option {
	return func(c *Client) {
		c.observe = fn
	}
}

// NewClient builds the gateway client from the merchant configuration.
func NewClient(cfg config.GatewayConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errSecretKeyRequired
	}

	client := &Client{
		httpClient:       &http.Client{},
		baseURL:          liveBaseURL,
		scriptURL:        liveCheckoutScriptURL,
		secretKey:        secret,
		checkoutKey:      strings.TrimSpace(cfg.CheckoutKey),
		termsURL:         strings.TrimSpace(cfg.TermsURL),
		merchantTermsURL: strings.TrimSpace(cfg.MerchantTermsURL),
		currency:         strings.ToUpper(strings.TrimSpace(cfg.Currency)),
		testMode:         cfg.TestMode,
		timeout:          cfg.RequestTimeout,
		logger:           logg,
	}
	if cfg.TestMode {
		client.baseURL = testBaseURL
		client.scriptURL = testCheckoutScriptURL
	}
	if client.currency == "" {
		client.currency = defaultCurrency
	}
	if client.timeout <= 0 {
		client.timeout = defaultTimeout
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{}
	}

	return client, nil
}

// CheckoutKey returns the public key the browser widget authenticates with.
func (c *Client) CheckoutKey() string {
	if c == nil {
		return ""
	}
	return c.checkoutKey
}

// CheckoutScriptURL returns the hosted checkout script for the configured mode.
func (c *Client) CheckoutScriptURL() string {
	if c == nil {
		return ""
	}
	return c.scriptURL
}

// TestMode reports whether the client targets the test environment.
func (c *Client) TestMode() bool {
	return c != nil && c.testMode
}

// Currency returns the ISO currency used for new payments.
func (c *Client) Currency() string {
	if c == nil {
		return ""
	}
	return c.currency
}

// CreatePaymentRequest describes a new embedded checkout session.
// AmountMinor is expressed in the currency's minor unit (øre for DKK).
type CreatePaymentRequest struct {
	AmountMinor    int64
	Currency       string
	CallbackURL    string
	PaymentMethods []string
	Posting        string
}

// CreatePaymentResult carries the provider session id.
type CreatePaymentResult struct {
	PaymentID string `json:"paymentId"`
}

// Payment is the subset of the provider payment resource used by settlement.
type Payment struct {
	PaymentID      string
	CheckoutURL    string
	ReservedAmount int64
	ChargedAmount  int64
	OrderAmount    int64
	Currency       string
	OrderReference string
	// ChargeIDs lists captures already made against the payment, oldest first.
	ChargeIDs []string
}

// LastChargeID returns the most recent capture id, or "" when none exists.
func (p *Payment) LastChargeID() string {
	if p == nil || len(p.ChargeIDs) == 0 {
		return ""
	}
	return p.ChargeIDs[len(p.ChargeIDs)-1]
}

// ChargeResult carries the provider charge id. An empty ChargeID means the
// provider accepted the request without confirming a capture.
type ChargeResult struct {
	ChargeID string `json:"chargeId"`
}

type checkoutPayload struct {
	IntegrationType  string `json:"integrationType"`
	URL              string `json:"url"`
	TermsURL         string `json:"termsUrl"`
	MerchantTermsURL string `json:"merchantTermsUrl,omitempty"`
}

type paymentMethodConfig struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

type orderItemPayload struct {
	Reference        string `json:"reference"`
	Name             string `json:"name"`
	Quantity         int    `json:"quantity"`
	Unit             string `json:"unit"`
	UnitPrice        int64  `json:"unitPrice"`
	GrossTotalAmount int64  `json:"grossTotalAmount"`
	NetTotalAmount   int64  `json:"netTotalAmount"`
}

type orderPayload struct {
	Items     []orderItemPayload `json:"items"`
	Amount    int64              `json:"amount"`
	Currency  string             `json:"currency"`
	Reference string             `json:"reference"`
}

type createPaymentPayload struct {
	Checkout                    checkoutPayload       `json:"checkout"`
	PaymentMethodsConfiguration []paymentMethodConfig `json:"paymentMethodsConfiguration,omitempty"`
	Order                       orderPayload          `json:"order"`
	PaymentPosting              string                `json:"paymentPosting,omitempty"`
}

type referencePayload struct {
	CheckoutURL string `json:"checkoutUrl"`
	Reference   string `json:"reference"`
}

type chargePayload struct {
	Amount int64 `json:"amount"`
}

type paymentEnvelope struct {
	Payment struct {
		PaymentID string `json:"paymentId"`
		Summary   struct {
			ReservedAmount int64 `json:"reservedAmount"`
			ChargedAmount  int64 `json:"chargedAmount"`
		} `json:"summary"`
		OrderDetails struct {
			Amount    int64  `json:"amount"`
			Currency  string `json:"currency"`
			Reference string `json:"reference"`
		} `json:"orderDetails"`
		Checkout struct {
			URL string `json:"url"`
		} `json:"checkout"`
		Charges []struct {
			ChargeID string `json:"chargeId"`
		} `json:"charges"`
	} `json:"payment"`
}

// CreatePayment opens an embedded checkout session for a single order line.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "nets easy client not configured")
	}
	if req.AmountMinor <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if strings.TrimSpace(req.CallbackURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback url is required")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = c.currency
	}

	payload := createPaymentPayload{
		Checkout: checkoutPayload{
			IntegrationType:  integrationTypeEmbedded,
			URL:              req.CallbackURL,
			TermsURL:         c.termsURL,
			MerchantTermsURL: c.merchantTermsURL,
		},
		Order: orderPayload{
			Items: []orderItemPayload{{
				Reference:        "reference",
				Name:             "product",
				Quantity:         1,
				Unit:             "pcs",
				UnitPrice:        req.AmountMinor,
				GrossTotalAmount: req.AmountMinor,
				NetTotalAmount:   req.AmountMinor,
			}},
			Amount:    req.AmountMinor,
			Currency:  currency,
			Reference: req.Posting,
		},
		PaymentPosting: req.Posting,
	}
	for _, name := range req.PaymentMethods {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			payload.PaymentMethodsConfiguration = append(payload.PaymentMethodsConfiguration, paymentMethodConfig{Name: trimmed, Enabled: true})
		}
	}

	var result CreatePaymentResult
	if err := c.do(ctx, OpCreatePayment, http.MethodPost, "v1/payments/", payload, &result); err != nil {
		return nil, err
	}
	if strings.TrimSpace(result.PaymentID) == "" {
		return nil, c.fail(ctx, OpCreatePayment, pkgerrors.New(pkgerrors.CodeGateway, "create payment response missing paymentId"))
	}
	return &result, nil
}

// RetrievePayment reads the current provider view of a payment.
// Missing summary amounts are reported as zero.
func (c *Client) RetrievePayment(ctx context.Context, paymentID string) (*Payment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "nets easy client not configured")
	}
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return nil, errPaymentIDRequired
	}

	var env paymentEnvelope
	if err := c.do(ctx, OpRetrievePayment, http.MethodGet, "v1/payments/"+url.PathEscape(id), nil, &env); err != nil {
		return nil, err
	}
	p := env.Payment
	if p.PaymentID == "" {
		p.PaymentID = id
	}
	var chargeIDs []string
	for _, charge := range p.Charges {
		if charge.ChargeID != "" {
			chargeIDs = append(chargeIDs, charge.ChargeID)
		}
	}
	return &Payment{
		PaymentID:      p.PaymentID,
		CheckoutURL:    p.Checkout.URL,
		ReservedAmount: p.Summary.ReservedAmount,
		ChargedAmount:  p.Summary.ChargedAmount,
		OrderAmount:    p.OrderDetails.Amount,
		Currency:       p.OrderDetails.Currency,
		OrderReference: p.OrderDetails.Reference,
		ChargeIDs:      chargeIDs,
	}, nil
}

// UpdateReference attaches the checkout URL and merchant reference to a payment.
func (c *Client) UpdateReference(ctx context.Context, paymentID, checkoutURL, reference string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeConfiguration, "nets easy client not configured")
	}
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return errPaymentIDRequired
	}
	payload := referencePayload{CheckoutURL: checkoutURL, Reference: reference}
	return c.do(ctx, OpUpdateReference, http.MethodPut, "v1/payments/"+url.PathEscape(id)+"/referenceinformation", payload, nil)
}

// ChargePayment captures amountMinor of a reserved payment.
func (c *Client) ChargePayment(ctx context.Context, paymentID string, amountMinor int64) (*ChargeResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConfiguration, "nets easy client not configured")
	}
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return nil, errPaymentIDRequired
	}
	var result ChargeResult
	if err := c.do(ctx, OpChargePayment, http.MethodPost, "v1/payments/"+url.PathEscape(id)+"/charges", chargePayload{Amount: amountMinor}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return c.fail(ctx, op, pkgerrors.Wrapf(pkgerrors.CodeGateway, err, "marshal %s request", op))
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := c.buildURL(path)
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return c.fail(ctx, op, pkgerrors.Wrapf(pkgerrors.CodeGateway, err, "build %s request", op))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", c.secretKey)

	c.log(ctx, "request", op, map[string]any{"method": method, "endpoint": endpoint, "authorization": c.secretKey})

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.fail(ctx, op, pkgerrors.Wrapf(pkgerrors.CodeGateway, err, "execute %s request", op))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		statusErr := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		gwErr := pkgerrors.Wrapf(pkgerrors.CodeGateway, statusErr, "%s request failed", op).
			WithDetails(map[string]any{"status": resp.StatusCode, "endpoint": endpoint})
		return c.fail(ctx, op, gwErr)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
			return c.fail(ctx, op, pkgerrors.Wrapf(pkgerrors.CodeGateway, err, "decode %s response", op))
		}
	}

	c.log(ctx, "response", op, map[string]any{"method": method, "endpoint": endpoint, "status": resp.StatusCode})
	c.record(op, true)
	return nil
}

func (c *Client) fail(ctx context.Context, op string, err error) error {
	c.log(ctx, "error", op, map[string]any{"error": err.Error()})
	c.record(op, false)
	return err
}

func (c *Client) record(op string, ok bool) {
	if c.observe != nil {
		c.observe(op, ok)
	}
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("nets easy %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Debug(ctx, fmt.Sprintf("nets easy %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"authorization", "secret", "key", "token"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
