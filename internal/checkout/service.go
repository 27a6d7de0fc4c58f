// Package checkout opens provider checkout sessions and prepares the data the
// browser bridge needs on the preview page.
package checkout

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/formpay/internal/amount"
	"github.com/angelmondragon/formpay/internal/paymentobject"
	"github.com/angelmondragon/formpay/internal/submissions"
	"github.com/angelmondragon/formpay/internal/webforms"
	pkgerrors "github.com/angelmondragon/formpay/pkg/errors"
	"github.com/angelmondragon/formpay/pkg/logger"
	"github.com/angelmondragon/formpay/pkg/netseasy"
)

// MsgSessionError is shown to the payer when no session could be opened.
const MsgSessionError = "An error has occurred. Please try again later."

// SessionsPath is the create-session endpoint mounted by the API.
const SessionsPath = "/api/v1/checkout/sessions"

const defaultPaymentMethod = "Card"

type sessionGateway interface {
	CreatePayment(ctx context.Context, req netseasy.CreatePaymentRequest) (*netseasy.CreatePaymentResult, error)
	CheckoutKey() string
	CheckoutScriptURL() string
	TestMode() bool
}

type formLoader interface {
	Get(ctx context.Context, id string) (*webforms.Form, error)
}

// Service exposes checkout session operations.
type Service interface {
	CreateSession(ctx context.Context, input SessionInput) (*Session, error)
	PreviewConfig(ctx context.Context, webformID string, input PreviewInput) (*PreviewConfig, error)
}

// SessionInput carries the create-session parameters. Amount is in currency units.
type SessionInput struct {
	Amount         decimal.Decimal
	CallbackURL    string
	PaymentMethods []string
	Posting        string
}

// Session is an opened provider checkout session.
type Session struct {
	PaymentID string `json:"paymentId"`
}

// PreviewInput carries the values entered so far and the page the widget returns to.
type PreviewInput struct {
	Values      map[string]any
	CallbackURL string
}

// SessionRequest is the body the bridge posts to the create-session endpoint.
type SessionRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	CallbackURL    string          `json:"callbackUrl"`
	PaymentMethods []string        `json:"paymentMethods"`
	Posting        string          `json:"posting"`
}

// PreviewConfig is embedded into the preview page for the checkout bridge.
type PreviewConfig struct {
	WebformID        string         `json:"webformId"`
	CheckoutKey      string         `json:"checkoutKey"`
	ScriptURL        string         `json:"scriptUrl"`
	TestMode         bool           `json:"testMode"`
	CreateSessionURL string         `json:"createSessionUrl"`
	Session          SessionRequest `json:"session"`
	ErrorMessage     string         `json:"errorMessage"`
	Description      string         `json:"description,omitempty"`
	ContainerID      string         `json:"containerId"`
	ReferenceField   string         `json:"referenceField"`
}

// Params configure the checkout service.
type Params struct {
	Gateway      sessionGateway
	Forms        formLoader
	PublicURL    string
	ErrorMessage string
	Logger       *logger.Logger
}

type service struct {
	gateway      sessionGateway
	forms        formLoader
	publicURL    string
	errorMessage string
	logg         *logger.Logger
}

// NewService builds the checkout service.
func NewService(params Params) (Service, error) {
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Forms == nil {
		return nil, fmt.Errorf("webform loader required")
	}
	publicURL := strings.TrimRight(strings.TrimSpace(params.PublicURL), "/")
	if publicURL != "" {
		if _, err := url.ParseRequestURI(publicURL); err != nil {
			return nil, fmt.Errorf("invalid public url: %w", err)
		}
	}
	errorMessage := strings.TrimSpace(params.ErrorMessage)
	if errorMessage == "" {
		errorMessage = MsgSessionError
	}
	return &service{
		gateway:      params.Gateway,
		forms:        params.Forms,
		publicURL:    publicURL,
		errorMessage: errorMessage,
		logg:         params.Logger,
	}, nil
}

// CreateSession converts the amount to minor units and opens a provider session.
func (s *service) CreateSession(ctx context.Context, input SessionInput) (*Session, error) {
	if !input.Amount.IsPositive() || strings.TrimSpace(input.CallbackURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, MsgSessionError)
	}

	result, err := s.gateway.CreatePayment(ctx, netseasy.CreatePaymentRequest{
		AmountMinor:    amount.ToMinorUnits(input.Amount),
		CallbackURL:    strings.TrimSpace(input.CallbackURL),
		PaymentMethods: paymentMethods(input.PaymentMethods),
		Posting:        posting(input.Posting),
	})
	if err != nil {
		if s.logg != nil {
			s.logg.Error(s.logg.WithField(ctx, "amount", input.Amount.String()), "create checkout session failed", err)
		}
		if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, MsgSessionError)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, MsgSessionError)
	}
	return &Session{PaymentID: result.PaymentID}, nil
}

// PreviewConfig resolves the amount for the form's payment element and
// describes how the bridge should open the widget.
func (s *service) PreviewConfig(ctx context.Context, webformID string, input PreviewInput) (*PreviewConfig, error) {
	form, err := s.forms.Get(ctx, webformID)
	if err != nil {
		return nil, err
	}
	payment, err := form.Schema.FindPaymentField()
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "webform has no payment element")
	}
	if strings.TrimSpace(input.CallbackURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback url is required")
	}

	value := amount.Resolve(input.Values, payment.AmountToPay)
	if !value.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no amount to pay").
			WithDetails(map[string]any{"amount_to_pay": payment.AmountToPay})
	}

	return &PreviewConfig{
		WebformID:        form.ID,
		CheckoutKey:      s.gateway.CheckoutKey(),
		ScriptURL:        s.gateway.CheckoutScriptURL(),
		TestMode:         s.gateway.TestMode(),
		CreateSessionURL: s.publicURL + SessionsPath,
		Session: SessionRequest{
			Amount:         value,
			CallbackURL:    strings.TrimSpace(input.CallbackURL),
			PaymentMethods: payment.Methods(),
			Posting:        payment.PostingOrUndefined(),
		},
		ErrorMessage:   s.errorMessage,
		Description:    payment.CheckoutPageDescription,
		ContainerID:    "checkout-container-div",
		ReferenceField: submissions.PaymentReferenceField,
	}, nil
}

func paymentMethods(methods []string) []string {
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		if trimmed := strings.TrimSpace(m); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{defaultPaymentMethod}
	}
	return out
}

func posting(value string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return paymentobject.PostingUndefined
}
