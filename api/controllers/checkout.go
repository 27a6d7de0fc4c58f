package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/formpay/api/responses"
	"github.com/angelmondragon/formpay/api/validators"
	checkoutsvc "github.com/angelmondragon/formpay/internal/checkout"
	pkgerrors "github.com/angelmondragon/formpay/pkg/errors"
	"github.com/angelmondragon/formpay/pkg/logger"
)

type checkoutSessionRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	CallbackURL    string          `json:"callbackUrl" validate:"omitempty,url"`
	PaymentMethods []string        `json:"paymentMethods" validate:"max=10,dive,payment_method"`
	Posting        string          `json:"posting" validate:"max=128"`
}

type checkoutConfigRequest struct {
	Values      map[string]any `json:"values"`
	CallbackURL string         `json:"callbackUrl" validate:"required,url"`
}

// CheckoutSession opens a provider checkout session for the bridge.
func CheckoutSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutSessionRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.CreateSession(r.Context(), checkoutsvc.SessionInput{
			Amount:         payload.Amount,
			CallbackURL:    payload.CallbackURL,
			PaymentMethods: payload.PaymentMethods,
			Posting:        payload.Posting,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

// CheckoutConfig returns what the preview page embeds for the bridge.
func CheckoutConfig(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutConfigRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		webformID := chi.URLParam(r, "webformID")
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithWebformID(ctx, webformID)
		}
		cfg, err := svc.PreviewConfig(ctx, webformID, checkoutsvc.PreviewInput{
			Values:      payload.Values,
			CallbackURL: payload.CallbackURL,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, cfg)
	}
}
