package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/formpay/api/responses"
	"github.com/angelmondragon/formpay/api/validators"
	"github.com/angelmondragon/formpay/internal/submissions"
	pkgerrors "github.com/angelmondragon/formpay/pkg/errors"
	"github.com/angelmondragon/formpay/pkg/logger"
)

type submissionRequest struct {
	Data             map[string]any `json:"data" validate:"required"`
	PaymentReference string         `json:"os2forms_payment_reference_field" validate:"max=64"`
}

type submissionResponse struct {
	SubmissionID int64            `json:"submission_id"`
	WebformID    string           `json:"webform_id"`
	Serial       int              `json:"serial"`
	Payment      *paymentResponse `json:"payment,omitempty"`
}

type paymentResponse struct {
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Posting   string          `json:"posting"`
	Status    string          `json:"status"`
}

// SubmissionCreate accepts a payer's submission and stamps its payment object.
func SubmissionCreate(svc submissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "submission service unavailable"))
			return
		}

		var payload submissionRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		webformID := chi.URLParam(r, "webformID")
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithWebformID(ctx, webformID)
			if ref := strings.TrimSpace(payload.PaymentReference); ref != "" {
				ctx = logg.WithPaymentID(ctx, ref)
			}
		}

		result, err := svc.Submit(ctx, webformID, submissions.SubmitInput{
			Data:             payload.Data,
			PaymentReference: payload.PaymentReference,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		resp := submissionResponse{
			SubmissionID: result.SubmissionID,
			WebformID:    result.WebformID,
			Serial:       result.Serial,
		}
		if obj := result.PaymentObject; obj != nil {
			resp.Payment = &paymentResponse{
				PaymentID: obj.PaymentID,
				Amount:    obj.Amount,
				Posting:   obj.Posting,
				Status:    string(obj.Status),
			}
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, resp)
	}
}

// SubmissionPayment shows the payment object stored on a submission.
func SubmissionPayment(svc submissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "submission service unavailable"))
			return
		}

		submissionID, err := strconv.ParseInt(chi.URLParam(r, "submissionID"), 10, 64)
		if err != nil || submissionID <= 0 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid submission id"))
			return
		}

		view, err := svc.PaymentView(r.Context(), chi.URLParam(r, "webformID"), submissionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}
