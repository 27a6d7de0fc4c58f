package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/formpay/api/responses"
	"github.com/angelmondragon/formpay/api/validators"
	"github.com/angelmondragon/formpay/internal/webforms"
	pkgerrors "github.com/angelmondragon/formpay/pkg/errors"
	"github.com/angelmondragon/formpay/pkg/logger"
)

type webformUpsertRequest struct {
	Title    string          `json:"title" validate:"required,max=255"`
	Elements json.RawMessage `json:"elements" validate:"required"`
}

type amountElementResponse struct {
	Key     string            `json:"key"`
	Type    string            `json:"type"`
	Title   string            `json:"title,omitempty"`
	Options map[string]string `json:"options,omitempty"`
}

// WebformUpsert stores a form definition.
func WebformUpsert(svc webforms.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webform service unavailable"))
			return
		}

		var payload webformUpsertRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		webformID := chi.URLParam(r, "webformID")
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithWebformID(ctx, webformID)
		}
		form, err := svc.Upsert(ctx, webformID, webforms.UpsertInput{
			Title:    payload.Title,
			Elements: payload.Elements,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, form)
	}
}

// WebformAmountElements lists the elements a payment element may read its amount from.
func WebformAmountElements(svc webforms.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webform service unavailable"))
			return
		}

		fields, err := svc.AmountElements(r.Context(), chi.URLParam(r, "webformID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]amountElementResponse, 0, len(fields))
		for _, f := range fields {
			out = append(out, amountElementResponse{
				Key:     f.ElementKey,
				Type:    f.ElementType,
				Title:   f.Title,
				Options: f.Options,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
