package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/formpay/pkg/errors"
)

type sessionBody struct {
	CallbackURL    string   `json:"callbackUrl" validate:"required,url"`
	PaymentMethods []string `json:"paymentMethods" validate:"max=3,dive,payment_method"`
	Posting        string   `json:"posting" validate:"max=64"`
}

func decode(t *testing.T, body, contentType string) (sessionBody, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	var dest sessionBody
	err := DecodeJSONBody(httptest.NewRecorder(), req, &dest)
	return dest, err
}

func fieldDetails(t *testing.T, err error) map[string]string {
	t.Helper()
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %T", typed.Details())
	}
	return details
}

func TestDecodeJSONBodyAccepts(t *testing.T) {
	body, err := decode(t, `{"callbackUrl":"https://forms.example.com/form/donation","paymentMethods":["Card"," "],"posting":"cc-42"}`, "application/json; charset=utf-8")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Posting != "cc-42" || len(body.PaymentMethods) != 2 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	cases := map[string]struct {
		body        string
		contentType string
	}{
		"unknown field":  {body: `{"callbackUrl":"https://forms.example.com","extra":true}`},
		"trailing data":  {body: `{"callbackUrl":"https://forms.example.com"} {}`},
		"empty body":     {body: ``},
		"not json":       {body: `callbackUrl=x`, contentType: "application/x-www-form-urlencoded"},
		"oversized body": {body: `{"posting":"` + strings.Repeat("x", MaxBodyBytes) + `"}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decode(t, tc.body, tc.contentType)
			if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	_, err := decode(t, `{"callbackUrl":"not a url"}`, "")
	details := fieldDetails(t, err)
	if details["callbackUrl"] != "must be a valid url" {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestDecodeJSONBodyReportsPaymentMethodIndex(t *testing.T) {
	_, err := decode(t, `{"callbackUrl":"https://forms.example.com","paymentMethods":["Card","card; drop"]}`, "")
	details := fieldDetails(t, err)
	if details["paymentMethods[1]"] != "must be a payment method name" {
		t.Fatalf("unexpected details %v", details)
	}
}
