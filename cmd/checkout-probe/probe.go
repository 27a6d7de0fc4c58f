package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/formpay/internal/checkout"
	"github.com/angelmondragon/formpay/internal/checkoutbridge"
	"github.com/angelmondragon/formpay/pkg/logger"
)

const maxBodyBytes = 1 << 20

type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *apiClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
	}
	if env.Error != nil {
		return fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (c *apiClient) checkoutConfig(ctx context.Context, webformID string, values map[string]any, callbackURL string) (*checkout.PreviewConfig, error) {
	var cfg checkout.PreviewConfig
	body := map[string]any{"values": values, "callbackUrl": callbackURL}
	path := "/api/v1/webforms/" + url.PathEscape(webformID) + "/checkout-config"
	if err := c.post(ctx, path, body, &cfg); err != nil {
		return nil, fmt.Errorf("checkout config: %w", err)
	}
	return &cfg, nil
}

// logWidget stands in for the hosted widget and records the session it was opened with.
type logWidget struct {
	logg   *logger.Logger
	opened checkoutbridge.WidgetOptions
}

func (w *logWidget) Open(ctx context.Context, opts checkoutbridge.WidgetOptions) error {
	w.opened = opts
	w.logg.Info(w.logg.WithFields(ctx, map[string]any{
		"payment_id":   opts.PaymentID,
		"container_id": opts.ContainerID,
	}), "checkout widget opened")
	return nil
}

// submissionForm posts the collected values as a webform submission.
type submissionForm struct {
	client    *apiClient
	webformID string
	values    map[string]any
	fields    map[string]string
	result    map[string]any
}

func newSubmissionForm(client *apiClient, webformID string, values map[string]any) *submissionForm {
	return &submissionForm{client: client, webformID: webformID, values: values, fields: map[string]string{}}
}

func (f *submissionForm) SetField(name, value string) {
	f.fields[name] = value
}

func (f *submissionForm) Submit(ctx context.Context) error {
	body := map[string]any{"data": f.values}
	for name, value := range f.fields {
		body[name] = value
	}
	path := "/api/v1/webforms/" + url.PathEscape(f.webformID) + "/submissions"
	return f.client.post(ctx, path, body, &f.result)
}

func parseValues(raw string) (map[string]any, error) {
	values := map[string]any{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return values, nil
	}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("values must be a json object: %w", err)
	}
	return values, nil
}
