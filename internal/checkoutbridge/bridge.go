// Package checkoutbridge drives the embedded checkout the way the preview page
// does: request a session, open the widget, and hand the completed payment id
// back to the form.
package checkoutbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/formpay/internal/checkout"
	"github.com/angelmondragon/formpay/pkg/logger"
)

const (
	defaultTimeout   = 30 * time.Second
	sessionAttempts  = 2
	maxResponseBytes = 1 << 20
)

var (
	// ErrSessionUnavailable means the endpoint answered without a session id.
	// The widget is not opened and the form cannot be paid.
	ErrSessionUnavailable = errors.New("checkout session unavailable")
	// ErrPaymentMismatch means a completion event referred to another session.
	ErrPaymentMismatch = errors.New("payment id mismatch")
	// ErrNotStarted means no session has been opened yet.
	ErrNotStarted = errors.New("checkout not started")
)

// FatalError halts the checkout. Message is shown to the payer.
type FatalError struct {
	Message string
	Err     error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// WidgetOptions bind the hosted widget to a session.
type WidgetOptions struct {
	CheckoutKey string
	PaymentID   string
	ContainerID string
}

// Widget opens the provider's hosted checkout.
type Widget interface {
	Open(ctx context.Context, opts WidgetOptions) error
}

// Form is the page form the payment id is written into.
type Form interface {
	SetField(name, value string)
	Submit(ctx context.Context) error
}

// CompletedEvent is emitted by the widget once funds are reserved.
type CompletedEvent struct {
	PaymentID string `json:"paymentId"`
}

type sessionEnvelope struct {
	Data *struct {
		PaymentID string `json:"paymentId"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Option customises a Bridge.
type Option func(*Bridge)

// WithHTTPClient overrides the client used for the create-session request.
func WithHTTPClient(client *http.Client) Option {
	return func(b *Bridge) {
		if client != nil {
			b.httpClient = client
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logg *logger.Logger) Option {
	return func(b *Bridge) {
		b.logg = logg
	}
}

// Bridge holds the state of one checkout on one page.
type Bridge struct {
	cfg        checkout.PreviewConfig
	widget     Widget
	form       Form
	httpClient *http.Client
	logg       *logger.Logger

	mu        sync.Mutex
	sessionID string
}

// New validates the preview config and builds a bridge.
func New(cfg checkout.PreviewConfig, widget Widget, form Form, opts ...Option) (*Bridge, error) {
	if strings.TrimSpace(cfg.CreateSessionURL) == "" {
		return nil, fmt.Errorf("create session url required")
	}
	if strings.TrimSpace(cfg.CheckoutKey) == "" {
		return nil, fmt.Errorf("checkout key required")
	}
	if widget == nil {
		return nil, fmt.Errorf("widget required")
	}
	if form == nil {
		return nil, fmt.Errorf("form required")
	}
	if strings.TrimSpace(cfg.ErrorMessage) == "" {
		cfg.ErrorMessage = checkout.MsgSessionError
	}
	if strings.TrimSpace(cfg.ReferenceField) == "" {
		return nil, fmt.Errorf("reference field required")
	}
	b := &Bridge{
		cfg:        cfg,
		widget:     widget,
		form:       form,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// SessionID returns the session opened by Start.
func (b *Bridge) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessionID
}

// Start requests a session and opens the widget. A transport failure is
// retried once before a *FatalError is returned. Both attempts share one
// Idempotency-Key, so a retry of a request the server did receive returns
// the same session.
func (b *Bridge) Start(ctx context.Context) error {
	body, err := json.Marshal(b.cfg.Session)
	if err != nil {
		return fmt.Errorf("encode session request: %w", err)
	}
	key := uuid.NewString()

	var env *sessionEnvelope
	var lastErr error
	for attempt := 1; attempt <= sessionAttempts; attempt++ {
		env, lastErr = b.requestSession(ctx, body, key)
		if lastErr == nil {
			break
		}
		if b.logg != nil {
			b.logg.Warn(b.logg.WithFields(ctx, map[string]any{
				"attempt": attempt,
				"error":   lastErr.Error(),
			}), "checkout session request failed")
		}
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr != nil {
		return &FatalError{Message: b.cfg.ErrorMessage, Err: lastErr}
	}

	if env.Data == nil || strings.TrimSpace(env.Data.PaymentID) == "" {
		reason := "missing payment id"
		if env.Error != nil && env.Error.Message != "" {
			reason = env.Error.Message
		}
		if b.logg != nil {
			b.logg.Warn(b.logg.WithField(ctx, "reason", reason), "checkout session unavailable")
		}
		return fmt.Errorf("%w: %s", ErrSessionUnavailable, reason)
	}

	paymentID := strings.TrimSpace(env.Data.PaymentID)
	b.mu.Lock()
	b.sessionID = paymentID
	b.mu.Unlock()

	return b.widget.Open(ctx, WidgetOptions{
		CheckoutKey: b.cfg.CheckoutKey,
		PaymentID:   paymentID,
		ContainerID: b.cfg.ContainerID,
	})
}

// HandleCompleted writes the payment id into the form and submits it, but only
// when the event belongs to the session this bridge opened.
func (b *Bridge) HandleCompleted(ctx context.Context, event CompletedEvent) error {
	requested := b.SessionID()
	if requested == "" {
		return ErrNotStarted
	}
	if strings.TrimSpace(event.PaymentID) != requested {
		if b.logg != nil {
			b.logg.Warn(b.logg.WithFields(ctx, map[string]any{
				"requestedPaymentId": requested,
				"completedPaymentId": event.PaymentID,
			}), "payment id mismatch")
		}
		return ErrPaymentMismatch
	}
	b.form.SetField(b.cfg.ReferenceField, requested)
	return b.form.Submit(ctx)
}

// requestSession returns an error only for transport failures. Any decoded
// response, including an error envelope, is returned to the caller.
func (b *Bridge) requestSession(ctx context.Context, body []byte, idempotencyKey string) (*sessionEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.CreateSessionURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	var env sessionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &sessionEnvelope{}, nil
	}
	return &env, nil
}
