package settlement

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/formpay/internal/submissions"
	"github.com/angelmondragon/formpay/pkg/db/models"
	"github.com/angelmondragon/formpay/pkg/enums"
	pkgerrors "github.com/angelmondragon/formpay/pkg/errors"
	"github.com/angelmondragon/formpay/pkg/netseasy"
	"github.com/angelmondragon/formpay/pkg/outbox"
	"github.com/angelmondragon/formpay/pkg/outbox/payloads"
)

type stubGateway struct {
	payment     *netseasy.Payment
	retrieveErr error
	updateErr   error
	charge      *netseasy.ChargeResult
	chargeErr   error

	retrieveCalls int
	updateCalls   int
	chargeCalls   int
	lastReference string
	lastCharge    int64
}

func (g *stubGateway) RetrievePayment(_ context.Context, paymentID string) (*netseasy.Payment, error) {
	g.retrieveCalls++
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	if g.payment == nil {
		return nil, nil
	}
	p := *g.payment
	p.PaymentID = paymentID
	return &p, nil
}

func (g *stubGateway) UpdateReference(_ context.Context, _ string, _ string, reference string) error {
	g.updateCalls++
	g.lastReference = reference
	return g.updateErr
}

func (g *stubGateway) ChargePayment(_ context.Context, _ string, amountMinor int64) (*netseasy.ChargeResult, error) {
	g.chargeCalls++
	g.lastCharge = amountMinor
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	return g.charge, nil
}

type stubStatus struct {
	statuses []enums.PaymentObjectStatus
	err      error
}

func (s *stubStatus) SetPaymentStatus(_ context.Context, submissionID int64, status enums.PaymentObjectStatus, hook submissions.StatusHook) (*submissions.StatusChange, error) {
	if s.err != nil {
		return nil, s.err
	}
	change := submissions.StatusChange{SubmissionID: submissionID, WebformID: "contact_form", Status: status}
	if hook != nil {
		if err := hook(nil, change); err != nil {
			return nil, err
		}
	}
	s.statuses = append(s.statuses, status)
	return &change, nil
}

type stubFinder struct {
	sub *models.Submission
}

func (f *stubFinder) FindByID(_ context.Context, id int64) (*models.Submission, error) {
	if f.sub == nil || f.sub.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	return f.sub, nil
}

type recordedEvents struct {
	events []outbox.DomainEvent
}

func (r *recordedEvents) EmitIfNotExists(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

type checkpoints struct {
	saved []Payload
	err   error
}

func (c *checkpoints) save(_ context.Context, _ *gorm.DB, _ uuid.UUID, payload Payload) error {
	if c.err != nil {
		return c.err
	}
	c.saved = append(c.saved, payload)
	return nil
}

type handlerFixture struct {
	handler *Handler
	gateway *stubGateway
	status  *stubStatus
	events  *recordedEvents
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gateway := &stubGateway{
		payment: &netseasy.Payment{
			CheckoutURL:    "https://forms.example.com/checkout",
			ReservedAmount: 25000,
			OrderReference: "dept-7",
		},
		charge: &netseasy.ChargeResult{ChargeID: "C1"},
	}
	status := &stubStatus{}
	events := &recordedEvents{}
	handler, err := NewHandler(HandlerParams{
		Gateway:     gateway,
		Submissions: status,
		Finder:      &stubFinder{sub: &models.Submission{ID: 42, WebformID: "contact_form", Serial: 3}},
		Events:      events,
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return &handlerFixture{handler: handler, gateway: gateway, status: status, events: events}
}

func TestReferenceValue(t *testing.T) {
	if got := ReferenceValue("contact_form", 42, "dept-7"); got != "contact_form:42:dept-7" {
		t.Fatalf("unexpected reference %q", got)
	}
	if got := ReferenceValue("contact_form", 42, "undefined"); got != "contact_form:42" {
		t.Fatalf("unexpected reference %q", got)
	}
	if got := ReferenceValue("contact_form", 42, ""); got != "contact_form:42" {
		t.Fatalf("unexpected reference %q", got)
	}
}

func TestProcessRunsAllStages(t *testing.T) {
	f := newHandlerFixture(t)
	cp := &checkpoints{}
	job := &Job{ID: uuid.New(), Payload: NewPayload(42, "P1")}

	if err := f.handler.Process(context.Background(), job, cp.save); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(cp.saved) != 3 {
		t.Fatalf("expected 3 checkpoints, got %d", len(cp.saved))
	}
	for i, want := range []enums.SettlementStage{enums.StageRetrieved, enums.StageReferenceAttached, enums.StageCharged} {
		if cp.saved[i].Stage != want {
			t.Fatalf("checkpoint %d: expected stage %s, got %s", i, want, cp.saved[i].Stage)
		}
	}
	if ref := cp.saved[0].PaymentReferenceValue; ref != "contact_form:42:dept-7" {
		t.Fatalf("unexpected reference %q", ref)
	}
	if f.gateway.lastReference != "contact_form:42:dept-7" {
		t.Fatalf("unexpected reference sent %q", f.gateway.lastReference)
	}
	if f.gateway.lastCharge != 25000 {
		t.Fatalf("expected charge of 25000, got %d", f.gateway.lastCharge)
	}
	if job.Payload.Stage != enums.StageCharged || job.Payload.ReservedAmount != nil || job.Payload.CheckoutURL != nil {
		t.Fatalf("unexpected final payload %+v", job.Payload)
	}
	if len(f.status.statuses) != 1 || f.status.statuses[0] != enums.PaymentObjectCharged {
		t.Fatalf("unexpected statuses %v", f.status.statuses)
	}
	if len(f.events.events) != 1 || f.events.events[0].EventType != enums.EventPaymentCharged {
		t.Fatalf("expected one charged event, got %+v", f.events.events)
	}
	data, ok := f.events.events[0].Data.(payloads.PaymentChargedEvent)
	if !ok || data.ChargeID != "C1" || data.AmountMinor != 25000 || data.WebformID != "contact_form" {
		t.Fatalf("unexpected event data %+v", f.events.events[0].Data)
	}
}

func TestProcessResumesFromStoredStage(t *testing.T) {
	f := newHandlerFixture(t)
	cp := &checkpoints{}
	payload := NewPayload(42, "P1")
	payload.Stage = enums.StageRetrieved
	payload.CheckoutURL = stringPtr("https://forms.example.com/checkout")
	payload.ReservedAmount = int64Ptr(25000)
	payload.ChargedAmount = int64Ptr(0)
	payload.PaymentReferenceValue = "contact_form:42"
	job := &Job{ID: uuid.New(), Payload: payload}

	if err := f.handler.Process(context.Background(), job, cp.save); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.gateway.retrieveCalls != 1 {
		t.Fatalf("expected only the pre-charge provider check, got %d retrievals", f.gateway.retrieveCalls)
	}
	if f.gateway.updateCalls != 1 || f.gateway.lastReference != "contact_form:42" {
		t.Fatalf("expected stored reference to be attached, got %q", f.gateway.lastReference)
	}
	if f.gateway.chargeCalls != 1 {
		t.Fatalf("expected one charge, got %d", f.gateway.chargeCalls)
	}
}

func TestProcessRetrieveFailureHasNoSideEffects(t *testing.T) {
	f := newHandlerFixture(t)
	f.gateway.retrieveErr = pkgerrors.New(pkgerrors.CodeGateway, "nets easy request failed")
	cp := &checkpoints{}
	job := &Job{ID: uuid.New(), Payload: NewPayload(42, "P1")}

	err := f.handler.Process(context.Background(), job, cp.save)
	if err == nil || IsPermanent(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if len(cp.saved) != 0 || len(f.status.statuses) != 0 {
		t.Fatal("expected no checkpoint or status change")
	}
	if job.Payload.Stage != enums.StageCreated {
		t.Fatalf("expected stage to remain created, got %s", job.Payload.Stage)
	}
}

func TestProcessMissingPaymentIsPermanent(t *testing.T) {
	f := newHandlerFixture(t)
	f.gateway.payment = nil
	job := &Job{ID: uuid.New(), Payload: NewPayload(42, "P1")}

	err := f.handler.Process(context.Background(), job, (&checkpoints{}).save)
	if !IsPermanent(err) || !strings.Contains(err.Error(), MsgNoPaymentFound) {
		t.Fatalf("expected permanent no payment error, got %v", err)
	}
}

func TestProcessUpdateReferenceFailureKeepsStage(t *testing.T) {
	f := newHandlerFixture(t)
	f.gateway.updateErr = errors.New("timeout")
	cp := &checkpoints{}
	job := &Job{ID: uuid.New(), Payload: NewPayload(42, "P1")}

	if err := f.handler.Process(context.Background(), job, cp.save); err == nil {
		t.Fatal("expected error")
	}
	if job.Payload.Stage != enums.StageRetrieved {
		t.Fatalf("expected resume point at retrieved, got %s", job.Payload.Stage)
	}
	if len(cp.saved) != 1 {
		t.Fatalf("expected only the retrieve checkpoint, got %d", len(cp.saved))
	}
	if f.gateway.chargeCalls != 0 {
		t.Fatal("charge must not run before the reference is attached")
	}
}

func chargeReadyPayload(reserved, charged int64) Payload {
	p := NewPayload(42, "P1")
	p.Stage = enums.StageReferenceAttached
	p.CheckoutURL = stringPtr("https://forms.example.com/checkout")
	p.ReservedAmount = int64Ptr(reserved)
	p.ChargedAmount = int64Ptr(charged)
	p.PaymentReferenceValue = "contact_form:42"
	return p
}

func TestChargeGuardRejectsZeroReserve(t *testing.T) {
	f := newHandlerFixture(t)
	job := &Job{ID: uuid.New(), Payload: chargeReadyPayload(0, 0)}

	err := f.handler.Process(context.Background(), job, (&checkpoints{}).save)
	if !IsPermanent(err) || !strings.Contains(err.Error(), MsgReservedAmountZero) {
		t.Fatalf("expected reserved amount guard, got %v", err)
	}
	if f.gateway.chargeCalls != 0 {
		t.Fatal("expected no charge call")
	}
	if len(f.status.statuses) != 1 || f.status.statuses[0] != enums.PaymentObjectChargeFailed {
		t.Fatalf("expected charge failed status, got %v", f.status.statuses)
	}
	if len(f.events.events) != 1 || f.events.events[0].EventType != enums.EventPaymentChargeFailed {
		t.Fatalf("expected charge failed event, got %+v", f.events.events)
	}
}

func TestChargeGuardRejectsAlreadyCharged(t *testing.T) {
	f := newHandlerFixture(t)
	job := &Job{ID: uuid.New(), Payload: chargeReadyPayload(25000, 25000)}

	err := f.handler.Process(context.Background(), job, (&checkpoints{}).save)
	if !IsPermanent(err) || !strings.Contains(err.Error(), MsgChargedAmountNotZero) {
		t.Fatalf("expected charged amount guard, got %v", err)
	}
	if f.gateway.chargeCalls != 0 {
		t.Fatal("expected no charge call")
	}
}

func TestChargeWithoutChargeIDFails(t *testing.T) {
	f := newHandlerFixture(t)
	f.gateway.charge = &netseasy.ChargeResult{}
	job := &Job{ID: uuid.New(), Payload: chargeReadyPayload(25000, 0)}

	err := f.handler.Process(context.Background(), job, (&checkpoints{}).save)
	if !IsPermanent(err) || !strings.Contains(err.Error(), MsgPaymentCouldNotCharge) {
		t.Fatalf("expected could not charge error, got %v", err)
	}
	if job.Payload.Stage != enums.StageReferenceAttached {
		t.Fatalf("expected stage to stay at reference_attached, got %s", job.Payload.Stage)
	}
}

func TestChargeGatewayErrorIsRetryable(t *testing.T) {
	f := newHandlerFixture(t)
	f.gateway.chargeErr = pkgerrors.New(pkgerrors.CodeGateway, "nets easy request failed")
	job := &Job{ID: uuid.New(), MaxAttempts: 5, Payload: chargeReadyPayload(25000, 0)}

	err := f.handler.Process(context.Background(), job, (&checkpoints{}).save)
	if err == nil || IsPermanent(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if len(f.status.statuses) != 1 || f.status.statuses[0] != enums.PaymentObjectChargeFailed {
		t.Fatalf("expected charge failed status, got %v", f.status.statuses)
	}
	if len(f.events.events) != 0 {
		t.Fatalf("expected no charge failed event while retries remain, got %+v", f.events.events)
	}
}

func TestChargeGatewayErrorOnLastAttemptEmitsFailure(t *testing.T) {
	f := newHandlerFixture(t)
	f.gateway.chargeErr = pkgerrors.New(pkgerrors.CodeGateway, "nets easy request failed")
	job := &Job{ID: uuid.New(), Attempt: 4, MaxAttempts: 5, Payload: chargeReadyPayload(25000, 0)}

	if err := f.handler.Process(context.Background(), job, (&checkpoints{}).save); err == nil {
		t.Fatal("expected error")
	}
	if len(f.events.events) != 1 || f.events.events[0].EventType != enums.EventPaymentChargeFailed {
		t.Fatalf("expected charge failed event on the last attempt, got %+v", f.events.events)
	}
}

func TestTerminal(t *testing.T) {
	retryable := errors.New("connection reset")
	cases := []struct {
		name     string
		err      error
		attempt  int
		max      int
		expected bool
	}{
		{name: "retries remain", err: retryable, attempt: 0, max: 5, expected: false},
		{name: "budget spent", err: retryable, attempt: 4, max: 5, expected: true},
		{name: "no budget", err: retryable, attempt: 0, max: 0, expected: true},
		{name: "permanent", err: PermanentError{Err: retryable}, attempt: 0, max: 5, expected: true},
		{name: "validation", err: pkgerrors.New(pkgerrors.CodeValidation, "bad payload"), attempt: 0, max: 5, expected: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := terminal(tc.err, tc.attempt, tc.max); got != tc.expected {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestChargeStatusFailureIsCombined(t *testing.T) {
	f := newHandlerFixture(t)
	f.gateway.chargeErr = errors.New("connection reset")
	f.status.err = errors.New("database down")
	job := &Job{ID: uuid.New(), Payload: chargeReadyPayload(25000, 0)}

	err := f.handler.Process(context.Background(), job, (&checkpoints{}).save)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "connection reset") || !strings.Contains(err.Error(), "database down") {
		t.Fatalf("expected both failures in %q", err.Error())
	}
}

func TestRedeliveryDoesNotChargeTwice(t *testing.T) {
	f := newHandlerFixture(t)
	f.gateway.payment.ChargedAmount = 25000
	f.gateway.payment.ChargeIDs = []string{"C-earlier"}
	cp := &checkpoints{}
	job := &Job{ID: uuid.New(), Attempt: 1, Payload: chargeReadyPayload(25000, 0)}

	if err := f.handler.Process(context.Background(), job, cp.save); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.gateway.chargeCalls != 0 {
		t.Fatalf("expected no second charge, got %d", f.gateway.chargeCalls)
	}
	if job.Payload.Stage != enums.StageCharged {
		t.Fatalf("expected charged stage, got %s", job.Payload.Stage)
	}
	if len(f.status.statuses) != 1 || f.status.statuses[0] != enums.PaymentObjectCharged {
		t.Fatalf("expected charged status, got %v", f.status.statuses)
	}
	data, ok := f.events.events[0].Data.(payloads.PaymentChargedEvent)
	if !ok || data.ChargeID != "C-earlier" {
		t.Fatalf("expected the provider's charge id on the event, got %+v", f.events.events[0].Data)
	}
}

func TestFirstDeliveryAdoptsExistingCapture(t *testing.T) {
	f := newHandlerFixture(t)
	f.gateway.payment.ChargedAmount = 25000
	job := &Job{ID: uuid.New(), Payload: chargeReadyPayload(25000, 0)}

	if err := f.handler.Process(context.Background(), job, (&checkpoints{}).save); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.gateway.chargeCalls != 0 {
		t.Fatalf("expected the provider capture to be adopted, got %d charges", f.gateway.chargeCalls)
	}
	data, ok := f.events.events[0].Data.(payloads.PaymentChargedEvent)
	if !ok || data.ChargeID != "" {
		t.Fatalf("expected an empty charge id without provider charges, got %+v", f.events.events[0].Data)
	}
}

func TestRedeliveryChargesWhenProviderShowsNoCapture(t *testing.T) {
	f := newHandlerFixture(t)
	job := &Job{ID: uuid.New(), Attempt: 2, Payload: chargeReadyPayload(25000, 0)}

	if err := f.handler.Process(context.Background(), job, (&checkpoints{}).save); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.gateway.retrieveCalls != 1 || f.gateway.chargeCalls != 1 {
		t.Fatalf("expected refresh then charge, got retrieve=%d charge=%d", f.gateway.retrieveCalls, f.gateway.chargeCalls)
	}
}

func TestChargedCheckpointFailureLeavesStage(t *testing.T) {
	f := newHandlerFixture(t)
	cp := &checkpoints{err: errors.New("write failed")}
	job := &Job{ID: uuid.New(), Payload: chargeReadyPayload(25000, 0)}

	if err := f.handler.Process(context.Background(), job, cp.save); err == nil {
		t.Fatal("expected error")
	}
	if job.Payload.Stage != enums.StageReferenceAttached {
		t.Fatalf("expected stage to stay at reference_attached, got %s", job.Payload.Stage)
	}
	if len(f.status.statuses) != 0 {
		t.Fatalf("expected status write to roll back, got %v", f.status.statuses)
	}
}

func TestProcessRejectsInvalidPayload(t *testing.T) {
	f := newHandlerFixture(t)
	payload := NewPayload(42, "P1")
	payload.Stage = enums.StageRetrieved
	job := &Job{ID: uuid.New(), Payload: payload}

	err := f.handler.Process(context.Background(), job, (&checkpoints{}).save)
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if f.gateway.updateCalls != 0 {
		t.Fatal("expected no provider call")
	}
}

func TestProcessChargedJobIsNoop(t *testing.T) {
	f := newHandlerFixture(t)
	payload := NewPayload(42, "P1")
	payload.Stage = enums.StageCharged
	job := &Job{ID: uuid.New(), Payload: payload}

	if err := f.handler.Process(context.Background(), job, (&checkpoints{}).save); err != nil {
		t.Fatalf("process: %v", err)
	}
	if f.gateway.retrieveCalls+f.gateway.updateCalls+f.gateway.chargeCalls != 0 {
		t.Fatal("expected no provider calls")
	}
}

func TestNewHandlerValidation(t *testing.T) {
	if _, err := NewHandler(HandlerParams{}); err == nil {
		t.Fatal("expected error without gateway")
	}
	if _, err := NewHandler(HandlerParams{Gateway: &stubGateway{}}); err == nil {
		t.Fatal("expected error without submission service")
	}
}
