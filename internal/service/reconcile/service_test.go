package reconcile

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/evroni/qrtab/internal/domain"
	"github.com/evroni/qrtab/internal/service/lifecycle"
)

const testSecret = "whsec_test"

type fakeFinalizer struct {
	orders map[uuid.UUID]*domain.Order

	markPaidCalls int
	advanceCalls  int
}

func (f *fakeFinalizer) Get(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, lifecycle.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeFinalizer) MarkPaid(_ context.Context, id uuid.UUID, ref string) (*domain.Order, error) {
	f.markPaidCalls++
	o, ok := f.orders[id]
	if !ok {
		return nil, lifecycle.ErrOrderNotFound
	}
	if o.PaymentStatus != domain.PaymentPaid {
		now := time.Now()
		o.PaymentStatus = domain.PaymentPaid
		o.StripeSessionID = &ref
		o.PaidAt = &now
		o.UpdatedAt = now
	}
	cp := *o
	return &cp, nil
}

func (f *fakeFinalizer) Advance(_ context.Context, id uuid.UUID, target domain.OrderStatus) (*domain.Order, error) {
	f.advanceCalls++
	o, ok := f.orders[id]
	if !ok {
		return nil, lifecycle.ErrOrderNotFound
	}
	if o.Status != target {
		if !domain.CanTransition(o.Status, target) {
			return nil, lifecycle.ErrInvalidTransition
		}
		o.Status = target
	}
	cp := *o
	return &cp, nil
}

type fakeCheckout struct {
	last *CheckoutParams
}

func (f *fakeCheckout) CreateSession(_ context.Context, p CheckoutParams) (*CheckoutSession, error) {
	f.last = &p
	return &CheckoutSession{ID: "cs_test_123", URL: "https://checkout.example/cs_test_123"}, nil
}

func signedBody(t *testing.T, body string) (raw []byte, header string) {
	t.Helper()
	now := time.Now()
	sig := webhook.ComputeSignature(now, []byte(body), testSecret)
	return []byte(body), fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
}

func checkoutCompletedBody(orderRef string) string {
	return fmt.Sprintf(`{
		"id": "evt_1",
		"api_version": %q,
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_abc", "metadata": {"order_id": %q}}}
	}`, stripe.APIVersion, orderRef)
}

func newService(f *fakeFinalizer, autoClose bool) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(f, &fakeCheckout{}, logger, Config{
		WebhookSecret: testSecret,
		AutoClosePaid: autoClose,
	})
}

func pendingOrder() *domain.Order {
	return &domain.Order{
		ID:            uuid.New(),
		BranchID:      uuid.New(),
		TableID:       uuid.New(),
		OrderNumber:   "ORD-260829-AB12CD",
		Status:        domain.StatusNew,
		PaymentStatus: domain.PaymentPending,
		Total:         decimal.RequireFromString("52.50"),
	}
}

func TestHandleNotificationMarksPaidAndCloses(t *testing.T) {
	o := pendingOrder()
	f := &fakeFinalizer{orders: map[uuid.UUID]*domain.Order{o.ID: o}}
	svc := newService(f, true)

	body, header := signedBody(t, checkoutCompletedBody(o.ID.String()))

	if err := svc.HandleNotification(context.Background(), body, header); err != nil {
		t.Fatalf("HandleNotification failed: %v", err)
	}

	if o.PaymentStatus != domain.PaymentPaid {
		t.Errorf("payment status = %s, want PAID", o.PaymentStatus)
	}
	if o.Status != domain.StatusClosed {
		t.Errorf("status = %s, want CLOSED with auto-close on", o.Status)
	}
	if o.StripeSessionID == nil || *o.StripeSessionID != "cs_abc" {
		t.Errorf("stripe session id not recorded: %v", o.StripeSessionID)
	}
}

func TestHandleNotificationRedelivery(t *testing.T) {
	o := pendingOrder()
	f := &fakeFinalizer{orders: map[uuid.UUID]*domain.Order{o.ID: o}}
	svc := newService(f, true)

	body, header := signedBody(t, checkoutCompletedBody(o.ID.String()))

	if err := svc.HandleNotification(context.Background(), body, header); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}

	firstRef := *o.StripeSessionID
	firstPaidAt := *o.PaidAt

	// At-least-once delivery: the exact same notification arrives again.
	body, header = signedBody(t, checkoutCompletedBody(o.ID.String()))
	if err := svc.HandleNotification(context.Background(), body, header); err != nil {
		t.Fatalf("redelivery must be acknowledged, got %v", err)
	}

	if *o.StripeSessionID != firstRef {
		t.Errorf("redelivery overwrote the external reference")
	}
	if !o.PaidAt.Equal(firstPaidAt) {
		t.Errorf("redelivery overwrote paid_at")
	}
	if f.markPaidCalls != 2 {
		t.Errorf("markPaid calls = %d, want 2 (second one a no-op)", f.markPaidCalls)
	}
}

func TestHandleNotificationInvalidSignature(t *testing.T) {
	o := pendingOrder()
	f := &fakeFinalizer{orders: map[uuid.UUID]*domain.Order{o.ID: o}}
	svc := newService(f, true)

	body := []byte(checkoutCompletedBody(o.ID.String()))
	header := fmt.Sprintf("t=%d,v1=%s", time.Now().Unix(), "deadbeef")

	err := svc.HandleNotification(context.Background(), body, header)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("want ErrInvalidSignature, got %v", err)
	}

	// The referenced order must be provably unchanged.
	if o.PaymentStatus != domain.PaymentPending || o.Status != domain.StatusNew {
		t.Errorf("order mutated on signature failure: %+v", o)
	}
	if f.markPaidCalls != 0 || f.advanceCalls != 0 {
		t.Errorf("state machine touched on signature failure")
	}
}

func TestHandleNotificationIgnoresOtherEvents(t *testing.T) {
	f := &fakeFinalizer{orders: map[uuid.UUID]*domain.Order{}}
	svc := newService(f, true)

	body, header := signedBody(t, fmt.Sprintf(`{
		"id": "evt_2",
		"api_version": %q,
		"type": "payment_intent.created",
		"data": {"object": {"id": "pi_1"}}
	}`, stripe.APIVersion))

	if err := svc.HandleNotification(context.Background(), body, header); err != nil {
		t.Fatalf("unknown event types must be acknowledged, got %v", err)
	}
	if f.markPaidCalls != 0 {
		t.Errorf("unknown event must not touch orders")
	}
}

func TestHandleNotificationSkipsSentinelReference(t *testing.T) {
	f := &fakeFinalizer{orders: map[uuid.UUID]*domain.Order{}}
	svc := newService(f, true)

	for _, ref := range []string{"new", ""} {
		body, header := signedBody(t, checkoutCompletedBody(ref))
		if err := svc.HandleNotification(context.Background(), body, header); err != nil {
			t.Errorf("sentinel ref %q must be acknowledged, got %v", ref, err)
		}
	}
	if f.markPaidCalls != 0 {
		t.Errorf("sentinel refs must not touch orders")
	}
}

func TestHandleNotificationUnknownOrderRejected(t *testing.T) {
	f := &fakeFinalizer{orders: map[uuid.UUID]*domain.Order{}}
	svc := newService(f, true)

	body, header := signedBody(t, checkoutCompletedBody(uuid.New().String()))

	if err := svc.HandleNotification(context.Background(), body, header); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("want ErrOrderNotFound so the provider retries, got %v", err)
	}
}

func TestHandleNotificationNoAutoClose(t *testing.T) {
	o := pendingOrder()
	f := &fakeFinalizer{orders: map[uuid.UUID]*domain.Order{o.ID: o}}
	svc := newService(f, false)

	body, header := signedBody(t, checkoutCompletedBody(o.ID.String()))

	if err := svc.HandleNotification(context.Background(), body, header); err != nil {
		t.Fatalf("HandleNotification failed: %v", err)
	}

	if o.PaymentStatus != domain.PaymentPaid {
		t.Errorf("payment status = %s, want PAID", o.PaymentStatus)
	}
	if o.Status != domain.StatusNew {
		t.Errorf("status = %s, want NEW when auto-close is off", o.Status)
	}
}

func TestCreateCheckout(t *testing.T) {
	o := pendingOrder()
	f := &fakeFinalizer{orders: map[uuid.UUID]*domain.Order{o.ID: o}}
	checkout := &fakeCheckout{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(f, checkout, logger, Config{WebhookSecret: testSecret, AutoClosePaid: true})

	s, err := svc.CreateCheckout(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("CreateCheckout failed: %v", err)
	}
	if s.URL == "" {
		t.Error("expected a checkout URL")
	}
	if checkout.last == nil {
		t.Fatal("checkout client not called")
	}
	if checkout.last.AmountCents != 5250 {
		t.Errorf("amount = %d cents, want 5250", checkout.last.AmountCents)
	}
	if checkout.last.OrderID != o.ID {
		t.Errorf("order id must ride along end-to-end")
	}

	t.Run("already paid", func(t *testing.T) {
		o.PaymentStatus = domain.PaymentPaid
		if _, err := svc.CreateCheckout(context.Background(), o.ID); !errors.Is(err, ErrAlreadyPaid) {
			t.Errorf("want ErrAlreadyPaid, got %v", err)
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		if _, err := svc.CreateCheckout(context.Background(), uuid.New()); !errors.Is(err, ErrOrderNotFound) {
			t.Errorf("want ErrOrderNotFound, got %v", err)
		}
	})
}
