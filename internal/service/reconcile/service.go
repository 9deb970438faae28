// Package reconcile consumes payment-provider notifications and drives the
// order state machine to its terminal paid state exactly once. The provider
// delivers at-least-once and out of order; every path here is a no-op on
// redelivery.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/evroni/qrtab/internal/domain"
	"github.com/evroni/qrtab/internal/service/lifecycle"
)

// legacyNoOrderRef marks checkout sessions created before the order row
// existed. The admission-first flow never emits it, but notifications
// carrying it are still acknowledged and skipped rather than failed.
const legacyNoOrderRef = "new"

const eventCheckoutCompleted = "checkout.session.completed"

var decimalHundred = decimal.NewFromInt(100)

// OrderFinalizer is the slice of the state machine this listener drives.
type OrderFinalizer interface {
	Get(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID, externalRef string) (*domain.Order, error)
	Advance(ctx context.Context, orderID uuid.UUID, target domain.OrderStatus) (*domain.Order, error)
}

// CheckoutClient starts a provider checkout for an order total.
type CheckoutClient interface {
	CreateSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error)
}

type CheckoutParams struct {
	OrderID     uuid.UUID
	OrderNumber string
	AmountCents int64
	Currency    string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type Config struct {
	WebhookSecret string
	AutoClosePaid bool
}

type Service struct {
	orders   OrderFinalizer
	checkout CheckoutClient
	logger   *slog.Logger
	cfg      Config
}

func New(orders OrderFinalizer, checkout CheckoutClient, logger *slog.Logger, cfg Config) *Service {
	return &Service{
		orders:   orders,
		checkout: checkout,
		logger:   logger,
		cfg:      cfg,
	}
}

// checkoutSession is the slice of the provider payload this listener reads.
type checkoutSession struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

// HandleNotification verifies and applies one provider notification.
// Signature verification happens before any parsing of the untrusted body.
// A nil return acknowledges the notification (2xx); any error rejects it so
// the provider retries the whole delivery.
func (s *Service) HandleNotification(ctx context.Context, body []byte, sigHeader string) error {
	const op = "service.reconcile.HandleNotification"

	event, err := webhook.ConstructEvent(body, sigHeader, s.cfg.WebhookSecret)
	if err != nil {
		return fmt.Errorf("%s: %w", op, ErrInvalidSignature)
	}

	// The channel delivers a broad event catalog; everything but a completed
	// checkout is acknowledged untouched.
	if event.Type != eventCheckoutCompleted {
		s.logger.Debug("ignoring event", "type", event.Type, "event_id", event.ID)
		return nil
	}

	var session checkoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("%s: malformed checkout session payload: %w", op, err)
	}

	ref := session.Metadata["order_id"]
	if ref == "" || ref == legacyNoOrderRef {
		s.logger.Warn("notification without order reference, skipping",
			"event_id", event.ID, "session_id", session.ID)
		return nil
	}

	orderID, err := uuid.Parse(ref)
	if err != nil {
		// A mangled reference will never parse on redelivery either;
		// acknowledge it instead of making the provider retry forever.
		s.logger.Error("unparseable order reference, skipping",
			"event_id", event.ID, "order_ref", ref)
		return nil
	}

	o, err := s.orders.MarkPaid(ctx, orderID, session.ID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrOrderNotFound) {
			s.logger.Error("notification references unknown order",
				"event_id", event.ID, "order_id", orderID)
			return fmt.Errorf("%s: %w", op, ErrOrderNotFound)
		}
		s.logger.Error("failed to apply payment", "event_id", event.ID,
			"order_id", orderID, "error", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	if s.cfg.AutoClosePaid {
		if o, err = s.closeOut(ctx, o); err != nil {
			s.logger.Error("failed to close paid order", "order_id", orderID, "error", err)
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	s.logger.Info("payment reconciled", "event_id", event.ID,
		"order_id", orderID, "status", o.Status, "payment_status", o.PaymentStatus)

	return nil
}

// closeOut walks the order forward one legal step at a time until CLOSED.
// Already-closed orders fall straight through, which is what makes
// redelivered notifications harmless.
func (s *Service) closeOut(ctx context.Context, o *domain.Order) (*domain.Order, error) {
	for !o.Status.Terminal() {
		next, ok := o.Status.Next()
		if !ok {
			break
		}
		advanced, err := s.orders.Advance(ctx, o.ID, next)
		if err != nil {
			return nil, err
		}
		o = advanced
	}
	return o, nil
}

// CreateCheckout starts a provider checkout session for an existing order.
// The order id rides in the session metadata end-to-end, so the webhook never
// has to guess which pending order was paid.
func (s *Service) CreateCheckout(ctx context.Context, orderID uuid.UUID) (*CheckoutSession, error) {
	const op = "service.reconcile.CreateCheckout"

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrOrderNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrOrderNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if o.PaymentStatus == domain.PaymentPaid {
		return nil, fmt.Errorf("%s: %w", op, ErrAlreadyPaid)
	}

	cents := o.Total.Mul(decimalHundred).IntPart()

	session, err := s.checkout.CreateSession(ctx, CheckoutParams{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		AmountCents: cents,
		Currency:    "usd",
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return session, nil
}
