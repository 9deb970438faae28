package reconcile

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v78"
	checkoutsession "github.com/stripe/stripe-go/v78/checkout/session"
)

// StripeCheckout is the production CheckoutClient.
type StripeCheckout struct {
	successURL string
	cancelURL  string
}

func NewStripeCheckout(apiKey, successURL, cancelURL string) *StripeCheckout {
	stripe.Key = apiKey
	return &StripeCheckout{
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

func (c *StripeCheckout) CreateSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	const op = "reconcile.StripeCheckout.CreateSession"

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(p.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Bill for order %s", p.OrderNumber)),
					},
					UnitAmount: stripe.Int64(p.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(c.successURL),
		CancelURL:  stripe.String(c.cancelURL),
	}
	params.Context = ctx
	params.AddMetadata("order_id", p.OrderID.String())

	s, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}
