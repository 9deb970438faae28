package admission

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/evroni/qrtab/internal/domain"
)

var two = int32(2)

// ItemInput is the client-declared snapshot of one menu line: the price is
// what the guest saw, copied into the order so catalog edits never change it.
type ItemInput struct {
	MenuItemID uuid.UUID
	Name       string
	Price      decimal.Decimal
	Quantity   int
	Modifiers  []string
}

type PlaceOrderCommand struct {
	BranchID       uuid.UUID
	TableID        uuid.UUID
	IdempotencyKey string
	Items          []ItemInput
	Notes          string
	Tip            decimal.Decimal
}

func (c *PlaceOrderCommand) validate() error {
	if c.IdempotencyKey == "" {
		return fmt.Errorf("%w: missing idempotency key", ErrValidation)
	}
	if len(c.Items) == 0 {
		return fmt.Errorf("%w: empty item list", ErrValidation)
	}
	for i, it := range c.Items {
		if it.Name == "" {
			return fmt.Errorf("%w: item %d has no name", ErrValidation, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %d has non-positive quantity", ErrValidation, i)
		}
		if it.Price.IsNegative() {
			return fmt.Errorf("%w: item %d has negative price", ErrValidation, i)
		}
	}
	return nil
}

type totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Tip      decimal.Decimal
	Total    decimal.Decimal
}

// computeTotals derives order money from the item snapshot. The tip is
// clamped at zero; tax is rounded to cents before entering the total so the
// stored columns always add up exactly.
func computeTotals(items []ItemInput, tip decimal.Decimal, taxRate decimal.Decimal) totals {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	subtotal = subtotal.Round(two)

	tax := subtotal.Mul(taxRate).Round(two)

	if tip.IsNegative() {
		tip = decimal.Zero
	}
	tip = tip.Round(two)

	return totals{
		Subtotal: subtotal,
		Tax:      tax,
		Tip:      tip,
		Total:    subtotal.Add(tax).Add(tip),
	}
}

func buildItems(items []ItemInput) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	for _, it := range items {
		qty := decimal.NewFromInt(int64(it.Quantity))
		out = append(out, domain.OrderItem{
			ID:           uuid.New(),
			MenuItemID:   it.MenuItemID,
			ItemName:     it.Name,
			PriceAtOrder: it.Price,
			Quantity:     it.Quantity,
			Subtotal:     it.Price.Mul(qty).Round(two),
			Modifiers:    it.Modifiers,
		})
	}
	return out
}
