package admission

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputeTotals(t *testing.T) {
	t.Run("table seven scenario", func(t *testing.T) {
		// subtotal 42.00, 10% tax -> 4.20, tip 15% of subtotal -> 6.30,
		// total 52.50
		items := []ItemInput{
			{Name: "Rib-eye", Price: dec("28.00"), Quantity: 1},
			{Name: "Fries", Price: dec("7.00"), Quantity: 2},
		}

		got := computeTotals(items, dec("6.30"), dec("0.10"))

		if !got.Subtotal.Equal(dec("42.00")) {
			t.Errorf("subtotal = %s, want 42.00", got.Subtotal)
		}
		if !got.Tax.Equal(dec("4.20")) {
			t.Errorf("tax = %s, want 4.20", got.Tax)
		}
		if !got.Tip.Equal(dec("6.30")) {
			t.Errorf("tip = %s, want 6.30", got.Tip)
		}
		if !got.Total.Equal(dec("52.50")) {
			t.Errorf("total = %s, want 52.50", got.Total)
		}
	})

	t.Run("negative tip is clamped to zero", func(t *testing.T) {
		items := []ItemInput{{Name: "Soup", Price: dec("10.00"), Quantity: 1}}
		got := computeTotals(items, dec("-5.00"), dec("0.10"))
		if !got.Tip.IsZero() {
			t.Errorf("tip = %s, want 0", got.Tip)
		}
		if !got.Total.Equal(dec("11.00")) {
			t.Errorf("total = %s, want 11.00", got.Total)
		}
	})

	t.Run("tax rounds to cents", func(t *testing.T) {
		items := []ItemInput{{Name: "Espresso", Price: dec("3.33"), Quantity: 1}}
		got := computeTotals(items, decimal.Zero, dec("0.10"))
		if !got.Tax.Equal(dec("0.33")) {
			t.Errorf("tax = %s, want 0.33", got.Tax)
		}
	})
}

func TestPlaceOrderCommandValidate(t *testing.T) {
	valid := PlaceOrderCommand{
		BranchID:       uuid.New(),
		TableID:        uuid.New(),
		IdempotencyKey: "abc",
		Items:          []ItemInput{{MenuItemID: uuid.New(), Name: "Soup", Price: dec("5.00"), Quantity: 1}},
	}

	if err := valid.validate(); err != nil {
		t.Fatalf("valid command rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(c *PlaceOrderCommand)
	}{
		{"empty item list", func(c *PlaceOrderCommand) { c.Items = nil }},
		{"missing idempotency key", func(c *PlaceOrderCommand) { c.IdempotencyKey = "" }},
		{"zero quantity", func(c *PlaceOrderCommand) { c.Items[0].Quantity = 0 }},
		{"negative price", func(c *PlaceOrderCommand) { c.Items[0].Price = dec("-1.00") }},
		{"unnamed item", func(c *PlaceOrderCommand) { c.Items[0].Name = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid
			c.Items = append([]ItemInput(nil), valid.Items...)
			tc.mutate(&c)
			if err := c.validate(); !errors.Is(err, ErrValidation) {
				t.Errorf("want ErrValidation, got %v", err)
			}
		})
	}
}

func TestBuildItemsSnapshotsPrices(t *testing.T) {
	menuItem := uuid.New()
	in := []ItemInput{{
		MenuItemID: menuItem,
		Name:       "Burrata",
		Price:      dec("12.50"),
		Quantity:   2,
		Modifiers:  []string{"extra basil"},
	}}

	out := buildItems(in)

	if len(out) != 1 {
		t.Fatalf("got %d items, want 1", len(out))
	}
	it := out[0]
	if it.MenuItemID != menuItem || it.ItemName != "Burrata" {
		t.Errorf("snapshot identity mismatch: %+v", it)
	}
	if !it.PriceAtOrder.Equal(dec("12.50")) {
		t.Errorf("price at order = %s, want 12.50", it.PriceAtOrder)
	}
	if !it.Subtotal.Equal(dec("25.00")) {
		t.Errorf("line subtotal = %s, want 25.00", it.Subtotal)
	}
	if it.ID == uuid.Nil {
		t.Error("item id must be assigned")
	}
}
