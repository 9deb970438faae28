package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Reseller struct {
	ID              uuid.UUID
	Name            string
	Subdomain       string
	QRSigningSecret string
}

type Venue struct {
	ID         uuid.UUID
	ResellerID *uuid.UUID // nil means the platform-wide secret applies
	Name       string
	Slug       string
}

type Branch struct {
	ID      uuid.UUID
	VenueID uuid.UUID
	Name    string
	Address string
}

type Table struct {
	ID        uuid.UUID
	BranchID  uuid.UUID
	Number    string
	Area      string
	QRVersion int
}

// TableContext is a table joined with its owning branch and venue,
// the unit a QR token binds to.
type TableContext struct {
	Table
	VenueID   uuid.UUID
	VenueName string
}

type Order struct {
	ID              uuid.UUID
	BranchID        uuid.UUID
	TableID         uuid.UUID
	OrderNumber     string
	IdempotencyKey  string
	Status          OrderStatus
	PaymentStatus   PaymentStatus
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	Tip             decimal.Decimal
	Total           decimal.Decimal
	Notes           string
	StripeSessionID *string
	PaidAt          *time.Time
	Items           []OrderItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem is a point-in-time snapshot: name and price are copied from the
// catalog at order time so later menu edits never change a placed order.
type OrderItem struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	MenuItemID   uuid.UUID
	ItemName     string
	PriceAtOrder decimal.Decimal
	Quantity     int
	Subtotal     decimal.Decimal
	Modifiers    []string
}
