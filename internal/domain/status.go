package domain

type OrderStatus string

const (
	StatusNew       OrderStatus = "NEW"
	StatusPreparing OrderStatus = "PREPARING"
	StatusReady     OrderStatus = "READY"
	StatusServed    OrderStatus = "SERVED"
	StatusClosed    OrderStatus = "CLOSED"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

var statusOrder = map[OrderStatus]int{
	StatusNew:       0,
	StatusPreparing: 1,
	StatusReady:     2,
	StatusServed:    3,
	StatusClosed:    4,
}

func (s OrderStatus) Valid() bool {
	_, ok := statusOrder[s]
	return ok
}

// Next returns the immediate successor of s. The second return is false for
// CLOSED, which is terminal.
func (s OrderStatus) Next() (OrderStatus, bool) {
	switch s {
	case StatusNew:
		return StatusPreparing, true
	case StatusPreparing:
		return StatusReady, true
	case StatusReady:
		return StatusServed, true
	case StatusServed:
		return StatusClosed, true
	default:
		return s, false
	}
}

func (s OrderStatus) Terminal() bool { return s == StatusClosed }

// CanTransition reports whether moving from cur to target is legal.
// Equal statuses are legal and treated as a no-op by callers; everything
// other than the immediate successor is rejected.
func CanTransition(cur, target OrderStatus) bool {
	if !cur.Valid() || !target.Valid() {
		return false
	}
	if cur == target {
		return true
	}
	next, ok := cur.Next()
	return ok && next == target
}
