package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/evroni/qrtab/internal/domain"
	"github.com/evroni/qrtab/internal/repository"
	"github.com/evroni/qrtab/internal/uow"
)

// fakeStore mirrors the repository's compare-and-swap contract: a status
// update applies only from the exact expected status, and MarkPaid applies
// only while payment is PENDING.
type fakeStore struct {
	orders map[uuid.UUID]*domain.Order

	advanceCalls  int
	markPaidCalls int

	// when set, the next AdvanceStatus loses the CAS to a concurrent writer
	// that already moved the order to this status.
	casLoserTo domain.OrderStatus
}

func newFakeStore(o *domain.Order) *fakeStore {
	return &fakeStore{orders: map[uuid.UUID]*domain.Order{o.ID: o}}
}

func (f *fakeStore) Atomic(
	ctx context.Context,
	fn func(ctx context.Context, tx OrderTx, after func(uow.AfterCommit)) error,
) error {
	var hooks []uow.AfterCommit
	if err := fn(ctx, f, func(h uow.AfterCommit) { hooks = append(hooks, h) }); err != nil {
		return err
	}
	for _, h := range hooks {
		h(ctx)
	}
	return nil
}

func (f *fakeStore) Order(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) OpenOrdersByBranch(_ context.Context, branchID uuid.UUID) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range f.orders {
		if o.BranchID == branchID && o.Status != domain.StatusClosed {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) AdvanceStatus(_ context.Context, id uuid.UUID, from, to domain.OrderStatus) error {
	o, ok := f.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	if f.casLoserTo != "" {
		o.Status = f.casLoserTo
		f.casLoserTo = ""
		return repository.ErrStaleOrder
	}
	if o.Status != from {
		return repository.ErrStaleOrder
	}
	f.advanceCalls++
	o.Status = to
	o.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) MarkPaid(_ context.Context, id uuid.UUID, sessionID string, paidAt time.Time) error {
	o, ok := f.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	if o.PaymentStatus == domain.PaymentPaid {
		return repository.ErrAlreadyPaid
	}
	f.markPaidCalls++
	o.PaymentStatus = domain.PaymentPaid
	o.StripeSessionID = &sessionID
	o.PaidAt = &paidAt
	o.UpdatedAt = paidAt
	return nil
}

func newOrder() *domain.Order {
	return &domain.Order{
		ID:            uuid.New(),
		BranchID:      uuid.New(),
		TableID:       uuid.New(),
		OrderNumber:   "ORD-260829-AB12CD",
		Status:        domain.StatusNew,
		PaymentStatus: domain.PaymentPending,
	}
}

func TestAdvance(t *testing.T) {
	ctx := context.Background()
	o := newOrder()
	svc := New(newFakeStore(o), nil, nil)

	got, err := svc.Advance(ctx, o.ID, domain.StatusPreparing)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if got.Status != domain.StatusPreparing {
		t.Errorf("status = %s, want PREPARING", got.Status)
	}
}

func TestAdvanceRejectsIllegalTargets(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		from   domain.OrderStatus
		target domain.OrderStatus
	}{
		{"skip ahead", domain.StatusNew, domain.StatusServed},
		{"backward", domain.StatusServed, domain.StatusReady},
		{"out of terminal", domain.StatusClosed, domain.StatusNew},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := newOrder()
			o.Status = tc.from
			store := newFakeStore(o)
			svc := New(store, nil, nil)

			if _, err := svc.Advance(ctx, o.ID, tc.target); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("want ErrInvalidTransition, got %v", err)
			}
			if store.advanceCalls != 0 {
				t.Errorf("illegal transition reached storage")
			}
		})
	}

	t.Run("unknown status", func(t *testing.T) {
		o := newOrder()
		svc := New(newFakeStore(o), nil, nil)
		if _, err := svc.Advance(ctx, o.ID, "DELIVERED"); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("want ErrInvalidTransition, got %v", err)
		}
	})
}

func TestAdvanceEqualStatusIsNoOp(t *testing.T) {
	ctx := context.Background()
	o := newOrder()
	store := newFakeStore(o)
	svc := New(store, nil, nil)

	got, err := svc.Advance(ctx, o.ID, domain.StatusNew)
	if err != nil {
		t.Fatalf("no-op Advance failed: %v", err)
	}
	if got.Status != domain.StatusNew {
		t.Errorf("status = %s, want NEW", got.Status)
	}
	if store.advanceCalls != 0 {
		t.Errorf("no-op wrote to storage")
	}
}

func TestAdvanceRetriesLostCAS(t *testing.T) {
	ctx := context.Background()
	o := newOrder()
	store := newFakeStore(o)
	svc := New(store, nil, nil)

	// A concurrent writer moves the order to PREPARING between our read and
	// update; the retry re-reads and finds the target already reached.
	store.casLoserTo = domain.StatusPreparing

	got, err := svc.Advance(ctx, o.ID, domain.StatusPreparing)
	if err != nil {
		t.Fatalf("Advance failed after losing the CAS: %v", err)
	}
	if got.Status != domain.StatusPreparing {
		t.Errorf("status = %s, want PREPARING", got.Status)
	}
	if store.advanceCalls != 0 {
		t.Errorf("retry re-applied an already-applied transition")
	}
}

func TestAdvanceUnknownOrder(t *testing.T) {
	ctx := context.Background()
	svc := New(newFakeStore(newOrder()), nil, nil)

	if _, err := svc.Advance(ctx, uuid.New(), domain.StatusPreparing); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("want ErrOrderNotFound, got %v", err)
	}
}

func TestMarkPaidAppliesOnce(t *testing.T) {
	ctx := context.Background()
	o := newOrder()
	store := newFakeStore(o)
	svc := New(store, nil, nil)

	first, err := svc.MarkPaid(ctx, o.ID, "cs_first")
	if err != nil {
		t.Fatalf("MarkPaid failed: %v", err)
	}
	if first.PaymentStatus != domain.PaymentPaid {
		t.Errorf("payment status = %s, want PAID", first.PaymentStatus)
	}
	if first.StripeSessionID == nil || *first.StripeSessionID != "cs_first" {
		t.Errorf("external reference not recorded")
	}

	// The payment provider redelivers with a different session id; the
	// first recorded reference and paid_at must survive.
	again, err := svc.MarkPaid(ctx, o.ID, "cs_second")
	if err != nil {
		t.Fatalf("redelivered MarkPaid must be a no-op, got %v", err)
	}
	if *again.StripeSessionID != "cs_first" {
		t.Errorf("redelivery overwrote the external reference with %s", *again.StripeSessionID)
	}
	if !again.PaidAt.Equal(*first.PaidAt) {
		t.Errorf("redelivery overwrote paid_at")
	}
	if store.markPaidCalls != 1 {
		t.Errorf("markPaid applied %d times, want 1", store.markPaidCalls)
	}
}

func TestMarkPaidUnknownOrder(t *testing.T) {
	ctx := context.Background()
	svc := New(newFakeStore(newOrder()), nil, nil)

	if _, err := svc.MarkPaid(ctx, uuid.New(), "cs_x"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("want ErrOrderNotFound, got %v", err)
	}
}

func TestListOpenByBranch(t *testing.T) {
	ctx := context.Background()
	o := newOrder()
	store := newFakeStore(o)

	closed := newOrder()
	closed.BranchID = o.BranchID
	closed.Status = domain.StatusClosed
	store.orders[closed.ID] = closed

	svc := New(store, nil, nil)

	got, err := svc.ListOpenByBranch(ctx, o.BranchID)
	if err != nil {
		t.Fatalf("ListOpenByBranch failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != o.ID {
		t.Errorf("open listing = %d orders, want just the open one", len(got))
	}
}
