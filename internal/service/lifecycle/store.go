package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/evroni/qrtab/internal/domain"
	postgresrepo "github.com/evroni/qrtab/internal/repository/postgres"
	"github.com/evroni/qrtab/internal/uow"
)

// OrderTx is the slice of storage one transition transaction touches.
type OrderTx interface {
	Order(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	AdvanceStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus) error
	MarkPaid(ctx context.Context, id uuid.UUID, sessionID string, paidAt time.Time) error
}

// Store runs transition transactions. Hooks registered through after fire
// only once the transaction has committed.
type Store interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, tx OrderTx, after func(uow.AfterCommit)) error) error
	Order(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	OpenOrdersByBranch(ctx context.Context, branchID uuid.UUID) ([]domain.Order, error)
}

// NewStore adapts the postgres store to the lifecycle ports.
func NewStore(store *postgresrepo.Store) Store {
	return &pgStore{store: store, uow: uow.NewUoW(store)}
}

type pgStore struct {
	store *postgresrepo.Store
	uow   *uow.UoW
}

func (s *pgStore) Atomic(
	ctx context.Context,
	fn func(ctx context.Context, tx OrderTx, after func(uow.AfterCommit)) error,
) error {
	return s.uow.Do(ctx, func(ctx context.Context, db postgresrepo.DB, after func(uow.AfterCommit)) error {
		return fn(ctx, &pgTx{orders: s.store.Orders().With(db)}, after)
	})
}

func (s *pgStore) Order(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.store.Orders().Get(ctx, id)
}

func (s *pgStore) OpenOrdersByBranch(ctx context.Context, branchID uuid.UUID) ([]domain.Order, error) {
	return s.store.Orders().ListOpenByBranch(ctx, branchID)
}

type pgTx struct {
	orders *postgresrepo.OrderRepo
}

func (t *pgTx) Order(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return t.orders.Get(ctx, id)
}

func (t *pgTx) AdvanceStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus) error {
	return t.orders.AdvanceStatus(ctx, id, from, to)
}

func (t *pgTx) MarkPaid(ctx context.Context, id uuid.UUID, sessionID string, paidAt time.Time) error {
	return t.orders.MarkPaid(ctx, id, sessionID, paidAt)
}
