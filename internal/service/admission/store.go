package admission

import (
	"context"

	"github.com/google/uuid"

	"github.com/evroni/qrtab/internal/domain"
	postgresrepo "github.com/evroni/qrtab/internal/repository/postgres"
	"github.com/evroni/qrtab/internal/uow"
)

// OrderTx is the slice of storage one admission transaction touches.
type OrderTx interface {
	OrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	Table(ctx context.Context, id uuid.UUID) (*domain.Table, error)
	OpenOrderForTable(ctx context.Context, branchID, tableID uuid.UUID) (*domain.Order, error)
	InsertOrder(ctx context.Context, o *domain.Order) error
	MergeOrder(ctx context.Context, o *domain.Order) error
}

// Store runs admission transactions. Hooks registered through after fire only
// once the transaction has committed.
type Store interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, tx OrderTx, after func(uow.AfterCommit)) error) error
	OrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
}

// NewStore adapts the postgres store to the admission ports.
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
		return fn(ctx, &pgTx{
			orders: s.store.Orders().With(db),
			tables: s.store.Tables().With(db),
		}, after)
	})
}

func (s *pgStore) OrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return s.store.Orders().GetByIdempotencyKey(ctx, key)
}

type pgTx struct {
	orders *postgresrepo.OrderRepo
	tables *postgresrepo.TableRepo
}

func (t *pgTx) OrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return t.orders.GetByIdempotencyKey(ctx, key)
}

func (t *pgTx) Table(ctx context.Context, id uuid.UUID) (*domain.Table, error) {
	return t.tables.Get(ctx, id)
}

func (t *pgTx) OpenOrderForTable(ctx context.Context, branchID, tableID uuid.UUID) (*domain.Order, error) {
	return t.orders.OpenOrderForTable(ctx, branchID, tableID)
}

func (t *pgTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	return t.orders.Insert(ctx, o)
}

func (t *pgTx) MergeOrder(ctx context.Context, o *domain.Order) error {
	return t.orders.Merge(ctx, o)
}
