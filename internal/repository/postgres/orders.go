package postgresrepo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evroni/qrtab/internal/domain"
	"github.com/evroni/qrtab/internal/repository"
)

const orderColumns = `id, branch_id, table_id, order_number, idempotency_key,
	status, payment_status, subtotal, tax, tip, total, notes,
	stripe_session_id, paid_at, created_at, updated_at`

type OrderRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *OrderRepo) With(db DB) *OrderRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *OrderRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *OrderRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	const op = "postgresrepo.OrderRepo.Get"

	db := r.handle()

	o, err := r.scanOrder(ctx, db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	if err := r.loadItems(ctx, db, o); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return o, nil
}

func (r *OrderRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	const op = "postgresrepo.OrderRepo.GetByIdempotencyKey"

	db := r.handle()

	o, err := r.scanOrder(ctx, db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1`, key))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	if err := r.loadItems(ctx, db, o); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return o, nil
}

// OpenOrderForTable returns the single non-CLOSED order for a table, locking
// the row for the rest of the transaction. Only call inside RunTx.
func (r *OrderRepo) OpenOrderForTable(
	ctx context.Context,
	branchID, tableID uuid.UUID,
) (*domain.Order, error) {
	const op = "postgresrepo.OrderRepo.OpenOrderForTable"

	db := r.handle()

	o, err := r.scanOrder(ctx, db.QueryRow(ctx,
		`SELECT `+orderColumns+`
       	 FROM orders
      	 WHERE branch_id = $1 AND table_id = $2 AND status <> 'CLOSED'
      	 FOR UPDATE`,
		branchID, tableID))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	if err := r.loadItems(ctx, db, o); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return o, nil
}

// Insert writes a new order with its item snapshot. The partial unique index
// on (branch_id, table_id) for non-CLOSED rows rejects a second open order
// even when two admissions race past the existence check; that surfaces as
// repository.ErrOpenOrder.
func (r *OrderRepo) Insert(ctx context.Context, o *domain.Order) error {
	const op = "postgresrepo.OrderRepo.Insert"

	db := r.handle()

	err := db.QueryRow(ctx,
		`INSERT INTO orders (id, branch_id, table_id, order_number, idempotency_key,
                             status, payment_status, subtotal, tax, tip, total, notes)
       	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
       	 RETURNING created_at, updated_at`,
		o.ID, o.BranchID, o.TableID, o.OrderNumber, o.IdempotencyKey,
		o.Status, o.PaymentStatus, o.Subtotal, o.Tax, o.Tip, o.Total, o.Notes,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if err := r.insertItems(ctx, db, o.ID, o.Items); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// Merge replaces the item snapshot of an existing open order and rewrites its
// totals and notes. The row takes over the merging request's idempotency key,
// so replays of that request find the row and short-circuit instead of
// re-running the merge. The caller holds the row lock from OpenOrderForTable.
func (r *OrderRepo) Merge(ctx context.Context, o *domain.Order) error {
	const op = "postgresrepo.OrderRepo.Merge"

	db := r.handle()

	err := db.QueryRow(ctx,
		`UPDATE orders
        	SET idempotency_key = $2, subtotal = $3, tax = $4, tip = $5,
            	total = $6, notes = $7, updated_at = now()
      	 WHERE id = $1
      	 RETURNING updated_at`,
		o.ID, o.IdempotencyKey, o.Subtotal, o.Tax, o.Tip, o.Total, o.Notes,
	).Scan(&o.UpdatedAt)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if _, err := db.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, o.ID); err != nil {
		return wrapDBErr(op, err)
	}

	if err := r.insertItems(ctx, db, o.ID, o.Items); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// AdvanceStatus moves an order from exactly `from` to `to`. Zero rows affected
// means another writer got there first; the caller re-reads and retries.
func (r *OrderRepo) AdvanceStatus(
	ctx context.Context,
	id uuid.UUID,
	from, to domain.OrderStatus,
) error {
	const op = "postgresrepo.OrderRepo.AdvanceStatus"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE orders SET status = $3, updated_at = now()
      	 WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return wrapDBErr(op, err)
		}
		if !exists {
			return wrapDBErr(op, repository.ErrNotFound)
		}
		return wrapDBErr(op, repository.ErrStaleOrder)
	}

	return nil
}

// MarkPaid flips payment_status to PAID once. A replay leaves the first
// recorded session id and paid_at untouched and reports ErrAlreadyPaid so the
// caller can treat it as a no-op.
func (r *OrderRepo) MarkPaid(ctx context.Context, id uuid.UUID, sessionID string, paidAt time.Time) error {
	const op = "postgresrepo.OrderRepo.MarkPaid"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE orders
        	SET payment_status = 'PAID', stripe_session_id = $2, paid_at = $3,
            	updated_at = now()
      	 WHERE id = $1 AND payment_status = 'PENDING'`,
		id, sessionID, paidAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		var status domain.PaymentStatus
		err := db.QueryRow(ctx,
			`SELECT payment_status FROM orders WHERE id = $1`, id,
		).Scan(&status)
		if err != nil {
			return wrapDBErr(op, err)
		}
		if status == domain.PaymentPaid {
			return wrapDBErr(op, repository.ErrAlreadyPaid)
		}
		return wrapDBErr(op, repository.ErrStaleOrder)
	}

	return nil
}

func (r *OrderRepo) ListOpenByBranch(ctx context.Context, branchID uuid.UUID) ([]domain.Order, error) {
	const op = "postgresrepo.OrderRepo.ListOpenByBranch"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT `+orderColumns+`
       	 FROM orders
      	 WHERE branch_id = $1 AND status <> 'CLOSED'
      	 ORDER BY created_at DESC`,
		branchID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := r.scanOrder(ctx, rows)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	for i := range out {
		if err := r.loadItems(ctx, db, &out[i]); err != nil {
			return nil, wrapDBErr(op, err)
		}
	}

	return out, nil
}

func (r *OrderRepo) scanOrder(ctx context.Context, row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.BranchID, &o.TableID, &o.OrderNumber, &o.IdempotencyKey,
		&o.Status, &o.PaymentStatus, &o.Subtotal, &o.Tax, &o.Tip, &o.Total,
		&o.Notes, &o.StripeSessionID, &o.PaidAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepo) loadItems(ctx context.Context, db DB, o *domain.Order) error {
	rows, err := db.Query(ctx,
		`SELECT id, order_id, menu_item_id, item_name, price_at_order,
                quantity, subtotal, modifiers
       	 FROM order_items WHERE order_id = $1`,
		o.ID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	o.Items = o.Items[:0]
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(
			&it.ID, &it.OrderID, &it.MenuItemID, &it.ItemName,
			&it.PriceAtOrder, &it.Quantity, &it.Subtotal, &it.Modifiers,
		); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}

	return rows.Err()
}

func (r *OrderRepo) insertItems(ctx context.Context, db DB, orderID uuid.UUID, items []domain.OrderItem) error {
	batch := &pgx.Batch{}
	for i := range items {
		it := &items[i]
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		it.OrderID = orderID
		batch.Queue(
			`INSERT INTO order_items (id, order_id, menu_item_id, item_name,
                                      price_at_order, quantity, subtotal, modifiers)
           	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			it.ID, it.OrderID, it.MenuItemID, it.ItemName,
			it.PriceAtOrder, it.Quantity, it.Subtotal, it.Modifiers,
		)
	}
	return db.SendBatch(ctx, batch).Close()
}
