package postgresrepo

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evroni/qrtab/internal/domain"
)

type TableRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *TableRepo) With(db DB) *TableRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *TableRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *TableRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Table, error) {
	const op = "postgresrepo.TableRepo.Get"

	db := r.handle()

	var t domain.Table
	err := db.QueryRow(ctx,
		`SELECT id, branch_id, number, area, qr_version
       	 FROM tables WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.BranchID, &t.Number, &t.Area, &t.QRVersion)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &t, nil
}

// Context joins a table with its owning branch and venue; the QR token claims
// are built from exactly this row.
func (r *TableRepo) Context(ctx context.Context, id uuid.UUID) (*domain.TableContext, error) {
	const op = "postgresrepo.TableRepo.Context"

	db := r.handle()

	var tc domain.TableContext
	err := db.QueryRow(ctx,
		`SELECT t.id, t.branch_id, t.number, t.area, t.qr_version, b.venue_id, v.name
       	 FROM tables t
       	 JOIN branches b ON b.id = t.branch_id
       	 JOIN venues v ON v.id = b.venue_id
      	 WHERE t.id = $1`,
		id,
	).Scan(&tc.ID, &tc.BranchID, &tc.Number, &tc.Area, &tc.QRVersion, &tc.VenueID, &tc.VenueName)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &tc, nil
}

func (r *TableRepo) Create(ctx context.Context, t *domain.Table) error {
	const op = "postgresrepo.TableRepo.Create"

	db := r.handle()

	err := db.QueryRow(ctx,
		`INSERT INTO tables (id, branch_id, number, area, qr_version)
       	 VALUES ($1, $2, $3, $4, 1)
       	 RETURNING qr_version`,
		t.ID, t.BranchID, t.Number, t.Area,
	).Scan(&t.QRVersion)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// BumpQRVersion increments the revocation version and returns the new value.
// Every token carrying an older version becomes logically invalid at once.
func (r *TableRepo) BumpQRVersion(ctx context.Context, id uuid.UUID) (int, error) {
	const op = "postgresrepo.TableRepo.BumpQRVersion"

	db := r.handle()

	var version int
	err := db.QueryRow(ctx,
		`UPDATE tables SET qr_version = qr_version + 1
      	 WHERE id = $1
      	 RETURNING qr_version`,
		id,
	).Scan(&version)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return version, nil
}

func (r *TableRepo) ListByBranch(ctx context.Context, branchID uuid.UUID) ([]domain.Table, error) {
	const op = "postgresrepo.TableRepo.ListByBranch"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, branch_id, number, area, qr_version
       	 FROM tables WHERE branch_id = $1
       	 ORDER BY number`,
		branchID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}
	defer rows.Close()

	var out []domain.Table
	for rows.Next() {
		var t domain.Table
		if err := rows.Scan(&t.ID, &t.BranchID, &t.Number, &t.Area, &t.QRVersion); err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}
