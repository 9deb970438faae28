package postgresrepo

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evroni/qrtab/internal/domain"
)

type TenantRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *TenantRepo) With(db DB) *TenantRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *TenantRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *TenantRepo) GetVenue(ctx context.Context, id uuid.UUID) (*domain.Venue, error) {
	const op = "postgresrepo.TenantRepo.GetVenue"

	db := r.handle()

	var v domain.Venue
	err := db.QueryRow(ctx,
		`SELECT id, reseller_id, name, slug
       	 FROM venues WHERE id = $1`,
		id,
	).Scan(&v.ID, &v.ResellerID, &v.Name, &v.Slug)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &v, nil
}

// SecretForVenue returns the venue's reseller signing secret, if any.
// A venue without a reseller (or a reseller without a configured secret)
// yields an empty secret; the session service decides what that means.
func (r *TenantRepo) SecretForVenue(
	ctx context.Context,
	venueID uuid.UUID,
) (secret string, resellerID *uuid.UUID, err error) {
	const op = "postgresrepo.TenantRepo.SecretForVenue"

	db := r.handle()

	var s *string
	err = db.QueryRow(ctx,
		`SELECT v.reseller_id, r.qr_signing_secret
       	 FROM venues v
       	 LEFT JOIN resellers r ON r.id = v.reseller_id
      	 WHERE v.id = $1`,
		venueID,
	).Scan(&resellerID, &s)
	if err != nil {
		return "", nil, wrapDBErr(op, err)
	}

	if s != nil {
		secret = *s
	}

	return secret, resellerID, nil
}
