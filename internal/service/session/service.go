package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evroni/qrtab/internal/domain"
	"github.com/evroni/qrtab/internal/qr"
	redisx "github.com/evroni/qrtab/internal/redis"
	"github.com/evroni/qrtab/internal/repository"
	redisrepo "github.com/evroni/qrtab/internal/repository/redis"
)

const contextCacheTTL = 30 * time.Second

// TenantStore resolves a venue to its reseller-level signing secret.
type TenantStore interface {
	SecretForVenue(ctx context.Context, venueID uuid.UUID) (string, *uuid.UUID, error)
}

// TableStore is the table registry: current qr_version plus area metadata.
type TableStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Table, error)
	Context(ctx context.Context, id uuid.UUID) (*domain.TableContext, error)
	Create(ctx context.Context, t *domain.Table) error
	BumpQRVersion(ctx context.Context, id uuid.UUID) (int, error)
}

type Config struct {
	BaseURL    string
	DevSecret  string
	Production bool
}

type Service struct {
	tenants TenantStore
	tables  TableStore
	codec   *qr.Codec
	cache   *redisrepo.Cache
	cfg     Config
}

func New(tenants TenantStore, tables TableStore, codec *qr.Codec, cache *redisrepo.Cache, cfg Config) *Service {
	return &Service{
		tenants: tenants,
		tables:  tables,
		codec:   codec,
		cache:   cache,
		cfg:     cfg,
	}
}

type IssuedToken struct {
	Token   string
	MenuURL string
	Version int
}

// SecretForVenue returns the signing secret for the venue's owning reseller.
// Without a configured secret, development builds fall back to the well-known
// dev secret; production fails closed.
func (s *Service) SecretForVenue(ctx context.Context, venueID uuid.UUID) (string, *uuid.UUID, error) {
	const op = "service.session.SecretForVenue"

	secret, resellerID, err := s.tenants.SecretForVenue(ctx, venueID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, fmt.Errorf("%s: %w", op, ErrVenueNotFound)
		}
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}

	if secret == "" {
		if s.cfg.Production {
			return "", nil, fmt.Errorf("%s: %w", op, ErrSecretUnavailable)
		}
		secret = s.cfg.DevSecret
	}

	return secret, resellerID, nil
}

// IssueTableToken signs a session token bound to the table's current
// qr_version and returns it with the fully-qualified menu URL.
func (s *Service) IssueTableToken(ctx context.Context, tableID uuid.UUID) (*IssuedToken, error) {
	const op = "service.session.IssueTableToken"

	tc, err := s.tables.Context(ctx, tableID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrTableNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	secret, resellerID, err := s.SecretForVenue(ctx, tc.VenueID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	token, err := s.codec.Issue(secret, qr.Claims{
		ResellerID: resellerID,
		VenueID:    tc.VenueID,
		BranchID:   tc.BranchID,
		TableID:    tc.ID,
		Version:    tc.QRVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &IssuedToken{
		Token:   token,
		MenuURL: fmt.Sprintf("%s/menu?t=%s", strings.TrimRight(s.cfg.BaseURL, "/"), url.QueryEscape(token)),
		Version: tc.QRVersion,
	}, nil
}

// ResolveToken verifies a scanned token and binds it to the live table row.
// A cryptographically valid token whose version trails the table's current
// qr_version is rejected: re-issuing a QR revokes all earlier prints.
func (s *Service) ResolveToken(ctx context.Context, token string) (*domain.TableContext, *qr.Claims, error) {
	const op = "service.session.ResolveToken"

	// Signature is not checked yet; the unverified claims only tell us which
	// venue's secret to verify with.
	hint, err := s.codec.Decode(token)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}

	secret, _, err := s.SecretForVenue(ctx, hint.VenueID)
	if err != nil {
		if errors.Is(err, ErrVenueNotFound) {
			return nil, nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
		}
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	claims, err := s.codec.Verify(token, secret)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}

	tc, err := s.tableContext(ctx, claims.TableID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, fmt.Errorf("%s: %w", op, ErrTableNotFound)
		}
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	if claims.Version != tc.QRVersion {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrTokenRevoked)
	}

	if claims.BranchID != tc.BranchID || claims.VenueID != tc.VenueID {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}

	return tc, claims, nil
}

// CreateTable registers a table; (branch, number) must be unique.
func (s *Service) CreateTable(ctx context.Context, branchID uuid.UUID, number, area string) (*domain.Table, error) {
	const op = "service.session.CreateTable"

	number = strings.TrimSpace(number)
	if number == "" {
		return nil, fmt.Errorf("%s: empty table number", op)
	}

	t := &domain.Table{
		ID:       uuid.New(),
		BranchID: branchID,
		Number:   number,
		Area:     area,
	}

	if err := s.tables.Create(ctx, t); err != nil {
		if errors.Is(err, repository.ErrTableConflict) {
			return nil, fmt.Errorf("%s: %w", op, ErrTableExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return t, nil
}

// ReissueQR bumps the table's qr_version and issues a fresh token. Every
// previously printed QR image for the table stops resolving immediately,
// without rotating the reseller secret.
func (s *Service) ReissueQR(ctx context.Context, tableID uuid.UUID) (*IssuedToken, error) {
	const op = "service.session.ReissueQR"

	if _, err := s.tables.BumpQRVersion(ctx, tableID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrTableNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.cache != nil {
		_ = s.cache.InvalidateTable(ctx, tableID)
	}

	issued, err := s.IssueTableToken(ctx, tableID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return issued, nil
}

func (s *Service) tableContext(ctx context.Context, tableID uuid.UUID) (*domain.TableContext, error) {
	if s.cache == nil {
		return s.tables.Context(ctx, tableID)
	}

	tc, err := redisrepo.GetOrSetJSON(ctx, s.cache, redisx.KeySessionContext(tableID), contextCacheTTL,
		func(ctx context.Context) (domain.TableContext, error) {
			got, err := s.tables.Context(ctx, tableID)
			if err != nil {
				return domain.TableContext{}, err
			}
			return *got, nil
		})
	if err != nil {
		return nil, err
	}

	return &tc, nil
}
