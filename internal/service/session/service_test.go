package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/evroni/qrtab/internal/domain"
	"github.com/evroni/qrtab/internal/qr"
	"github.com/evroni/qrtab/internal/repository"
)

type fakeTenants struct {
	secrets   map[uuid.UUID]string
	resellers map[uuid.UUID]*uuid.UUID
}

func (f *fakeTenants) SecretForVenue(_ context.Context, venueID uuid.UUID) (string, *uuid.UUID, error) {
	s, ok := f.secrets[venueID]
	if !ok {
		return "", nil, repository.ErrNotFound
	}
	return s, f.resellers[venueID], nil
}

type fakeTables struct {
	tables  map[uuid.UUID]*domain.TableContext
	numbers map[string]bool
}

func (f *fakeTables) Get(_ context.Context, id uuid.UUID) (*domain.Table, error) {
	tc, ok := f.tables[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	t := tc.Table
	return &t, nil
}

func (f *fakeTables) Context(_ context.Context, id uuid.UUID) (*domain.TableContext, error) {
	tc, ok := f.tables[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *tc
	return &cp, nil
}

func (f *fakeTables) Create(_ context.Context, t *domain.Table) error {
	key := fmt.Sprintf("%s/%s", t.BranchID, t.Number)
	if f.numbers[key] {
		return repository.ErrTableConflict
	}
	f.numbers[key] = true
	t.QRVersion = 1
	f.tables[t.ID] = &domain.TableContext{Table: *t, VenueID: uuid.New()}
	return nil
}

func (f *fakeTables) BumpQRVersion(_ context.Context, id uuid.UUID) (int, error) {
	tc, ok := f.tables[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	tc.QRVersion++
	return tc.QRVersion, nil
}

func newFixture() (*Service, *fakeTenants, *fakeTables, uuid.UUID) {
	venueID := uuid.New()
	tableID := uuid.New()

	tenants := &fakeTenants{
		secrets:   map[uuid.UUID]string{venueID: "reseller-secret"},
		resellers: map[uuid.UUID]*uuid.UUID{},
	}
	tables := &fakeTables{
		tables: map[uuid.UUID]*domain.TableContext{
			tableID: {
				Table: domain.Table{
					ID:        tableID,
					BranchID:  uuid.New(),
					Number:    "T7",
					Area:      "terrace",
					QRVersion: 1,
				},
				VenueID:   venueID,
				VenueName: "The Modern Bistro",
			},
		},
		numbers: map[string]bool{},
	}

	svc := New(tenants, tables, qr.NewCodec(), nil, Config{
		BaseURL:   "https://menu.example.com",
		DevSecret: "dev-secret-change-in-production",
	})

	return svc, tenants, tables, tableID
}

func TestIssueAndResolve(t *testing.T) {
	ctx := context.Background()
	svc, _, tables, tableID := newFixture()

	issued, err := svc.IssueTableToken(ctx, tableID)
	if err != nil {
		t.Fatalf("IssueTableToken failed: %v", err)
	}
	if !strings.HasPrefix(issued.MenuURL, "https://menu.example.com/menu?t=") {
		t.Errorf("unexpected menu url %q", issued.MenuURL)
	}

	tc, claims, err := svc.ResolveToken(ctx, issued.Token)
	if err != nil {
		t.Fatalf("ResolveToken failed: %v", err)
	}
	if tc.ID != tableID {
		t.Errorf("resolved table %s, want %s", tc.ID, tableID)
	}
	if claims.Version != tables.tables[tableID].QRVersion {
		t.Errorf("claims version %d, want %d", claims.Version, tables.tables[tableID].QRVersion)
	}
}

func TestResolveRejectsSupersededVersion(t *testing.T) {
	ctx := context.Background()
	svc, _, _, tableID := newFixture()

	issued, err := svc.IssueTableToken(ctx, tableID)
	if err != nil {
		t.Fatal(err)
	}

	// Re-issue bumps qr_version; the old print must stop resolving even
	// though its signature is still cryptographically valid.
	fresh, err := svc.ReissueQR(ctx, tableID)
	if err != nil {
		t.Fatalf("ReissueQR failed: %v", err)
	}

	if _, _, err := svc.ResolveToken(ctx, issued.Token); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("old token: want ErrTokenRevoked, got %v", err)
	}

	if _, _, err := svc.ResolveToken(ctx, fresh.Token); err != nil {
		t.Errorf("fresh token should resolve, got %v", err)
	}
}

func TestResolveRejectsTamperedToken(t *testing.T) {
	ctx := context.Background()
	svc, tenants, tables, tableID := newFixture()

	issued, err := svc.IssueTableToken(ctx, tableID)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("garbage token", func(t *testing.T) {
		if _, _, err := svc.ResolveToken(ctx, "garbage"); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("want ErrTokenInvalid, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		venueID := tables.tables[tableID].VenueID
		old := tenants.secrets[venueID]
		tenants.secrets[venueID] = "rotated"
		defer func() { tenants.secrets[venueID] = old }()

		if _, _, err := svc.ResolveToken(ctx, issued.Token); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("want ErrTokenInvalid after secret rotation, got %v", err)
		}
	})
}

func TestSecretFallback(t *testing.T) {
	ctx := context.Background()
	venueID := uuid.New()

	tenants := &fakeTenants{
		secrets:   map[uuid.UUID]string{venueID: ""},
		resellers: map[uuid.UUID]*uuid.UUID{},
	}

	t.Run("development falls back to dev secret", func(t *testing.T) {
		svc := New(tenants, &fakeTables{}, qr.NewCodec(), nil, Config{DevSecret: "dev"})
		secret, _, err := svc.SecretForVenue(ctx, venueID)
		if err != nil {
			t.Fatalf("SecretForVenue failed: %v", err)
		}
		if secret != "dev" {
			t.Errorf("secret = %q, want dev fallback", secret)
		}
	})

	t.Run("production fails closed", func(t *testing.T) {
		svc := New(tenants, &fakeTables{}, qr.NewCodec(), nil, Config{DevSecret: "dev", Production: true})
		if _, _, err := svc.SecretForVenue(ctx, venueID); !errors.Is(err, ErrSecretUnavailable) {
			t.Errorf("want ErrSecretUnavailable, got %v", err)
		}
	})

	t.Run("unknown venue", func(t *testing.T) {
		svc := New(tenants, &fakeTables{}, qr.NewCodec(), nil, Config{DevSecret: "dev"})
		if _, _, err := svc.SecretForVenue(ctx, uuid.New()); !errors.Is(err, ErrVenueNotFound) {
			t.Errorf("want ErrVenueNotFound, got %v", err)
		}
	})
}

func TestCreateTable(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newFixture()
	branchID := uuid.New()

	tbl, err := svc.CreateTable(ctx, branchID, "T1", "indoor")
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if tbl.QRVersion != 1 {
		t.Errorf("new table qr version = %d, want 1", tbl.QRVersion)
	}

	if _, err := svc.CreateTable(ctx, branchID, "T1", "indoor"); !errors.Is(err, ErrTableExists) {
		t.Errorf("duplicate number: want ErrTableExists, got %v", err)
	}

	if _, err := svc.CreateTable(ctx, branchID, "   ", ""); err == nil {
		t.Error("blank table number must be rejected")
	}
}
