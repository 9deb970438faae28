// Package admission owns order intake: each table carries at most one open
// order, so a checkout either creates that order or merges into it, and a
// request replayed under its idempotency key returns the stored snapshot
// without side effects.
package admission

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/evroni/qrtab/internal/domain"
	redisx "github.com/evroni/qrtab/internal/redis"
	"github.com/evroni/qrtab/internal/repository"
	postgresrepo "github.com/evroni/qrtab/internal/repository/postgres"
	redisrepo "github.com/evroni/qrtab/internal/repository/redis"
	"github.com/evroni/qrtab/internal/uow"
)

const maxAdmissionRetries = 3

type Config struct {
	TaxRate decimal.Decimal
}

type Service struct {
	store   Store
	cache   *redisrepo.Cache
	pubsub  *redisx.OrdersPubSub
	limiter *redisrepo.SlidingWindowLimiter
	cfg     Config
}

func New(
	store Store,
	cache *redisrepo.Cache,
	pubsub *redisx.OrdersPubSub,
	limiter *redisrepo.SlidingWindowLimiter,
	cfg Config,
) *Service {
	if cfg.TaxRate.IsZero() {
		cfg.TaxRate = decimal.NewFromFloat(0.10)
	}

	return &Service{
		store:   store,
		cache:   cache,
		pubsub:  pubsub,
		limiter: limiter,
		cfg:     cfg,
	}
}

// PlaceOrder admits a checkout: it either creates the table's single open
// order or merges into it, and replays the prior result when the idempotency
// key has been seen before. Losing a race on the open-order index retries the
// whole transaction against the now-current row.
func (s *Service) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand, rlKey string) (*domain.Order, error) {
	const op = "service.admission.PlaceOrder"

	if err := cmd.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.limiter != nil && rlKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, rlKey)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s: %w: retry in %s", op, ErrRateLimited, retry)
		}
	}

	var result *domain.Order
	var lastErr error

	for attempt := 0; attempt < maxAdmissionRetries; attempt++ {
		result, lastErr = s.placeOnce(ctx, &cmd)
		if lastErr == nil {
			return result, nil
		}

		// Another admission won the open-order index or the serializable
		// transaction; retry merges into whatever they committed.
		if errors.Is(lastErr, repository.ErrOpenOrder) || postgresrepo.IsRetryable(lastErr) {
			continue
		}

		// A concurrent retry of the same request inserted our key first:
		// that is a replay, not an error.
		if errors.Is(lastErr, repository.ErrDuplicateKey) {
			prev, err := s.store.OrderByIdempotencyKey(ctx, cmd.IdempotencyKey)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			return prev, nil
		}

		return nil, fmt.Errorf("%s: %w", op, lastErr)
	}

	return nil, fmt.Errorf("%s: %w: %w", op, ErrTooManyRetries, lastErr)
}

func (s *Service) placeOnce(ctx context.Context, cmd *PlaceOrderCommand) (*domain.Order, error) {
	var result *domain.Order

	err := s.store.Atomic(ctx, func(
		ctx context.Context,
		tx OrderTx,
		after func(uow.AfterCommit),
	) error {
		// Idempotency replay: an already-applied request returns the stored
		// snapshot without side effects.
		prev, err := tx.OrderByIdempotencyKey(ctx, cmd.IdempotencyKey)
		if err == nil {
			result = prev
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		table, err := tx.Table(ctx, cmd.TableID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrTableNotFound
			}
			return err
		}
		if table.BranchID != cmd.BranchID {
			return ErrTableNotFound
		}

		tot := computeTotals(cmd.Items, cmd.Tip, s.cfg.TaxRate)
		items := buildItems(cmd.Items)

		open, err := tx.OpenOrderForTable(ctx, cmd.BranchID, cmd.TableID)
		switch {
		case err == nil:
			// The row takes over this request's key so replaying it hits
			// the lookup above instead of merging twice.
			open.IdempotencyKey = cmd.IdempotencyKey
			open.Items = items
			open.Subtotal = tot.Subtotal
			open.Tax = tot.Tax
			open.Tip = tot.Tip
			open.Total = tot.Total
			open.Notes = cmd.Notes
			if err := tx.MergeOrder(ctx, open); err != nil {
				return err
			}
			result = open
		case errors.Is(err, repository.ErrNotFound):
			o := &domain.Order{
				ID:             uuid.New(),
				BranchID:       cmd.BranchID,
				TableID:        cmd.TableID,
				OrderNumber:    newOrderNumber(),
				IdempotencyKey: cmd.IdempotencyKey,
				Status:         domain.StatusNew,
				PaymentStatus:  domain.PaymentPending,
				Subtotal:       tot.Subtotal,
				Tax:            tot.Tax,
				Tip:            tot.Tip,
				Total:          tot.Total,
				Notes:          cmd.Notes,
				Items:          items,
			}
			if err := tx.InsertOrder(ctx, o); err != nil {
				return err
			}
			result = o
		default:
			return err
		}

		after(func(ctx context.Context) {
			if s.cache != nil {
				_ = s.cache.InvalidateBranch(ctx, result.BranchID)
			}
			if s.pubsub != nil {
				_ = s.pubsub.PublishOrderChanged(ctx, result)
			}
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func newOrderNumber() string {
	b := make([]byte, 3)
	_, _ = rand.Read(b)
	return fmt.Sprintf("ORD-%s-%s",
		time.Now().UTC().Format("060102"),
		strings.ToUpper(hex.EncodeToString(b)))
}
