// Package lifecycle owns the order state machine: strictly forward status
// moves and the one-way PENDING -> PAID payment flip. Both guest-facing and
// webhook writers funnel through it, so this package, not either producer,
// is the source of truth for "is this already paid".
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evroni/qrtab/internal/domain"
	redisx "github.com/evroni/qrtab/internal/redis"
	"github.com/evroni/qrtab/internal/repository"
	postgresrepo "github.com/evroni/qrtab/internal/repository/postgres"
	redisrepo "github.com/evroni/qrtab/internal/repository/redis"
	"github.com/evroni/qrtab/internal/uow"
)

const maxTransitionRetries = 3

// openOrdersCacheTTL matches the Cache-Control max-age the kitchen-display
// endpoint serves with.
const openOrdersCacheTTL = 5 * time.Second

type Service struct {
	store  Store
	cache  *redisrepo.Cache
	pubsub *redisx.OrdersPubSub
}

func New(
	store Store,
	cache *redisrepo.Cache,
	pubsub *redisx.OrdersPubSub,
) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		pubsub: pubsub,
	}
}

func (s *Service) Get(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	const op = "service.lifecycle.Get"

	o, err := s.store.Order(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrOrderNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return o, nil
}

// ListOpenByBranch serves the kitchen display. The listing is read far more
// often than it changes, so it loads through the branch cache key that every
// order mutation invalidates.
func (s *Service) ListOpenByBranch(ctx context.Context, branchID uuid.UUID) ([]domain.Order, error) {
	const op = "service.lifecycle.ListOpenByBranch"

	if s.cache == nil {
		orders, err := s.store.OpenOrdersByBranch(ctx, branchID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return orders, nil
	}

	orders, err := redisrepo.GetOrSetJSON(ctx, s.cache, redisx.KeyBranchOpenOrders(branchID), openOrdersCacheTTL,
		func(ctx context.Context) ([]domain.Order, error) {
			return s.store.OpenOrdersByBranch(ctx, branchID)
		})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return orders, nil
}

// Advance moves an order to targetStatus. The target must be the immediate
// successor of the current status; re-applying the current status is a no-op.
/// A compare-and-swap on the status column resolves concurrent writers: the
// loser re-reads the row and re-evaluates against it.
func (s *Service) Advance(
	ctx context.Context,
	orderID uuid.UUID,
	target domain.OrderStatus,
) (*domain.Order, error) {
	const op = "service.lifecycle.Advance"

	if !target.Valid() {
		return nil, fmt.Errorf("%s: %w: unknown status %q", op, ErrInvalidTransition, target)
	}

	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		o, err := s.advanceOnce(ctx, orderID, target)
		if err == nil {
			return o, nil
		}
		if errors.Is(err, repository.ErrStaleOrder) || postgresrepo.IsRetryable(err) {
			continue
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return nil, fmt.Errorf("%s: %w", op, ErrTooManyRetries)
}

func (s *Service) advanceOnce(
	ctx context.Context,
	orderID uuid.UUID,
	target domain.OrderStatus,
) (*domain.Order, error) {
	var result *domain.Order

	err := s.store.Atomic(ctx, func(
		ctx context.Context,
		tx OrderTx,
		after func(uow.AfterCommit),
	) error {
		o, err := tx.Order(ctx, orderID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		if o.Status == target {
			result = o
			return nil
		}

		if !domain.CanTransition(o.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, target)
		}

		if err := tx.AdvanceStatus(ctx, orderID, o.Status, target); err != nil {
			return err
		}

		updated, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		result = updated

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

// MarkPaid flips the order to PAID and records the external payment reference
// and timestamp. Re-applying is a successful no-op that leaves the first
// recorded reference and paid_at untouched. Status is deliberately not
// changed here; the caller decides whether payment also closes the order.
func (s *Service) MarkPaid(
	ctx context.Context,
	orderID uuid.UUID,
	externalRef string,
) (*domain.Order, error) {
	const op = "service.lifecycle.MarkPaid"

	var result *domain.Order

	err := s.store.Atomic(ctx, func(
		ctx context.Context,
		tx OrderTx,
		after func(uow.AfterCommit),
	) error {
		err := tx.MarkPaid(ctx, orderID, externalRef, time.Now().UTC())
		if errors.Is(err, repository.ErrAlreadyPaid) {
			o, getErr := tx.Order(ctx, orderID)
			if getErr != nil {
				return getErr
			}
			result = o
			return nil
		}
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		o, err := tx.Order(ctx, orderID)
		if err != nil {
			return err
		}
		result = o

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
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return result, nil
}
