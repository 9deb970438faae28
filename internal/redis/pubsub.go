package redisx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/evroni/qrtab/internal/domain"
)

// OrdersPubSub fans out full order snapshots per branch. Delivery is
// at-least-once and unordered; consumers keep the snapshot with the newest
// UpdatedAt and drop the rest.
type OrdersPubSub struct {
	rdb *redis.Client
}

func NewOrdersPubSub(rdb *redis.Client) *OrdersPubSub {
	return &OrdersPubSub{rdb: rdb}
}

type OrderSnapshotMsg struct {
	Type      string       `json:"type"`
	Order     domain.Order `json:"order"`
	UpdatedAt time.Time    `json:"updated_at"`
	TsUnix    int64        `json:"ts_unix"`
}

func (p *OrdersPubSub) PublishOrderChanged(ctx context.Context, o *domain.Order) error {
	msg := OrderSnapshotMsg{
		Type:      "order_changed",
		Order:     *o,
		UpdatedAt: o.UpdatedAt,
		TsUnix:    time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, ChannelBranchOrders(o.BranchID), b).Err()
}

func (p *OrdersPubSub) Subscribe(
	ctx context.Context,
	branchID uuid.UUID,
	handler func(ctx context.Context, snapshot *domain.Order),
) error {
	sub := p.rdb.Subscribe(ctx, ChannelBranchOrders(branchID))
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg OrderSnapshotMsg
			if err := json.Unmarshal([]byte(m.Payload), &msg); err == nil &&
				msg.Order.ID != uuid.Nil {
				handler(ctx, &msg.Order)
			}
		}
	}
}
