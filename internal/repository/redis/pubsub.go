package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/redis/go-redis/v9"
)

// PubSub fans out inventory and order status changes to other replicas and
// to SSE subscribers.
type PubSub struct {
	rdb *redis.Client
}

func NewPubSub(rdb *redis.Client) *PubSub {
	return &PubSub{rdb: rdb}
}

type inventoryChangedMsg struct {
	Type      string    `json:"type"`
	EventID   uuid.UUID `json:"event_id"`
	Available int       `json:"available"`
	TsUnix    int64     `json:"ts_unix"`
}

// OrderStatusMsg is published on the order's channel after every applied
// transition.
type OrderStatusMsg struct {
	OrderID uuid.UUID          `json:"order_id"`
	Status  domain.OrderStatus `json:"status"`
	TsUnix  int64              `json:"ts_unix"`
}

func (p *PubSub) PublishInventoryChanged(ctx context.Context, eventID uuid.UUID, available int) error {
	msg := inventoryChangedMsg{
		Type:      "inventory_changed",
		EventID:   eventID,
		Available: available,
		TsUnix:    time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, ChannelInventoryChanged(), b).Err()
}

func (p *PubSub) PublishOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) error {
	msg := OrderStatusMsg{
		OrderID: orderID,
		Status:  status,
		TsUnix:  time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, ChannelOrderStatus(orderID), b).Err()
}

// SubscribeOrder calls handler for every status message of orderID until ctx
// is done or the subscription is closed.
func (p *PubSub) SubscribeOrder(
	ctx context.Context,
	orderID uuid.UUID,
	handler func(ctx context.Context, msg OrderStatusMsg),
) error {
	sub := p.rdb.Subscribe(ctx, ChannelOrderStatus(orderID))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel(redis.WithChannelSize(16))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg OrderStatusMsg
			if err := json.Unmarshal([]byte(m.Payload), &msg); err == nil &&
				msg.OrderID == orderID {
				handler(ctx, msg)
			}
		}
	}
}
