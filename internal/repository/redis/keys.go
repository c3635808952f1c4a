package redis

import (
	"fmt"

	"github.com/google/uuid"
)

const ns = "tixcheckout:v1"

func KeyEventAvailability(eventID uuid.UUID) string {
	return fmt.Sprintf("%s:event:%s:availability", ns, eventID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func KeyIdemOrder(buyerID, idemKey string) string {
	return fmt.Sprintf("%s:idem:orders:%s:%s", ns, buyerID, idemKey)
}

func KeyLock(name string) string {
	return fmt.Sprintf("%s:lock:%s", ns, name)
}

func ChannelInventoryChanged() string {
	return ns + ":inventory:changed"
}

func ChannelOrderStatus(orderID uuid.UUID) string {
	return fmt.Sprintf("%s:order:%s:status", ns, orderID)
}
