package redisx

import (
	"fmt"

	"github.com/google/uuid"
)

const ns = "qrtab:v1"

func KeySessionContext(tableID uuid.UUID) string {
	return fmt.Sprintf("%s:table:%s:session", ns, tableID)
}

func KeyBranchOpenOrders(branchID uuid.UUID) string {
	return fmt.Sprintf("%s:branch:%s:open", ns, branchID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelBranchOrders(branchID uuid.UUID) string {
	return fmt.Sprintf("%s:branch:%s:orders", ns, branchID)
}
