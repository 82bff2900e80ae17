package purchase

import (
	"context"
)

// Repository defines the interface for purchase persistence operations
type Repository interface {
	// Create inserts the purchase; a pg_purchase_id conflict is reported
	// as an already-exists error so callers can treat replays as no-ops
	Create(ctx context.Context, p *Purchase) error
	GetByID(ctx context.Context, id string) (*Purchase, error)
	GetByPGPurchaseID(ctx context.Context, pgPurchaseID string) (*Purchase, error)
	ListByUserID(ctx context.Context, userID string) ([]*Purchase, error)
}
