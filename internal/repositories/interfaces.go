package repositories

import (
	"context"

	domain "github.com/posterparlor/storefront/internal/domain"
)

// CartSnapshotRepository persists the full local cart as a single snapshot.
// Implementations must make Save durable before returning.
type CartSnapshotRepository interface {
	Load(ctx context.Context) ([]domain.CartItem, error)
	Save(ctx context.Context, items []domain.CartItem) error
	Close() error
}
