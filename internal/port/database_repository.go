package port

import (
	"context"

	"github.com/rl1809/storefront/internal/core/domain"
)

type DatabaseRepository interface {
	// PlaceOrder atomically inserts the order with its lines and decrements
	// stock for every referenced product. Returns the materialized order on
	// commit; on any failure no partial state is left behind.
	PlaceOrder(ctx context.Context, userID string, lines []domain.PurchaseLine) (domain.Order, error)

	// ListOrders returns one page of orders, newest first, with the total
	// matching count. search matches the owning user's name or email,
	// case-insensitively.
	ListOrders(ctx context.Context, page, pageSize int, search string) ([]domain.Order, int, error)

	// GetUser retrieves a user by id, domain.ErrNotFound if absent.
	GetUser(ctx context.Context, id string) (domain.User, error)

	// GetProducts retrieves products by id; missing ids are simply absent from
	// the result.
	GetProducts(ctx context.Context, ids []string) ([]domain.Product, error)
}
