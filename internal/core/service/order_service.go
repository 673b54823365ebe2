package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/port"
)

const (
	// placeOrderAttempts bounds retries on transaction conflicts. The retry
	// reruns the whole transaction with the same inputs, so it never
	// double-applies.
	placeOrderAttempts = 3
	conflictBackoff    = 10 * time.Millisecond

	notificationKind = "order.confirmation"
)

type OrderService struct {
	db       port.DatabaseRepository
	cache    port.CacheRepository
	versions *VersionCounter
	notifier port.Notifier
	logger   *zap.Logger
}

func NewOrderService(db port.DatabaseRepository, cache port.CacheRepository, versions *VersionCounter, notifier port.Notifier, logger *zap.Logger) *OrderService {
	return &OrderService{
		db:       db,
		cache:    cache,
		versions: versions,
		notifier: notifier,
		logger:   logger,
	}
}

// OrderConfirmation is the payload handed to the notification sink after a
// placement commits.
type OrderConfirmation struct {
	OrderID    string `json:"orderId"`
	UserEmail  string `json:"userEmail"`
	TotalCents int64  `json:"totalCents"`
}

// PlaceOrder validates the purchase request, runs the atomic
// create-and-decrement transaction, and on commit bumps the listing version
// and enqueues the confirmation. Version bump and notification run strictly
// after commit and never fail the already-committed order.
func (s *OrderService) PlaceOrder(ctx context.Context, userID string, lines []domain.PurchaseLine) (domain.Order, error) {
	if err := validatePurchase(userID, lines); err != nil {
		return domain.Order{}, err
	}

	if err := s.precheck(ctx, userID, lines); err != nil {
		return domain.Order{}, err
	}

	var (
		order domain.Order
		err   error
	)
	for attempt := 1; ; attempt++ {
		order, err = s.db.PlaceOrder(ctx, userID, lines)
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			break
		}
		if attempt == placeOrderAttempts {
			s.logger.Error("placement conflict retries exhausted",
				zap.String("user_id", userID), zap.Int("attempts", attempt))
			return domain.Order{}, fmt.Errorf("place order: %w", err)
		}
		s.logger.Debug("placement conflict, retrying",
			zap.String("user_id", userID), zap.Int("attempt", attempt))
		select {
		case <-ctx.Done():
			return domain.Order{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * conflictBackoff):
		}
	}
	if err != nil {
		return domain.Order{}, err
	}

	version := s.versions.Bump(ctx)
	s.logger.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.Int64("total_cents", order.TotalCents),
		zap.Int64("version", version))

	confirmation := OrderConfirmation{
		OrderID:    order.ID,
		TotalCents: order.TotalCents,
	}
	if order.User != nil {
		confirmation.UserEmail = order.User.Email
	}
	if !s.notifier.Enqueue(notificationKind, confirmation) {
		s.logger.Warn("confirmation dropped", zap.String("order_id", order.ID))
	}

	return order, nil
}

// precheck fast-fails obviously doomed requests before opening a transaction.
// The transaction re-validates everything under lock, so this is advisory
// only.
func (s *OrderService) precheck(ctx context.Context, userID string, lines []domain.PurchaseLine) error {
	if _, err := s.db.GetUser(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	products, err := s.db.GetProducts(ctx, ids)
	if err != nil {
		return fmt.Errorf("lookup products: %w", err)
	}
	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	for _, l := range lines {
		p, ok := byID[l.ProductID]
		if !ok {
			return fmt.Errorf("product %s: %w", l.ProductID, domain.ErrNotFound)
		}
		if p.Stock < l.Quantity {
			return &domain.InsufficientStockError{
				ProductID: l.ProductID,
				Requested: l.Quantity,
				Available: p.Stock,
			}
		}
	}
	return nil
}

func validatePurchase(userID string, lines []domain.PurchaseLine) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	if len(lines) == 0 {
		return fmt.Errorf("%w: at least one item is required", domain.ErrInvalidArgument)
	}
	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		if l.ProductID == "" {
			return fmt.Errorf("%w: product id is required", domain.ErrInvalidArgument)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for product %s must be positive", domain.ErrInvalidArgument, l.ProductID)
		}
		if _, dup := seen[l.ProductID]; dup {
			return fmt.Errorf("%w: duplicate product %s in items", domain.ErrInvalidArgument, l.ProductID)
		}
		seen[l.ProductID] = struct{}{}
	}
	return nil
}
