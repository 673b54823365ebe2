package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
)

const (
	listingTTL      = 30 * time.Second
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListOrders resolves a listing through the version-fingerprinted cache,
// falling back to the store on miss and repopulating the cache. The cache is
// a pure optimization: any cache fault degrades silently to direct store
// access and never fails the request.
func (s *OrderService) ListOrders(ctx context.Context, page, pageSize int, search string) (domain.OrderPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	search = strings.TrimSpace(search)

	version := s.versions.Current(ctx)
	key := listingKey(version, page, pageSize, search)

	if cached, ok := s.lookupPage(ctx, key); ok {
		return cached, nil
	}

	orders, total, err := s.db.ListOrders(ctx, page, pageSize, search)
	if err != nil {
		return domain.OrderPage{}, fmt.Errorf("list orders: %w", err)
	}

	result := domain.OrderPage{
		Orders:     orders,
		Total:      total,
		TotalPages: totalPages(total, pageSize),
		Page:       page,
		PageSize:   pageSize,
	}

	s.storePage(ctx, key, result)
	return result, nil
}

// listingKey is the deterministic cache fingerprint. Keys from older versions
// are simply never looked up again and age out via the TTL.
func listingKey(version int64, page, pageSize int, search string) string {
	return fmt.Sprintf("orders:list:v%d:p%d:s%d:q%s", version, page, pageSize, strings.ToLower(search))
}

func totalPages(total, pageSize int) int {
	pages := (total + pageSize - 1) / pageSize
	if pages < 1 {
		pages = 1
	}
	return pages
}

func (s *OrderService) lookupPage(ctx context.Context, key string) (domain.OrderPage, bool) {
	payload, ok, err := s.cache.GetPage(ctx, key)
	if err != nil {
		s.logger.Warn("cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
		return domain.OrderPage{}, false
	}
	if !ok {
		return domain.OrderPage{}, false
	}

	var page domain.OrderPage
	if err := json.Unmarshal(payload, &page); err != nil {
		s.logger.Warn("cache entry unreadable, treating as miss", zap.String("key", key), zap.Error(err))
		return domain.OrderPage{}, false
	}
	return page, true
}

func (s *OrderService) storePage(ctx context.Context, key string, page domain.OrderPage) {
	payload, err := json.Marshal(page)
	if err != nil {
		s.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := s.cache.SetPage(ctx, key, payload, listingTTL); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
