package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/rl1809/storefront/internal/core/domain"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/storefront?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	return db
}

func seedUser(t *testing.T, db *sql.DB, name, email string) string {
	id := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, NOW())`,
		id, name, email)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

func seedProduct(t *testing.T, db *sql.DB, name string, priceCents int64, stock int) string {
	id := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO products (id, name, price_cents, stock, created_at, updated_at)
		VALUES (?, ?, ?, ?, NOW(), NOW())`,
		id, name, priceCents, stock)
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return id
}

func TestPlaceOrder_Success(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)

	userID := seedUser(t, db, "Place Success", uuid.NewString()+"@example.com")
	productA := seedProduct(t, db, "Widget A", 500, 10)
	productB := seedProduct(t, db, "Widget B", 250, 5)

	order, err := adapter.PlaceOrder(ctx, userID, []domain.PurchaseLine{
		{ProductID: productA, Quantity: 2},
		{ProductID: productB, Quantity: 3},
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	// Total from prices read inside the transaction.
	if order.TotalCents != 2*500+3*250 {
		t.Errorf("expected total 1750, got %d", order.TotalCents)
	}
	if len(order.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(order.Lines))
	}

	// Line total must match the order total exactly.
	var lineSum int64
	for _, l := range order.Lines {
		lineSum += l.UnitPriceCents * int64(l.Quantity)
	}
	if lineSum != order.TotalCents {
		t.Errorf("line sum %d != order total %d", lineSum, order.TotalCents)
	}

	// Stock decremented per line.
	var stockA, stockB int
	db.QueryRow(`SELECT stock FROM products WHERE id = ?`, productA).Scan(&stockA)
	db.QueryRow(`SELECT stock FROM products WHERE id = ?`, productB).Scan(&stockB)
	if stockA != 8 {
		t.Errorf("expected stock 8 for product A, got %d", stockA)
	}
	if stockB != 2 {
		t.Errorf("expected stock 2 for product B, got %d", stockB)
	}
}

func TestPlaceOrder_PriceSnapshotSurvivesPriceChange(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)

	userID := seedUser(t, db, "Snapshot", uuid.NewString()+"@example.com")
	productID := seedProduct(t, db, "Snapshot Widget", 1000, 10)

	order, err := adapter.PlaceOrder(ctx, userID, []domain.PurchaseLine{
		{ProductID: productID, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}

	// Change the product price after the order committed.
	if _, err := db.Exec(`UPDATE products SET price_cents = 9999 WHERE id = ?`, productID); err != nil {
		t.Fatalf("price update: %v", err)
	}

	var snapshot int64
	db.QueryRow(`SELECT unit_price_cents FROM order_lines WHERE order_id = ?`, order.ID).Scan(&snapshot)
	if snapshot != 1000 {
		t.Errorf("expected snapshot price 1000, got %d", snapshot)
	}
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)

	userID := seedUser(t, db, "No Stock", uuid.NewString()+"@example.com")
	productID := seedProduct(t, db, "Scarce Widget", 500, 1)

	_, err := adapter.PlaceOrder(ctx, userID, []domain.PurchaseLine{
		{ProductID: productID, Quantity: 2},
	})

	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got: %v", err)
	}
	if stockErr.Available != 1 {
		t.Errorf("expected available 1, got %d", stockErr.Available)
	}

	// Nothing committed.
	var count int
	db.QueryRow(`SELECT COUNT(*) FROM orders WHERE user_id = ?`, userID).Scan(&count)
	if count != 0 {
		t.Errorf("expected no orders, got %d", count)
	}
	var stock int
	db.QueryRow(`SELECT stock FROM products WHERE id = ?`, productID).Scan(&stock)
	if stock != 1 {
		t.Errorf("expected stock unchanged at 1, got %d", stock)
	}
}

func TestPlaceOrder_MultiLineAbortLeavesNoPartialState(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)

	userID := seedUser(t, db, "Partial", uuid.NewString()+"@example.com")
	okProduct := seedProduct(t, db, "In Stock", 500, 10)
	emptyProduct := seedProduct(t, db, "Sold Out", 500, 0)

	_, err := adapter.PlaceOrder(ctx, userID, []domain.PurchaseLine{
		{ProductID: okProduct, Quantity: 1},
		{ProductID: emptyProduct, Quantity: 1},
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got: %v", err)
	}

	// The in-stock product must be untouched.
	var stock int
	db.QueryRow(`SELECT stock FROM products WHERE id = ?`, okProduct).Scan(&stock)
	if stock != 10 {
		t.Errorf("expected stock 10, got %d", stock)
	}
	var count int
	db.QueryRow(`SELECT COUNT(*) FROM orders WHERE user_id = ?`, userID).Scan(&count)
	if count != 0 {
		t.Errorf("expected no orders, got %d", count)
	}
}

func TestPlaceOrder_UserNotFound(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	adapter := NewMySQLAdapter(db)
	productID := seedProduct(t, db, "Orphan Widget", 500, 10)

	_, err := adapter.PlaceOrder(context.Background(), uuid.NewString(), []domain.PurchaseLine{
		{ProductID: productID, Quantity: 1},
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestPlaceOrder_ConcurrentLastUnit(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)

	userID := seedUser(t, db, "Racer", uuid.NewString()+"@example.com")
	productID := seedProduct(t, db, "Last Unit", 500, 1)

	var successCount, stockFailCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := adapter.PlaceOrder(ctx, userID, []domain.PurchaseLine{
				{ProductID: productID, Quantity: 1},
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				stockFailCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 1 || stockFailCount.Load() != 1 {
		t.Errorf("expected 1 success and 1 stock failure, got %d/%d",
			successCount.Load(), stockFailCount.Load())
	}

	var stock int
	db.QueryRow(`SELECT stock FROM products WHERE id = ?`, productID).Scan(&stock)
	if stock != 0 {
		t.Errorf("expected final stock 0, got %d", stock)
	}
}

func TestListOrders_PaginationAndSearch(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)

	// Unique marker so the search filter isolates this test's data.
	marker := "listtest-" + uuid.NewString()[:8]
	userID := seedUser(t, db, "Lister "+marker, marker+"@example.com")
	productID := seedProduct(t, db, "Listed Widget", 100, 100)

	for i := 0; i < 12; i++ {
		if _, err := adapter.PlaceOrder(ctx, userID, []domain.PurchaseLine{
			{ProductID: productID, Quantity: 1},
		}); err != nil {
			t.Fatalf("seed order %d: %v", i, err)
		}
	}

	orders, total, err := adapter.ListOrders(ctx, 1, 5, marker)
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if total != 12 {
		t.Errorf("expected total 12, got %d", total)
	}
	if len(orders) != 5 {
		t.Errorf("expected 5 orders on page 1, got %d", len(orders))
	}

	// Newest first.
	for i := 1; i < len(orders); i++ {
		if orders[i].CreatedAt.After(orders[i-1].CreatedAt) {
			t.Errorf("orders not sorted newest-first at index %d", i)
		}
	}

	// Lines and user come back materialized.
	if len(orders) > 0 {
		if len(orders[0].Lines) != 1 {
			t.Errorf("expected 1 line, got %d", len(orders[0].Lines))
		}
		if orders[0].User == nil || orders[0].User.Email != marker+"@example.com" {
			t.Error("expected owning user materialized")
		}
	}

	// Search is case-insensitive.
	_, total, err = adapter.ListOrders(ctx, 1, 5, "LISTER "+marker)
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if total != 12 {
		t.Errorf("expected case-insensitive match, got total %d", total)
	}

	// Last page is a partial page.
	orders, _, err = adapter.ListOrders(ctx, 3, 5, marker)
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if len(orders) != 2 {
		t.Errorf("expected 2 orders on page 3, got %d", len(orders))
	}
}

func TestListOrders_NoMatches(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	adapter := NewMySQLAdapter(db)

	orders, total, err := adapter.ListOrders(context.Background(), 1, 10, "no-such-user-"+uuid.NewString())
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if total != 0 || len(orders) != 0 {
		t.Errorf("expected empty result, got total %d, %d orders", total, len(orders))
	}
}

func TestGetProducts_MissingIDsAbsent(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	adapter := NewMySQLAdapter(db)
	productID := seedProduct(t, db, "Lookup Widget", 300, 4)

	products, err := adapter.GetProducts(context.Background(), []string{productID, uuid.NewString()})
	if err != nil {
		t.Fatalf("GetProducts failed: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(products))
	}
	if products[0].ID != productID || products[0].Stock != 4 {
		t.Errorf("unexpected product: %+v", products[0])
	}
}

func TestGetUser_NotFound(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	adapter := NewMySQLAdapter(db)

	_, err := adapter.GetUser(context.Background(), uuid.NewString())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}
