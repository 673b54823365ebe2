package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
)

const (
	mysqlDSN      = "root:root@tcp(localhost:3306)/storefront?parseTime=true"
	redisAddr     = "localhost:6379"
	userID        = "loadtest-user"
	productID     = "loadtest-product"
	initialStock  = 20
	totalRequests = 50
)

// dropNotifier swallows confirmations; delivery is not under test here.
type dropNotifier struct{}

func (dropNotifier) Enqueue(string, any) bool { return true }

func main() {
	ctx := context.Background()

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	// Seed: one user, one product with limited stock.
	db.ExecContext(ctx, `DELETE FROM order_lines WHERE product_id = ?`, productID)
	db.ExecContext(ctx, `DELETE FROM orders WHERE user_id = ?`, userID)
	if _, err := db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, created_at) VALUES (?, 'Load Test', 'loadtest@example.com', NOW())
		ON DUPLICATE KEY UPDATE name = VALUES(name)`, userID); err != nil {
		log.Fatalf("seed user: %v", err)
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO products (id, name, price_cents, stock, created_at, updated_at)
		VALUES (?, 'Load Test Item', 1999, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE stock = VALUES(stock)`, productID, initialStock); err != nil {
		log.Fatalf("seed product: %v", err)
	}

	logger := zap.NewNop()
	mysqlAdapter := storage.NewMySQLAdapter(db)
	redisAdapter := storage.NewRedisAdapter(rdb)
	versions := service.NewVersionCounter(redisAdapter, logger)
	svc := service.NewOrderService(mysqlAdapter, redisAdapter, versions, dropNotifier{}, logger)

	var successCount, stockFailCount, otherFailCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := svc.PlaceOrder(ctx, userID, []domain.PurchaseLine{
				{ProductID: productID, Quantity: 1},
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				stockFailCount.Add(1)
			default:
				otherFailCount.Add(1)
				log.Printf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	stockFail := stockFailCount.Load()

	fmt.Println("========== LOAD TEST RESULTS ==========")
	fmt.Printf("Initial Stock:      %d\n", initialStock)
	fmt.Printf("Total Requests:     %d\n", totalRequests)
	fmt.Printf("Successful:         %d\n", success)
	fmt.Printf("Insufficient Stock: %d\n", stockFail)
	fmt.Printf("Other Failures:     %d\n", otherFailCount.Load())
	fmt.Printf("Duration:           %v\n", elapsed)
	fmt.Println("=======================================")

	if success == int32(initialStock) && stockFail == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: exactly %d orders succeeded, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: expected %d success/%d rejected, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, stockFail)
	}

	var finalStock int
	db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = ?`, productID).Scan(&finalStock)
	fmt.Printf("Final Stock: %d\n", finalStock)

	if finalStock == 0 {
		fmt.Println("PASS: stock depleted to 0")
	} else {
		fmt.Printf("FAIL: expected stock 0, got %d\n", finalStock)
	}
}
