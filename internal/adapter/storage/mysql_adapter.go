package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/rl1809/storefront/internal/core/domain"
)

// MySQL error numbers treated as retryable conflicts.
const (
	mysqlErrLockDeadlock    = 1213
	mysqlErrLockWaitTimeout = 1205
)

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// PlaceOrder runs the whole placement in one transaction: lock the product
// rows in ascending id order, validate stock under lock, compute the total
// from prices read inside the same transaction, insert the order and its
// lines, and decrement stock with a guard. Either everything commits or
// nothing is visible.
func (m *MySQLAdapter) PlaceOrder(ctx context.Context, userID string, lines []domain.PurchaseLine) (domain.Order, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	user, err := queryUser(ctx, tx, userID)
	if err != nil {
		return domain.Order{}, err
	}

	quantities := make(map[string]int, len(lines))
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		quantities[l.ProductID] = l.Quantity
		ids = append(ids, l.ProductID)
	}
	// Lock in ascending id order so concurrent placements sharing products
	// cannot deadlock each other.
	sort.Strings(ids)

	products, err := lockProducts(ctx, tx, ids)
	if err != nil {
		return domain.Order{}, mapConflict(err)
	}

	var total int64
	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			return domain.Order{}, fmt.Errorf("product %s: %w", id, domain.ErrNotFound)
		}
		qty := quantities[id]
		if p.Stock < qty {
			return domain.Order{}, &domain.InsufficientStockError{
				ProductID: id,
				Requested: qty,
				Available: p.Stock,
			}
		}
		total += p.PriceCents * int64(qty)
	}

	order := domain.Order{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		User:       &user,
		TotalCents: total,
		Status:     domain.OrderStatusCreated,
		CreatedAt:  time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, total_cents, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		order.ID, order.UserID, order.TotalCents, order.Status, order.CreatedAt,
	)
	if err != nil {
		return domain.Order{}, mapConflict(fmt.Errorf("insert order: %w", err))
	}

	for _, l := range lines {
		p := products[l.ProductID]
		line := domain.OrderLine{
			ID:             uuid.NewString(),
			OrderID:        order.ID,
			ProductID:      p.ID,
			ProductName:    p.Name,
			Quantity:       l.Quantity,
			UnitPriceCents: p.PriceCents,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_lines (id, order_id, product_id, quantity, unit_price_cents)
			VALUES (?, ?, ?, ?, ?)`,
			line.ID, line.OrderID, line.ProductID, line.Quantity, line.UnitPriceCents,
		)
		if err != nil {
			return domain.Order{}, mapConflict(fmt.Errorf("insert order line: %w", err))
		}
		order.Lines = append(order.Lines, line)
	}

	for _, id := range ids {
		qty := quantities[id]
		result, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - ?, updated_at = NOW()
			WHERE id = ? AND stock >= ?`,
			qty, id, qty,
		)
		if err != nil {
			return domain.Order{}, mapConflict(fmt.Errorf("decrement stock: %w", err))
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			// Stock was validated under lock above, so a failed guard means a
			// concurrent writer slipped past the isolation mechanism.
			return domain.Order{}, fmt.Errorf("decrement stock for product %s: %w", id, domain.ErrConflict)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Order{}, mapConflict(fmt.Errorf("commit: %w", err))
	}

	return order, nil
}

// ListOrders pages through orders newest first. search matches the owning
// user's name or email, case-insensitively; empty search matches everything.
func (m *MySQLAdapter) ListOrders(ctx context.Context, page, pageSize int, search string) ([]domain.Order, int, error) {
	filter := `
		FROM orders o
		JOIN users u ON u.id = o.user_id
		WHERE (? = '' OR LOWER(u.name) LIKE ? OR LOWER(u.email) LIKE ?)`
	pattern := "%" + strings.ToLower(search) + "%"

	var total int
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*)`+filter, search, pattern, pattern).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}
	if total == 0 {
		return []domain.Order{}, 0, nil
	}

	offset := (page - 1) * pageSize
	rows, err := m.db.QueryContext(ctx, `
		SELECT o.id, o.user_id, o.total_cents, o.status, o.created_at,
		       u.name, u.email`+filter+`
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT ? OFFSET ?`,
		search, pattern, pattern, pageSize, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, pageSize)
	for rows.Next() {
		var o domain.Order
		var u domain.User
		if err := rows.Scan(&o.ID, &o.UserID, &o.TotalCents, &o.Status, &o.CreatedAt, &u.Name, &u.Email); err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		u.ID = o.UserID
		o.User = &u
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate orders: %w", err)
	}

	if err := m.loadLines(ctx, orders); err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

func (m *MySQLAdapter) loadLines(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	index := make(map[string]*domain.Order, len(orders))
	args := make([]any, 0, len(orders))
	for i := range orders {
		index[orders[i].ID] = &orders[i]
		args = append(args, orders[i].ID)
	}
	placeholders := strings.Repeat("?,", len(orders))
	placeholders = placeholders[:len(placeholders)-1]

	rows, err := m.db.QueryContext(ctx, `
		SELECT l.id, l.order_id, l.product_id, p.name, l.quantity, l.unit_price_cents
		FROM order_lines l
		JOIN products p ON p.id = l.product_id
		WHERE l.order_id IN (`+placeholders+`)
		ORDER BY l.order_id, l.id`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName, &l.Quantity, &l.UnitPriceCents); err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		if o, ok := index[l.OrderID]; ok {
			o.Lines = append(o.Lines, l)
		}
	}
	return rows.Err()
}

func (m *MySQLAdapter) GetUser(ctx context.Context, id string) (domain.User, error) {
	return queryUser(ctx, m.db, id)
}

func (m *MySQLAdapter) GetProducts(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}

	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, price_cents, stock, created_at, updated_at
		FROM products WHERE id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryUser(ctx context.Context, q queryer, id string) (domain.User, error) {
	var u domain.User
	err := q.QueryRowContext(ctx, `
		SELECT id, name, email, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func lockProducts(ctx context.Context, tx *sql.Tx, ids []string) (map[string]domain.Product, error) {
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, price_cents, stock
		FROM products
		WHERE id IN (`+placeholders+`)
		ORDER BY id
		FOR UPDATE`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	products := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products[p.ID] = p
	}
	return products, rows.Err()
}

// mapConflict rewrites MySQL lock errors into the retryable conflict error.
func mapConflict(err error) error {
	var merr *mysql.MySQLError
	if errors.As(err, &merr) {
		if merr.Number == mysqlErrLockDeadlock || merr.Number == mysqlErrLockWaitTimeout {
			return fmt.Errorf("%v: %w", err, domain.ErrConflict)
		}
	}
	return err
}
