package domain

import "time"

type OrderStatus string

const (
	OrderStatusCreated OrderStatus = "created"
)

type Order struct {
	ID         string
	UserID     string
	User       *User
	TotalCents int64
	Status     OrderStatus
	CreatedAt  time.Time
	Lines      []OrderLine
}

// OrderLine snapshots the product's unit price at order time; later price
// changes never touch it.
type OrderLine struct {
	ID             string
	OrderID        string
	ProductID      string
	ProductName    string
	Quantity       int
	UnitPriceCents int64
}

// PurchaseLine is one requested (product, quantity) pair in a placement.
type PurchaseLine struct {
	ProductID string
	Quantity  int
}

// OrderPage is one computed listing page plus its pagination metadata. It is
// also the cache value, serialized as JSON.
type OrderPage struct {
	Orders     []Order `json:"orders"`
	Total      int     `json:"total"`
	TotalPages int     `json:"totalPages"`
	Page       int     `json:"page"`
	PageSize   int     `json:"pageSize"`
}
