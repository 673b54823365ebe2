package domain

import "time"

// Product prices are integer cents to keep arithmetic exact.
type Product struct {
	ID         string
	Name       string
	PriceCents int64
	Stock      int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
