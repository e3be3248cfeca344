package inventory

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("inventory: product not found")
	ErrInvalidQuantity    = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock  = errors.New("inventory: insufficient stock")
	ErrStockBelowReserved = errors.New("inventory: stock cannot drop below reserved quantity")
)

// InsufficientStockError names the product a reservation could not be served from.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// Product holds the two counters of a single product.
// Stock is owned quantity not yet sold; Reserved is held by unconfirmed orders.
type Product struct {
	ID        string
	Stock     int
	Reserved  int
	UpdatedAt time.Time
}

func NewProduct(id string, stock int) (*Product, error) {
	if stock < 0 {
		return nil, ErrInvalidQuantity
	}
	return &Product{
		ID:        id,
		Stock:     stock,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

func (p *Product) Available() int { return p.Stock - p.Reserved }

// Reserve holds qty units if enough are available.
func (p *Product) Reserve(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if avail := p.Available(); avail < qty {
		return &InsufficientStockError{ProductID: p.ID, Requested: qty, Available: avail}
	}
	p.Reserved += qty
	p.touch()
	return nil
}

// Release returns up to qty held units to availability and reports how many were released.
func (p *Product) Release(qty int) int {
	n := min(max(qty, 0), p.Reserved)
	if n == 0 {
		return 0
	}
	p.Reserved -= n
	p.touch()
	return n
}

// Confirm turns up to qty held units into a sale and reports how many were confirmed.
func (p *Product) Confirm(qty int) int {
	n := min(max(qty, 0), p.Reserved)
	if n == 0 {
		return 0
	}
	p.Stock -= n
	p.Reserved -= n
	p.touch()
	return n
}

// Restore puts back a hold removed by Release. It refuses to overcommit stock.
func (p *Product) Restore(qty int) error {
	if qty <= 0 {
		return nil
	}
	if avail := p.Available(); avail < qty {
		return &InsufficientStockError{ProductID: p.ID, Requested: qty, Available: avail}
	}
	p.Reserved += qty
	p.touch()
	return nil
}

// Unconfirm reverts a Confirm of qty units.
func (p *Product) Unconfirm(qty int) {
	if qty <= 0 {
		return
	}
	p.Stock += qty
	p.Reserved += qty
	p.touch()
}

// SetStock replaces the owned quantity, keeping Reserved <= Stock.
func (p *Product) SetStock(stock int) error {
	if stock < 0 {
		return ErrInvalidQuantity
	}
	if stock < p.Reserved {
		return fmt.Errorf("%w: reserved %d, requested stock %d", ErrStockBelowReserved, p.Reserved, stock)
	}
	p.Stock = stock
	p.touch()
	return nil
}

func (p *Product) Snapshot() Availability {
	avail := p.Available()
	return Availability{
		ProductID:   p.ID,
		Stock:       p.Stock,
		Reserved:    p.Reserved,
		Available:   avail,
		IsAvailable: avail > 0,
	}
}

func (p *Product) touch() {
	p.UpdatedAt = time.Now().UTC()
}

// Availability is a read-only snapshot of a product's counters.
type Availability struct {
	ProductID   string `json:"product_id"`
	Stock       int    `json:"stock"`
	Reserved    int    `json:"reserved"`
	Available   int    `json:"available"`
	IsAvailable bool   `json:"is_available"`
}
