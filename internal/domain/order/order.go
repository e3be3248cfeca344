package order

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrNotFound        = errors.New("order: not found")
	ErrConflict        = errors.New("order: concurrent modification")
	ErrInvalidQuantity = errors.New("order: quantity must be greater than zero")
	ErrInvalidAmount   = errors.New("order: amount must be zero or greater")
	ErrNoLines         = errors.New("order: at least one line is required")
	ErrMissingProduct  = errors.New("order: line product id is required")
	ErrMissingUser     = errors.New("order: user id is required")
)

// Line is an immutable order item; Name and Price are snapshots taken at checkout.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
	Name      string `json:"name"`
}

// Customer carries the delivery details collected at checkout.
type Customer struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Address  string `json:"address"`
	Ward     string `json:"ward,omitempty"`
	District string `json:"district,omitempty"`
	Province string `json:"province,omitempty"`
	Note     string `json:"note,omitempty"`
}

type Order struct {
	ID                string
	UserID            string
	IdempotencyKey    string
	Total             int64
	PaymentMethod     PaymentMethod
	Status            Status
	InventoryReserved bool
	Customer          Customer
	Lines             []Line
	PaymentURL        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// New builds a pending order. Lines for the same product are merged and
// sorted by product id so every caller walks them in the same order.
// A zero total is computed from the lines.
func New(id, userID string, method PaymentMethod, customer Customer, lines []Line, total int64) (*Order, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	if method != PaymentCOD && method != PaymentOnline {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, method)
	}
	if total < 0 {
		return nil, ErrInvalidAmount
	}
	merged, err := NormalizeLines(lines)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		for _, l := range merged {
			total += l.Price * int64(l.Quantity)
		}
	}

	now := time.Now().UTC()
	return &Order{
		ID:            id,
		UserID:        userID,
		Total:         total,
		PaymentMethod: method,
		Status:        StatusPending,
		Customer:      customer,
		Lines:         merged,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// NormalizeLines validates lines, merges duplicates and sorts them by product id.
func NormalizeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, ErrNoLines
	}
	idx := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.ProductID == "" {
			return nil, ErrMissingProduct
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s", ErrInvalidQuantity, l.ProductID)
		}
		if l.Price < 0 {
			return nil, fmt.Errorf("%w: product %s", ErrInvalidAmount, l.ProductID)
		}
		if i, ok := idx[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.ProductID] = len(out)
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// TransitionTo applies a requested status change and reports the inventory
// effect the caller must carry out before persisting.
func (o *Order) TransitionTo(to Status) (Effect, error) {
	if err := CheckTransition(o.Status, to); err != nil {
		return EffectNone, err
	}

	effect := EffectNone
	switch to {
	case StatusCanceled:
		if o.InventoryReserved {
			effect = EffectRelease
		}
	case StatusCompleted:
		if o.InventoryReserved {
			effect = EffectConfirm
		}
	}

	o.Status = to
	if effect != EffectNone {
		o.InventoryReserved = false
	}
	o.touch()
	return effect, nil
}

// FailPayment moves an order whose payment was declined to the terminal
// failed status. It is only reachable before payment has been recorded.
func (o *Order) FailPayment() (Effect, error) {
	switch {
	case o.Status == StatusFailed:
		return EffectNone, fmt.Errorf("%w: %s", ErrNoOpTransition, StatusFailed)
	case o.Status.Terminal():
		return EffectNone, fmt.Errorf("%w: status %s", ErrOrderFinalized, o.Status)
	case o.Status != StatusPending && o.Status != StatusProcessing:
		return EffectNone, &TransitionError{From: o.Status, To: StatusFailed, Allowed: o.Status.Next()}
	}

	effect := EffectNone
	if o.InventoryReserved {
		effect = EffectRelease
		o.InventoryReserved = false
	}
	o.Status = StatusFailed
	o.touch()
	return effect, nil
}

// MarkReserved records that every line now holds a reservation.
func (o *Order) MarkReserved() {
	o.InventoryReserved = true
	o.touch()
}

func (o *Order) SetPaymentURL(url string) {
	o.PaymentURL = url
	o.touch()
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Lines = append([]Line(nil), o.Lines...)
	return &c
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
