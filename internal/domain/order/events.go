package order

import "time"

// OrderCreatedEvent is emitted once checkout has reserved stock for every line.
type OrderCreatedEvent struct {
	OrderID       string
	UserID        string
	PaymentMethod PaymentMethod
	Total         int64
	Lines         []Line
	OccurredAt    time.Time
}

func (OrderCreatedEvent) EventName() string { return "order.created" }

func NewOrderCreatedEvent(o *Order) OrderCreatedEvent {
	return OrderCreatedEvent{
		OrderID:       o.ID,
		UserID:        o.UserID,
		PaymentMethod: o.PaymentMethod,
		Total:         o.Total,
		Lines:         append([]Line(nil), o.Lines...),
		OccurredAt:    time.Now().UTC(),
	}
}

// OrderStatusChangedEvent is emitted after every persisted status change.
type OrderStatusChangedEvent struct {
	OrderID    string
	From       Status
	To         Status
	Effect     string
	OccurredAt time.Time
}

func (OrderStatusChangedEvent) EventName() string { return "order.status_changed" }

func NewOrderStatusChangedEvent(o *Order, from Status, effect Effect) OrderStatusChangedEvent {
	return OrderStatusChangedEvent{
		OrderID:    o.ID,
		From:       from,
		To:         o.Status,
		Effect:     effect.String(),
		OccurredAt: time.Now().UTC(),
	}
}

// OrderCompletedEvent drives loyalty accrual.
type OrderCompletedEvent struct {
	OrderID    string
	UserID     string
	Total      int64
	OccurredAt time.Time
}

func (OrderCompletedEvent) EventName() string { return "order.completed" }

func NewOrderCompletedEvent(o *Order) OrderCompletedEvent {
	return OrderCompletedEvent{
		OrderID:    o.ID,
		UserID:     o.UserID,
		Total:      o.Total,
		OccurredAt: time.Now().UTC(),
	}
}
