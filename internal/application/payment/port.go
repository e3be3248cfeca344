package payment

import (
	"context"

	apporder "github.com/Zhima-Mochi/minishop-reservation/internal/application/order"
)

// OrderTransitions is the part of the order lifecycle a payment result may drive.
type OrderTransitions interface {
	Execute(ctx context.Context, cmd apporder.TransitionInput) (*apporder.TransitionResult, error)
	FailPayment(ctx context.Context, orderID string) (*apporder.TransitionResult, error)
}
