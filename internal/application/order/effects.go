package order

import (
	"context"
	"fmt"

	dominventory "github.com/Zhima-Mochi/minishop-reservation/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-reservation/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability"
)

// ApplyEffect carries out the inventory side of a status change for every
// line of o. It must run inside a unit of work so a failure part way leaves
// no line touched.
func ApplyEffect(ctx context.Context, ledger dominventory.Ledger, o *domorder.Order, effect domorder.Effect, ops observability.Counter) error {
	if effect == domorder.EffectNone {
		return nil
	}
	for _, l := range o.Lines {
		var (
			op  string
			err error
		)
		switch effect {
		case domorder.EffectRelease:
			op = dominventory.OpRelease
			_, err = ledger.Release(ctx, l.ProductID, l.Quantity)
		case domorder.EffectConfirm:
			op = dominventory.OpConfirm
			_, err = ledger.Confirm(ctx, l.ProductID, l.Quantity)
		default:
			return fmt.Errorf("order %s: unknown effect %d", o.ID, effect)
		}

		if ops != nil {
			ops.Add(1, observability.L("op", op), observability.L("outcome", observability.Outcome(err)))
		}
		if err != nil {
			return fmt.Errorf("order %s: %s %s: %w", o.ID, op, l.ProductID, err)
		}
	}
	return nil
}
