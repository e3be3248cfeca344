package httppresentation

import (
	"errors"
	"net/http"

	"github.com/Zhima-Mochi/minishop-reservation/internal/application"
	appcheckout "github.com/Zhima-Mochi/minishop-reservation/internal/application/checkout"
	apporder "github.com/Zhima-Mochi/minishop-reservation/internal/application/order"
	dominventory "github.com/Zhima-Mochi/minishop-reservation/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-reservation/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-reservation/internal/pkg/saga"
)

type errorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Allowed []domorder.Status `json:"allowed,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

// writeDomainError maps use case errors to a status and a stable code.
// Compensation failures are checked first: they wrap the error that
// triggered the rollback.
func writeDomainError(w http.ResponseWriter, err error) {
	var terr *domorder.TransitionError
	switch {
	case errors.Is(err, saga.ErrCompensationFailed):
		writeError(w, http.StatusInternalServerError, "compensation_failed", err)
	case errors.As(err, &terr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   err.Error(),
			Code:    "illegal_transition",
			Allowed: terr.Allowed,
		})
	case errors.Is(err, domorder.ErrOrderFinalized):
		writeError(w, http.StatusBadRequest, "order_finalized", err)
	case errors.Is(err, domorder.ErrNoOpTransition):
		writeError(w, http.StatusBadRequest, "noop_transition", err)
	case errors.Is(err, domorder.ErrUnknownStatus):
		writeError(w, http.StatusBadRequest, "unknown_status", err)
	case errors.Is(err, dominventory.ErrInsufficientStock):
		writeError(w, http.StatusBadRequest, "insufficient_stock", err)
	case errors.Is(err, application.ErrValidation),
		errors.Is(err, domorder.ErrUnknownPaymentMethod),
		errors.Is(err, domorder.ErrInvalidQuantity),
		errors.Is(err, domorder.ErrInvalidAmount),
		errors.Is(err, domorder.ErrNoLines),
		errors.Is(err, domorder.ErrMissingProduct),
		errors.Is(err, domorder.ErrMissingUser),
		errors.Is(err, dominventory.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, "validation", err)
	case errors.Is(err, domorder.ErrNotFound),
		errors.Is(err, dominventory.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, apporder.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, dominventory.ErrStockBelowReserved):
		writeError(w, http.StatusConflict, "stock_below_reserved", err)
	case errors.Is(err, appcheckout.ErrPaymentLinkFailed):
		writeError(w, http.StatusBadGateway, "payment_link_failed", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal", err)
	}
}
