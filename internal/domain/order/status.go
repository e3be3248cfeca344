package order

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownStatus        = errors.New("order: unknown status")
	ErrUnknownPaymentMethod = errors.New("order: unknown payment method")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusPaid       Status = "paid"
	StatusShipping   Status = "shipping"
	StatusCompleted  Status = "completed"
	StatusCanceled   Status = "canceled"
	StatusFailed     Status = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusProcessing,
	StatusPaid,
	StatusShipping,
	StatusCompleted,
	StatusCanceled,
	StatusFailed,
}

var statusAliases = map[string]Status{
	"cancelled": StatusCanceled,
	"delivered": StatusCompleted,
}

// ParseStatus canonicalizes an externally supplied status. It is the only
// place synonyms are resolved.
func ParseStatus(raw string) (Status, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := statusAliases[s]; ok {
		return alias, nil
	}
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return st, nil
}

func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) String() string { return string(s) }

type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "cod"
	PaymentOnline PaymentMethod = "online"
)

var paymentAliases = map[string]PaymentMethod{
	"cod":              PaymentCOD,
	"cash":             PaymentCOD,
	"cash_on_delivery": PaymentCOD,
	"online":           PaymentOnline,
	"momo":             PaymentOnline,
}

func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	if m, ok := paymentAliases[key]; ok {
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, raw)
}
