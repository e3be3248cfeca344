package payment

import (
	"context"
	"errors"
)

var (
	ErrLinkFailed       = errors.New("payment: could not create payment link")
	ErrInvalidSignature = errors.New("payment: invalid callback signature")
)

// ResultCodeSuccess is the provider's result code for a captured payment.
const ResultCodeSuccess = 0

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// LinkRequest describes the payment session opened for an order.
type LinkRequest struct {
	OrderID     string
	RequestID   string
	Amount      int64
	Description string
}

// Link is the redirect the shopper follows to pay.
type Link struct {
	OrderID string
	URL     string
}

// Gateway opens payment sessions with the external provider.
type Gateway interface {
	CreateLink(ctx context.Context, req LinkRequest) (Link, error)
}

// Callback is the provider's asynchronous payment result.
type Callback struct {
	OrderID    string
	RequestID  string
	ResultCode int
	Message    string
	Signature  string
}

func (c Callback) Status() Status {
	if c.ResultCode == ResultCodeSuccess {
		return StatusSuccess
	}
	return StatusFailed
}
