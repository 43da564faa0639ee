package domain

import "context"

// OrderKind selects the time-in-force policy for replica orders. Both kinds
// are aggressive: FOK fully executes or cancels entirely, FAK executes what
// it can and cancels the remainder.
type OrderKind string

const (
	OrderKindFOK OrderKind = "FOK"
	OrderKindFAK OrderKind = "FAK"
)

// OrderStatus tracks a submitted replica order through its lifecycle.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the status ends the confirmation loop.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired, OrderStatusRejected:
		return true
	}
	return false
}

// ReplicaOrderSpec is the concrete order derived from an accepted SourceTrade
// by the risk gate. It lives only for the single execution attempt.
type ReplicaOrderSpec struct {
	Asset      string
	Side       Side
	Size       float64
	WorstPrice float64 // worst acceptable execution price
	Kind       OrderKind
}

// SubmitResult is the gateway's response to an order submission. Aggressive
// order kinds commonly fill synchronously, in which case SyncFillSize and
// SyncFillPrice carry the executed quantity and no confirmation polling is
// needed.
type SubmitResult struct {
	Success       bool
	OrderID       string
	ErrorMessage  string
	SyncFillSize  float64
	SyncFillPrice float64
}

// OrderState is a point-in-time view of a submitted order.
type OrderState struct {
	Status       OrderStatus
	FilledSize   float64
	OriginalSize float64
	AvgFillPrice float64
}

// OrderGateway is the order-submission collaborator the executor depends on.
type OrderGateway interface {
	SubmitOrder(ctx context.Context, spec ReplicaOrderSpec) (SubmitResult, error)
	OrderStatus(ctx context.Context, orderID string) (OrderState, error)
	// CancelOrder is best-effort; callers may ignore the returned error.
	CancelOrder(ctx context.Context, orderID string) error
}
